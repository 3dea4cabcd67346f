package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned by an empty chain.
var ErrNoProvider = errors.New("no provider configured")

// ChainError collects the failure of every provider in a chain.
type ChainError struct {
	Errs []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("all providers failed: %s", strings.Join(msgs, "; "))
}

func (e *ChainError) Unwrap() []error { return e.Errs }

// Chain tries providers in registration order until one answers.
type Chain struct {
	providers []Provider
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewChain creates an empty provider chain.
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{logger: logger}
}

// Register appends a provider to the chain.
func (c *Chain) Register(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
	c.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Len returns the number of registered providers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.providers)
}

// IDs returns provider IDs in chain order.
func (c *Chain) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID()
	}
	return ids
}

func (c *Chain) ID() string   { return "chain" }
func (c *Chain) Name() string { return strings.Join(c.IDs(), ",") }

// Chat sends req to each provider in turn. The provider list is copied
// under the lock and the calls happen without it.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	c.mu.RLock()
	providers := append([]Provider(nil), c.providers...)
	c.mu.RUnlock()

	if len(providers) == 0 {
		return nil, ErrNoProvider
	}

	var errs []error
	for _, p := range providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		c.logger.Warn("provider failed", zap.String("provider", p.ID()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ChainError{Errs: errs}
}
