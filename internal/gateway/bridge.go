package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

// Answerer is the part of the orchestrator the bridge needs.
type Answerer interface {
	Handle(ctx context.Context, req *orchestrator.Request) (*orchestrator.Response, error)
}

// CommandFunc answers a slash command message.
type CommandFunc func(ctx context.Context, msg *InboundMessage) (string, error)

// Bridge hands inbound chat messages to an Answerer and posts each reply
// back to the originating channel.
type Bridge struct {
	gw      *Gateway
	answer  Answerer
	command CommandFunc
	sem     *semaphore.Weighted
	timeout time.Duration
	ctx     context.Context
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewBridge creates a bridge with at most concurrency messages in flight.
// ctx bounds every message the bridge handles.
func NewBridge(ctx context.Context, gw *Gateway, a Answerer, concurrency int, timeout time.Duration, logger *zap.Logger) *Bridge {
	if concurrency <= 0 {
		concurrency = 8
	}
	if timeout <= 0 {
		timeout = orchestrator.DefaultRequestTimeout
	}
	b := &Bridge{
		gw:      gw,
		answer:  a,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		ctx:     ctx,
		logger:  logger,
	}
	gw.SetHandler(b.OnMessage)
	return b
}

// SetCommands routes messages starting with "/" to fn instead of the
// Answerer. Call before the gateway connects.
func (b *Bridge) SetCommands(fn CommandFunc) { b.command = fn }

// OnMessage is the gateway MessageHandler. It returns immediately; the
// message is answered on its own goroutine.
func (b *Bridge) OnMessage(msg *InboundMessage) {
	if msg.Content == "" {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(b.ctx, 1); err != nil {
			return
		}
		defer b.sem.Release(1)
		b.handle(msg)
	}()
}

func (b *Bridge) handle(msg *InboundMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	var text string
	if b.command != nil && isSlashCommand(msg.Content) {
		out, err := b.command(ctx, msg)
		if err != nil {
			b.logger.Warn("gateway command failed",
				zap.String("platform", msg.Platform), zap.Error(err))
			out = "Command failed: " + err.Error()
		}
		text = out
	} else {
		resp, err := b.answer.Handle(ctx, &orchestrator.Request{
			Message: msg.Content,
			UserID:  msg.Platform + ":" + msg.UserID,
		})
		var verr *skill.ValidationError
		switch {
		case err == nil:
			text = resp.Text
		case errors.As(err, &verr):
			text = "I couldn't run that: " + verr.Reason + "."
		default:
			b.logger.Warn("gateway message rejected",
				zap.String("platform", msg.Platform), zap.Error(err))
			return
		}
	}
	if text == "" {
		return
	}

	out := &OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		Content:   text,
		ReplyTo:   msg.ReplyTo,
	}
	sendCtx, sendCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer sendCancel()
	if err := b.gw.Send(sendCtx, out); err != nil {
		b.logger.Error("gateway reply failed",
			zap.String("platform", msg.Platform),
			zap.String("channel", msg.ChannelID),
			zap.Error(err))
	}
}

func isSlashCommand(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) > 1 && s[0] == '/' && s[1] != ' ' && s[1] != '/'
}

// Wait blocks until every in-flight message has been answered.
func (b *Bridge) Wait() { b.wg.Wait() }
