package provider

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

// AnthropicProvider talks to the Messages API. System turns are folded
// into the top-level system field.
type AnthropicProvider struct {
	config ProviderConfig
	http   transport
	logger *zap.Logger
}

func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		config: cfg,
		http: newTransport(cfg, "https://api.anthropic.com/v1", map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		}),
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.config.ID }
func (p *AnthropicProvider) Name() string { return p.config.Name }

func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var reply anthropicResponse
	if err := p.http.post(ctx, "/messages", p.toMessages(req), &reply); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range reply.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	in, out := reply.Usage.InputTokens, reply.Usage.OutputTokens
	p.logger.Debug("anthropic completion",
		zap.String("provider", p.config.ID),
		zap.String("model", reply.Model),
		zap.Int("total_tokens", in+out))

	return &ChatResponse{
		ID:           reply.ID,
		Model:        reply.Model,
		Content:      text.String(),
		FinishReason: reply.StopReason,
		Usage:        Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func (p *AnthropicProvider) toMessages(req *ChatRequest) *anthropicRequest {
	out := &anthropicRequest{
		Model:       p.config.model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = anthropicMaxTokens
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		} else {
			out.Messages = append(out.Messages, m)
		}
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
