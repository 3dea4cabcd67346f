package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// OpenAIProvider talks to the chat completions API and anything that
// speaks it (Ollama, vLLM, Azure-style gateways).
type OpenAIProvider struct {
	config ProviderConfig
	http   transport
	logger *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider. Setting
// Extra["path_model"] to "true" puts the model name into the URL path.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	var headers map[string]string
	if cfg.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	return &OpenAIProvider{
		config: cfg,
		http:   newTransport(cfg, "https://api.openai.com/v1", headers),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := *req
	body.Model = p.config.model(req.Model)

	path := "/chat/completions"
	if p.config.Extra["path_model"] == "true" && body.Model != "" {
		path = "/" + body.Model + path
	}

	var reply openAIChatResponse
	if err := p.http.post(ctx, path, &body, &reply); err != nil {
		return nil, err
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.config.ID)
	}
	p.logger.Debug("openai completion",
		zap.String("provider", p.config.ID),
		zap.String("model", reply.Model),
		zap.Int("total_tokens", reply.Usage.TotalTokens))

	first := reply.Choices[0]
	return &ChatResponse{
		ID:           reply.ID,
		Model:        reply.Model,
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Usage:        reply.Usage,
	}, nil
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}
