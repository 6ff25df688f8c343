package ai

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicProvider calls the Anthropic Messages API through the go-anthropic SDK.
type AnthropicProvider struct {
	client *anthropic.Client
	apiKey string
	model  string
}

func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey, opts...),
		apiKey: apiKey,
		model:  model,
	}
}

func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return "", errors.New("anthropic: api key is required")
	}

	msgs := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantTextMessage(m.Content))
		case RoleSystem:
			// system text travels in the request's System field
			continue
		default:
			msgs = append(msgs, anthropic.NewUserTextMessage(m.Content))
		}
	}
	if len(msgs) == 0 {
		return "", errors.New("anthropic: no messages")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	mreq := anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  msgs,
		System:    req.System,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		mreq.Temperature = &t
	}

	resp, err := p.client.CreateMessages(ctx, mreq)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return b.String(), nil
}
