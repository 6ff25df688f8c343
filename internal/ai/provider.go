package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Zero MaxTokens/Temperature leave the
// provider defaults in place.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

type Provider interface {
	Chat(ctx context.Context, req Request) (string, error)
}
