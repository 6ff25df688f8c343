package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hello there"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	out, err := p.Chat(context.Background(), Request{
		System:      "be kind",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens:   50,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("unexpected reply %q", out)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected request messages %+v", got.Messages)
	}
	if got.Options == nil || got.Options.NumPredict != 50 || got.Stream {
		t.Fatalf("unexpected options %+v stream=%v", got.Options, got.Stream)
	}
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOpenRouterProvider_Chat(t *testing.T) {
	var auth, title string
	var got openRouterChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"routed"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL+"/", "key", "openrouter/auto", "", "avatar-coach")
	out, err := p.Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}, MaxTokens: 40})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "routed" || auth != "Bearer key" || title != "avatar-coach" {
		t.Fatalf("unexpected: out=%q auth=%q title=%q", out, auth, title)
	}
	if got.MaxTokens != 40 || got.Model != "openrouter/auto" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenRouterProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterProvider("", "", "m", "", "").Chat(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"from openai"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", "gpt-4o-mini", srv.URL+"/v1")
	out, err := p.Chat(context.Background(), Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "from openai" {
		t.Fatalf("unexpected reply %q", out)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", got["messages"])
	}
}

func TestOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "", "").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestAnthropicProvider_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude","content":[{"type":"text","text":"from "},{"type":"text","text":"claude"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude-test", srv.URL)
	out, err := p.Chat(context.Background(), Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "yo"}, {Role: RoleUser, Content: "again"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "from claude" {
		t.Fatalf("unexpected reply %q", out)
	}
	if got["system"] == nil || got["max_tokens"] != float64(1024) {
		t.Fatalf("unexpected request %v", got)
	}
}

func TestAnthropicProvider_RequiresKey(t *testing.T) {
	_, err := NewAnthropicProvider("", "", "").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}
