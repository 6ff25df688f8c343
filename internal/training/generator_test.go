package training

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/avatar-coach/internal/ai"
)

type staticStrategy struct {
	name string
	res  Result
	err  error
	hits int
}

func (s *staticStrategy) Name() string { return s.name }

func (s *staticStrategy) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	s.hits++
	return s.res, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	a := &staticStrategy{name: "a", err: errors.New("down")}
	b := &staticStrategy{name: "b", res: Result{Text: "from b", Score: 85}}
	c := &staticStrategy{name: "c", res: Result{Text: "from c"}}

	res, err := NewChain(a, b, c).Generate(context.Background(), GenerationInput{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "from b" || res.Strategy != "b" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if a.hits != 1 || b.hits != 1 || c.hits != 0 {
		t.Fatalf("unexpected attempts: a=%d b=%d c=%d", a.hits, b.hits, c.hits)
	}
}

func TestChain_Exhausted(t *testing.T) {
	down := errors.New("down")
	chain := NewChain(&staticStrategy{name: "a", err: down}, &staticStrategy{name: "b", err: down})
	_, err := chain.Generate(context.Background(), GenerationInput{})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, down) {
		t.Fatalf("expected exhausted wrapping cause, got %v", err)
	}
	if names := chain.Strategies(); strings.Join(names, ",") != "a,b" {
		t.Fatalf("unexpected strategy names %v", names)
	}
}

func TestProviderStrategy_ScoreBand(t *testing.T) {
	prov := &fakeProvider{reply: "fine"}
	for _, r := range []int{0, 15} {
		s := &ProviderStrategy{Label: "p", Provider: prov, Rand: func(n int) int {
			if n != 16 {
				t.Fatalf("expected band of 16, got %d", n)
			}
			return r
		}}
		res, err := s.Attempt(context.Background(), GenerationInput{Prompt: "x"})
		if err != nil {
			t.Fatalf("attempt: %v", err)
		}
		if res.Score != 85+r || res.Source != SourcePrimary {
			t.Fatalf("unexpected result %+v", res)
		}
	}
}

func TestProviderStrategy_EmptyCompletionFails(t *testing.T) {
	s := &ProviderStrategy{Label: "p", Provider: &fakeProvider{reply: "   "}}
	if _, err := s.Attempt(context.Background(), GenerationInput{}); err == nil {
		t.Fatalf("expected error for blank completion")
	}
	s = &ProviderStrategy{Label: "p"}
	if _, err := s.Attempt(context.Background(), GenerationInput{}); err == nil {
		t.Fatalf("expected error for missing provider")
	}
}

type slowProvider struct{}

func (slowProvider) Chat(ctx context.Context, _ ai.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSimpleProviderStrategy_Timeout(t *testing.T) {
	s := &SimpleProviderStrategy{Label: "openai", Provider: slowProvider{}, Timeout: 20 * time.Millisecond}
	_, err := s.Attempt(context.Background(), GenerationInput{Message: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSimpleProviderStrategy_UsesShortPrompt(t *testing.T) {
	prov := &fakeProvider{reply: "short answer"}
	s := &SimpleProviderStrategy{Label: "openai", Provider: prov}
	res, err := s.Attempt(context.Background(), GenerationInput{Prompt: "FULL PROMPT", Message: "Is it normal?", AvatarName: "Dr. Sakura"})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if res.Score != 85 || res.Source != SourceSecondary {
		t.Fatalf("unexpected result %+v", res)
	}
	got := prov.last.Messages[0].Content
	if strings.Contains(got, "FULL PROMPT") || !strings.Contains(got, "Is it normal?") || !strings.Contains(got, "Dr. Sakura") {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestFallbackReply(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"I'm so anxious and worried", topics[0].Reply},
		{"How do I do a self-exam?", topics[1].Reply},
		{"My MOTHER had it", topics[2].Reply},
		{"When is my next mammogram", topics[3].Reply},
		{"Does alcohol matter?", topics[4].Reply},
		{"I found a lump, what do I do?", genericFallbackReply},
		{"", genericFallbackReply},
	}
	for _, c := range cases {
		if got := FallbackReply(c.msg); got != c.want {
			t.Errorf("FallbackReply(%q) picked the wrong reply", c.msg)
		}
	}
}

func TestKeywordFallback_AlwaysSucceeds(t *testing.T) {
	res, err := KeywordFallback{}.Attempt(context.Background(), GenerationInput{Message: "anything"})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if res.Score != 75 || res.Source != SourceFallback || res.Text == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDetectEmotion(t *testing.T) {
	cases := map[string]string{
		"I'm scared":          "anxious",
		"What should I eat?":  "curious",
		"I had a scan today.": "neutral",
	}
	for in, want := range cases {
		if got := detectEmotion(in); got != want {
			t.Errorf("detectEmotion(%q) = %q, want %q", in, got, want)
		}
	}
}
