package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/suPer8Hu/avatar-coach/internal/ai"
)

const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceFallback  = "fallback"
)

// ErrExhausted is returned when every strategy in a chain failed.
var ErrExhausted = errors.New("generation chain exhausted")

// GenerationInput carries everything a strategy may need. Strategies pick
// the fields they understand.
type GenerationInput struct {
	System     string
	Prompt     string
	Message    string
	AvatarName string
	HistoryLen int
}

// Result is a successful generation. Score is synthetic: strategies assign
// it from a fixed band, nothing measures it.
type Result struct {
	Text     string
	Emotion  string
	Note     string
	Score    int
	Source   string
	Strategy string
}

type Strategy interface {
	Name() string
	Attempt(ctx context.Context, in GenerationInput) (Result, error)
}

// Chain tries strategies in order and returns the first success.
// A strategy is never retried.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		logger:     slog.Default().With("component", "training.chain"),
	}
}

func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

func (c *Chain) Generate(ctx context.Context, in GenerationInput) (Result, error) {
	var errs []error
	for _, s := range c.strategies {
		res, err := s.Attempt(ctx, in)
		if err == nil {
			res.Strategy = s.Name()
			return res, nil
		}
		c.logger.WarnContext(ctx, "generation strategy failed", "strategy", s.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Result{}, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

// ProviderStrategy sends the full contextual prompt to a provider.
type ProviderStrategy struct {
	Label       string
	Provider    ai.Provider
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	// Rand returns an int in [0, n); defaults to math/rand/v2.
	Rand func(n int) int
}

func (p *ProviderStrategy) Name() string { return p.Label }

func (p *ProviderStrategy) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	text, err := chatWithTimeout(ctx, p.Provider, p.Timeout, ai.Request{
		System:      in.System,
		Messages:    []ai.Message{{Role: ai.RoleUser, Content: in.Prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.IntN
	}
	return Result{
		Text:   text,
		Score:  85 + rnd(16),
		Source: SourcePrimary,
	}, nil
}

// SimpleProviderStrategy is the backup path: a short prompt without
// history or memory, fixed score.
type SimpleProviderStrategy struct {
	Label       string
	Provider    ai.Provider
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func (p *SimpleProviderStrategy) Name() string { return p.Label }

func (p *SimpleProviderStrategy) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	text, err := chatWithTimeout(ctx, p.Provider, p.Timeout, ai.Request{
		Messages:    []ai.Message{{Role: ai.RoleUser, Content: SimplePrompt(in.AvatarName, in.Message)}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Score: 85, Source: SourceSecondary}, nil
}

func chatWithTimeout(ctx context.Context, p ai.Provider, timeout time.Duration, req ai.Request) (string, error) {
	if p == nil {
		return "", errors.New("provider not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := p.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}
