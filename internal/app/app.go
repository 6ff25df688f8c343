// Package app wires configuration into the training service. Both the HTTP
// server and the reply worker build their service here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/avatar-coach/internal/ai"
	"github.com/suPer8Hu/avatar-coach/internal/config"
	"github.com/suPer8Hu/avatar-coach/internal/db"
	"github.com/suPer8Hu/avatar-coach/internal/store/redisstore"
	"github.com/suPer8Hu/avatar-coach/internal/training"
	"gorm.io/gorm"
)

// NewRegistry registers every provider the configuration can name in AI_CHAIN.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("anthropic", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.AnthropicModel
		}
		return ai.NewAnthropicProvider(cfg.AnthropicAPIKey, model, ""), nil
	})
	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OpenAIModel
		}
		return ai.NewOpenAIProvider(cfg.OpenAIAPIKey, model, cfg.OpenAIBaseURL), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

// BuildChains turns AI_CHAIN into the reply and question chains. The first
// provider gets the full prompt, the rest the short one; canned strategies
// close both chains. Unknown names are skipped.
func BuildChains(ctx context.Context, cfg config.Config, reg *ai.Registry) (replies, questions *training.Chain) {
	timeout := time.Duration(cfg.AITimeoutSeconds) * time.Second
	var replySteps, questionSteps []training.Strategy

	for i, name := range cfg.AIChain {
		p, err := reg.Get(ctx, name, "")
		if err != nil {
			slog.WarnContext(ctx, "skipping ai provider", "provider", name, "error", err)
			continue
		}
		source := training.SourceSecondary
		if len(replySteps) == 0 {
			source = training.SourcePrimary
			replySteps = append(replySteps, &training.ProviderStrategy{
				Label:       name,
				Provider:    p,
				MaxTokens:   cfg.AIMaxTokens,
				Temperature: cfg.AITemperature,
				Timeout:     timeout,
			})
		} else {
			replySteps = append(replySteps, &training.SimpleProviderStrategy{
				Label:       name,
				Provider:    p,
				MaxTokens:   cfg.AIMaxTokens,
				Temperature: cfg.AITemperature,
				Timeout:     timeout,
			})
		}
		questionSteps = append(questionSteps, &training.QuestionStrategy{
			Label:       fmt.Sprintf("%s_question_%d", name, i),
			Provider:    p,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
			Timeout:     timeout,
			Source:      source,
		})
	}

	replySteps = append(replySteps, training.KeywordFallback{})
	questionSteps = append(questionSteps, training.CannedQuestions{})
	return training.NewChain(replySteps...), training.NewChain(questionSteps...)
}

// OpenStore returns the durable store, or the in-process one when no database
// is configured or reachable. gdb is nil in the latter case.
func OpenStore(ctx context.Context, cfg config.Config) (training.Store, *gorm.DB, error) {
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN, cfg.SQLitePath)
	if err != nil {
		if !errors.Is(err, db.ErrNoDatabase) {
			slog.WarnContext(ctx, "database unavailable, using in-memory sessions", "driver", cfg.DBDriver, "error", err)
		}
		return training.NewMemoryStore(), nil, nil
	}
	if err := training.Migrate(gdb); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return training.NewGormStore(gdb), gdb, nil
}

// OpenCache connects the memory cache. A nil cache means caching is off.
func OpenCache(ctx context.Context, cfg config.Config) *redisstore.Store {
	if cfg.RedisAddr == "" {
		return nil
	}
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.MemoryCacheTTL)*time.Second)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rds.Ping(pctx); err != nil {
		slog.WarnContext(ctx, "redis unavailable, memory cache disabled", "addr", cfg.RedisAddr, "error", err)
		_ = rds.Close()
		return nil
	}
	return rds
}

// NewService builds the training service over store. cache may be nil.
func NewService(ctx context.Context, cfg config.Config, store training.Store, cache training.MemoryCache) *training.Service {
	var counter training.TokenCounter
	if cfg.PromptTokenBudget > 0 {
		c, err := training.NewTiktokenCounter("")
		if err != nil {
			slog.WarnContext(ctx, "token counter unavailable, prompt budget disabled", "error", err)
		} else {
			counter = c
		}
	}
	builder := training.NewPromptBuilder(cfg.ChatContextWindowSize, cfg.PromptTokenBudget, counter)

	replies, questions := BuildChains(ctx, cfg, NewRegistry(cfg))
	slog.InfoContext(ctx, "generation chains ready", "replies", replies.Strategies(), "questions", questions.Strategies())

	var opts []training.Option
	if cache != nil {
		opts = append(opts, training.WithMemoryCache(cache))
	}
	return training.NewService(store, builder, replies, questions, opts...)
}
