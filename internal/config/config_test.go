package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "AI_CHAIN", "WORKER_CONCURRENCY", "CHAT_CONTEXT_WINDOW_SIZE", "SESSION_ABANDON_HOURS", "AI_TEMPERATURE"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.DBDriver != "mysql" {
		t.Fatalf("expected mysql driver, got %q", cfg.DBDriver)
	}
	if len(cfg.AIChain) != 2 || cfg.AIChain[0] != "anthropic" || cfg.AIChain[1] != "openai" {
		t.Fatalf("unexpected chain %v", cfg.AIChain)
	}
	if cfg.ChatContextWindowSize != 10 || cfg.SessionAbandonHours != 24 || cfg.SessionSweepIntervalMinutes != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.WorkerConcurrency != 2 || cfg.AITemperature != 0.7 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("AI_CHAIN", "Ollama, ,openrouter")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("AI_TEMPERATURE", "0.2")
	t.Setenv("SESSION_SWEEP_INTERVAL_MINUTES", "15")
	t.Setenv("CHAT_CONTEXT_WINDOW_SIZE", "not-a-number")

	cfg := Load()
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite, got %q", cfg.DBDriver)
	}
	if len(cfg.AIChain) != 2 || cfg.AIChain[0] != "ollama" || cfg.AIChain[1] != "openrouter" {
		t.Fatalf("unexpected chain %v", cfg.AIChain)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected clamp to 50, got %d", cfg.WorkerConcurrency)
	}
	if cfg.AITemperature != 0.2 {
		t.Fatalf("unexpected temperature %v", cfg.AITemperature)
	}
	if cfg.SessionSweepIntervalMinutes != 15 {
		t.Fatalf("unexpected sweep interval %d", cfg.SessionSweepIntervalMinutes)
	}
	if cfg.ChatContextWindowSize != 10 {
		t.Fatalf("invalid number should keep default, got %d", cfg.ChatContextWindowSize)
	}
}
