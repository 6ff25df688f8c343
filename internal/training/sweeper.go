package training

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper reclassifies idle sessions as abandoned. It sweeps once when
// started and then every interval; a zero interval means startup only.
type Sweeper struct {
	svc            *Service
	thresholdHours int
	interval       time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewSweeper(svc *Service, thresholdHours int, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, thresholdHours: thresholdHours, interval: interval}
}

func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	logger := slog.Default().With("component", "training.sweeper")
	w.sweep(ctx, logger)
	if w.interval <= 0 {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.run(sctx, logger)
}

func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *Sweeper) run(ctx context.Context, logger *slog.Logger) {
	defer func() {
		w.mu.Lock()
		w.running = false
		close(w.done)
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			w.sweep(ctx, logger)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context, logger *slog.Logger) {
	start := time.Now()
	n, err := w.svc.CleanupAbandonedSessions(ctx, w.thresholdHours)
	if err != nil {
		logger.ErrorContext(ctx, "abandoned session sweep failed", "error", err)
		return
	}
	logger.DebugContext(ctx, "abandoned session sweep finished", "abandoned", n, "duration", time.Since(start))
}
