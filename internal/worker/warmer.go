package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/family-history/internal/config"
)

// Warmer reloads every cached family leaderboard
type Warmer interface {
	WarmAll(ctx context.Context) (int, error)
}

// CacheWarmer periodically rebuilds the Redis latest cache from PostgreSQL so
// dashboard reads rarely fall through to the database
type CacheWarmer struct {
	warmer  Warmer
	config  *config.CacheConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewCacheWarmer creates a new cache warmer
func NewCacheWarmer(warmer Warmer, cfg *config.CacheConfig, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		warmer: warmer,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background warm loop
func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("cache warmer started", "interval", w.config.WarmInterval)

	go w.run(ctx)
	return nil
}

// Stop stops the background warm loop
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("cache warmer stopped")
	return nil
}

// run is the main worker loop
func (w *CacheWarmer) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.WarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.warmAll(ctx)
		}
	}
}

// warmAll runs one warm cycle
func (w *CacheWarmer) warmAll(ctx context.Context) {
	w.logger.Debug("starting warm cycle")
	startTime := time.Now()

	warmed, err := w.warmer.WarmAll(ctx)
	if err != nil {
		w.logger.Error("warm cycle failed", "warmed", warmed, "error", err)
		return
	}

	w.logger.Info("warm cycle completed",
		"duration", time.Since(startTime),
		"families", warmed,
	)
}

// IsRunning returns whether the worker is currently running
func (w *CacheWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single warm cycle, used at startup
func (w *CacheWarmer) RunOnce(ctx context.Context) {
	w.warmAll(ctx)
}
