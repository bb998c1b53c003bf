// Package cleanup provides the background prune worker for the signed URL cache
package cleanup

import (
	"context"
	"io"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

// Cache is the part of the signed URL cache the worker drives.
type Cache interface {
	Snapshotter
	Prune() int
}

// Worker periodically drops stale signed URLs
type Worker struct {
	cache  Cache
	config *Config
	logger *logging.ChanneledLogger
	out    io.Writer
}

// NewWorker creates a new prune worker with injected configuration
func NewWorker(cache Cache, config *Config, logger *logging.ChanneledLogger) *Worker {
	if config == nil {
		config = NewConfig()
	}
	return &Worker{
		cache:  cache,
		config: config,
		logger: logging.OrNop(logger),
	}
}

// SetOutput redirects the verbose ascii report, stdout by default
func (w *Worker) SetOutput(out io.Writer) {
	w.out = out
}

// Start runs the prune loop until ctx is done, using the configured interval
func (w *Worker) Start(ctx context.Context) {
	if w.config.PruneInterval <= 0 {
		w.logger.Cache().Info("URL cache prune worker disabled")
		return
	}

	ticker := time.NewTicker(w.config.PruneInterval)
	defer ticker.Stop()

	w.logger.Cache().Info("URL cache prune worker started",
		"interval", w.config.PruneInterval, "verbose", w.config.VerboseReporting)

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown().Info("URL cache prune worker stopping")
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single prune pass and returns the number of entries removed
func (w *Worker) RunOnce() int {
	start := time.Now()
	reporter := NewReporter(w.cache, w.out)

	if w.config.VerboseReporting {
		reporter.LogStage("PERIODIC URL CACHE PRUNE")
		_, _ = io.WriteString(reporter.out, reporter.GenerateReport())
	}

	removed := w.cache.Prune()
	duration := time.Since(start)

	if removed > 0 {
		w.logger.Cache().Info("URL cache prune finished", "removed", removed, "duration", duration)
		if w.config.VerboseReporting {
			reporter.LogSuccess("URL cache prune finished: %d stale entries removed in %v", removed, duration)
		}
	} else if w.config.VerboseReporting {
		reporter.LogInfo("URL cache prune completed - no stale entries found (%v)", duration)
	}
	return removed
}
