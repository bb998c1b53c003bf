package services

import (
	"context"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/application/resolver"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
)

// ResolutionConfig holds the controller defaults for one-shot resolutions.
type ResolutionConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

type ResolveOptions struct {
	TTL            time.Duration
	EnableRetry    bool
	EnableFallback bool
}

// ResolutionService runs a resolver.Controller to completion for a single
// reference. It serves callers without a lifecycle of their own, such as
// request handlers and the CLI.
type ResolutionService struct {
	source   resolver.URLSource
	fallback resolver.FallbackFunc
	config   ResolutionConfig
	logger   *logging.ChanneledLogger
	perf     *performance.Tracker
}

func NewResolutionService(source resolver.URLSource, fallback resolver.FallbackFunc, config ResolutionConfig, logger *logging.ChanneledLogger, perf *performance.Tracker) *ResolutionService {
	if perf == nil {
		perf = performance.NewTracker(performance.DefaultTrackerConfig())
	}
	return &ResolutionService{
		source:   source,
		fallback: fallback,
		config:   config,
		logger:   logger,
		perf:     perf,
	}
}

// Resolve returns the settled state for ref. The error is non-nil only when
// ctx or the configured timeout ends before the controller settles.
func (s *ResolutionService) Resolve(ctx context.Context, ref signedurl.Ref, opts ResolveOptions) (resolver.State, error) {
	marker := s.perf.StartOperation("resolve_url")
	defer marker.Complete()

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	controller := resolver.New(s.source, resolver.Options{
		EnableRetry:    opts.EnableRetry,
		EnableFallback: opts.EnableFallback && s.fallback != nil,
		EnableLogging:  s.logger != nil,
		TTL:            opts.TTL,
		MaxAttempts:    s.config.MaxAttempts,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		Fallback:       s.fallback,
		Logger:         s.logger,
	})
	defer controller.Close()

	controller.SetAsset(&ref)
	state, err := controller.Await(ctx)
	if err != nil {
		marker.SetError(err)
		return state, err
	}

	marker.SetSuccess(state.Status == resolver.StatusSuccess)
	marker.AddMetadata("fallback", state.IsFallback)
	return state, nil
}
