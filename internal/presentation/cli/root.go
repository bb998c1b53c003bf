// Package cli implements assetctl, a client that resolves and prefetches
// signed URLs against a running assetsign server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/storage"
	"github.com/AtRiskMedia/assetsign/pkg/config"
)

const signPath = "/api/v1/sign"

type options struct {
	server     string
	ttl        time.Duration
	timeout    time.Duration
	noRetry    bool
	noFallback bool
	logLevel   string

	// doer overrides the HTTP client; tests point it at an in-process server.
	doer coalescing.Doer
}

// pipeline is the client-side resolution stack built per invocation.
type pipeline struct {
	logger    *logging.ChanneledLogger
	coalescer *coalescing.Coalescer
	cache     *signedurl.Cache
	resolver  *services.ResolutionService
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	return newRoot(&options{})
}

func newRoot(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetctl [sub-command]",
		Short: "Resolve and prefetch signed asset URLs",
		Long: `assetctl talks to a running assetsign server. It resolves asset
  references through the same coalescing cache and resolution controller the
  server uses, falling back to public URLs when signing fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:"+config.Port, "base URL of the assetsign server")
	flags.DurationVar(&opts.ttl, "ttl", 0, `requested URL lifetime (e.g. "15m"); 0 uses the server default`)
	flags.DurationVar(&opts.timeout, "timeout", config.ResolveTimeout, "overall time limit for a command")
	flags.BoolVar(&opts.noRetry, "no-retry", false, "disable automatic retries of transient failures")
	flags.BoolVar(&opts.noFallback, "no-fallback", false, "never fall back to a public URL")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr (debug, info, warn, error)")

	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newPrefetchCmd(opts))
	cmd.AddCommand(newSignCmd(opts))
	return cmd
}

func (o *options) baseURL() string {
	return strings.TrimRight(o.server, "/")
}

func (o *options) context(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func (o *options) newPipeline(stderr io.Writer) (*pipeline, error) {
	loggerConfig := logging.DefaultLoggerConfig()
	loggerConfig.Writer = stderr
	loggerConfig.JSONFormat = false
	loggerConfig.DefaultLevel = logging.ParseLevel(o.logLevel)
	logger, err := logging.NewChanneledLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	doer := o.doer
	if doer == nil {
		doer = &http.Client{Timeout: o.timeout}
	}

	coalescer := coalescing.New(doer, logger)
	cache := signedurl.New(signedurl.Config{
		Endpoint:            o.baseURL() + signPath,
		ExpiryBuffer:        config.URLCacheExpiryBuffer,
		PrefetchConcurrency: config.PrefetchConcurrency,
	}, coalescer, logger)

	resolution := services.NewResolutionService(cache, publicFallback(o.baseURL()), services.ResolutionConfig{
		MaxAttempts:    config.ResolveMaxAttempts,
		InitialBackoff: config.ResolveInitialBackoff,
		MaxBackoff:     config.ResolveMaxBackoff,
	}, logger, nil)

	return &pipeline{
		logger:    logger,
		coalescer: coalescer,
		cache:     cache,
		resolver:  resolution,
	}, nil
}

// publicFallback builds public URLs for storage keys. The client cannot see
// access levels, so asset-id references have no fallback.
func publicFallback(base string) func(context.Context, signedurl.Ref) (string, error) {
	builder := storage.NewPublicURLBuilder(base)
	return func(_ context.Context, ref signedurl.Ref) (string, error) {
		if ref.StorageKey == "" {
			return "", fmt.Errorf("%w: %s", storage.ErrNoPublicURL, ref)
		}
		return builder.PublicURL(ref.StorageKey), nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
