// Package container provides dependency injection for all singleton services
package container

import (
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/persistence/assets"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/storage"
	"github.com/AtRiskMedia/assetsign/pkg/config"
)

// Settings carries every tunable the container wires in.
type Settings struct {
	Port          string
	PublicBaseURL string
	StorageDir    string
	AdminKeyHash  string
	SignEndpoint  string

	Signing    services.SigningConfig
	Cache      signedurl.Config
	Resolution services.ResolutionConfig
	Cleanup    cleanup.Config

	OutboundTimeout time.Duration
	StatsInterval   time.Duration
}

// SettingsFromConfig reads the already-initialized /pkg/config variables.
func SettingsFromConfig() Settings {
	return Settings{
		Port:          config.Port,
		PublicBaseURL: strings.TrimRight(config.PublicBaseURL, "/"),
		StorageDir:    config.StorageDir,
		AdminKeyHash:  config.AdminKeyHash,
		SignEndpoint:  config.SignEndpoint,
		Signing: services.SigningConfig{
			BaseURL:    strings.TrimRight(config.PublicBaseURL, "/"),
			Secret:     config.SigningSecret,
			DefaultTTL: config.SignDefaultTTL,
			MinTTL:     config.SignMinTTL,
			MaxTTL:     config.SignMaxTTL,
		},
		Cache: signedurl.Config{
			DefaultTTL:          config.SignDefaultTTL,
			ExpiryBuffer:        config.URLCacheExpiryBuffer,
			MaxSize:             config.URLCacheMaxSize,
			PrefetchConcurrency: config.PrefetchConcurrency,
		},
		Resolution: services.ResolutionConfig{
			MaxAttempts:    config.ResolveMaxAttempts,
			InitialBackoff: config.ResolveInitialBackoff,
			MaxBackoff:     config.ResolveMaxBackoff,
			Timeout:        config.ResolveTimeout,
		},
		Cleanup:         *cleanup.NewConfig(),
		OutboundTimeout: config.ResolveTimeout,
		StatsInterval:   config.StatsBroadcastInterval,
	}
}

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application services
	SigningService    *services.SigningService
	AssetService      *services.AssetService
	ResolutionService *services.ResolutionService

	// Resolution pipeline
	Coalescer    *coalescing.Coalescer
	URLCache     *signedurl.Cache
	CacheMonitor *monitoring.CacheMonitor
	PruneWorker  *cleanup.Worker
	WarmingLock  *caching.WarmingLock
	Broadcaster  *messaging.StatsBroadcaster

	// Infrastructure Dependencies
	DB          *database.DB
	AssetRepo   *assets.AssetRepository
	Store       *storage.LocalStore
	PublicURLs  *storage.PublicURLBuilder
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker

	AdminKeyHash string
}

// NewContainer creates and wires all singleton services. A nil doer uses an
// http.Client bounded by the outbound timeout.
func NewContainer(db *database.DB, settings Settings, doer coalescing.Doer, logger *logging.ChanneledLogger, perf *performance.Tracker) *Container {
	logger = logging.OrNop(logger)
	if perf == nil {
		perf = performance.NewTracker(performance.DefaultTrackerConfig())
	}
	if doer == nil {
		doer = &http.Client{Timeout: settings.OutboundTimeout}
	}

	cacheMonitor := monitoring.NewCacheMonitor(monitoring.DefaultCacheMonitorConfig())
	cacheConfig := settings.Cache
	cacheConfig.Recorder = cacheMonitor
	cacheConfig.Endpoint = settings.SignEndpoint
	if cacheConfig.Endpoint == "" {
		cacheConfig.Endpoint = "http://127.0.0.1:" + settings.Port + "/api/v1/sign"
	}

	assetRepo := assets.NewAssetRepository(db.DB, logger)
	publicURLs := storage.NewPublicURLBuilder(settings.PublicBaseURL)
	coalescer := coalescing.New(doer, logger)
	urlCache := signedurl.New(cacheConfig, coalescer, logger)
	cleanupConfig := settings.Cleanup

	return &Container{
		SigningService: services.NewSigningService(assetRepo, settings.Signing, logger, perf),
		AssetService:   services.NewAssetService(assetRepo, urlCache, logger),
		ResolutionService: services.NewResolutionService(
			urlCache,
			storage.Fallback(assetRepo, publicURLs),
			settings.Resolution,
			logger,
			perf,
		),

		Coalescer:    coalescer,
		URLCache:     urlCache,
		CacheMonitor: cacheMonitor,
		PruneWorker:  cleanup.NewWorker(urlCache, &cleanupConfig, logger),
		WarmingLock:  caching.NewWarmingLock(),
		Broadcaster:  messaging.NewStatsBroadcaster(statsSnapshot(urlCache, cacheMonitor, coalescer), settings.StatsInterval, logger),

		DB:          db,
		AssetRepo:   assetRepo,
		Store:       storage.NewLocalStore(settings.StorageDir),
		PublicURLs:  publicURLs,
		Logger:      logger,
		PerfTracker: perf,

		AdminKeyHash: settings.AdminKeyHash,
	}
}

// StatsSnapshot is the payload pushed to dashboard clients.
type StatsSnapshot struct {
	Time      time.Time               `json:"time"`
	CacheSize int                     `json:"cacheSize"`
	CacheMax  int                     `json:"cacheMax"`
	Cache     monitoring.CacheMetrics `json:"cache"`
	Coalescer coalescing.Stats        `json:"coalescer"`
}

func statsSnapshot(cache *signedurl.Cache, monitor *monitoring.CacheMonitor, coalescer *coalescing.Coalescer) func() any {
	return func() any {
		stats := cache.Stats()
		return StatsSnapshot{
			Time:      time.Now().UTC(),
			CacheSize: stats.Size,
			CacheMax:  stats.MaxSize,
			Cache:     monitor.Metrics(),
			Coalescer: coalescer.Stats(),
		}
	}
}
