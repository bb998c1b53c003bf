package cleanup

import (
	"time"

	"github.com/AtRiskMedia/assetsign/pkg/config"
)

// Config holds prune worker configuration, sourced from the central config package.
type Config struct {
	PruneInterval    time.Duration
	VerboseReporting bool
}

// NewConfig reads the prune settings from the already-initialized /pkg/config variables.
func NewConfig() *Config {
	return &Config{
		PruneInterval:    config.URLCachePruneInterval,
		VerboseReporting: config.URLCachePruneVerbose,
	}
}
