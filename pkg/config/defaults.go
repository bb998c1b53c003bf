// Package config provides centralized default values for assetsign
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"`)

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, redact(key, val), redact(key, defaultValue))
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redact keeps secrets out of the override log lines
func redact(key, value string) string {
	if value == "" {
		return value
	}
	upper := strings.ToUpper(key)
	if strings.Contains(upper, "SECRET") || strings.Contains(upper, "TOKEN") || strings.Contains(upper, "HASH") {
		return "****"
	}
	return value
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration
	AllowedOrigins     []string

	// Database
	DBDriver                 string
	DBDSN                    string
	TursoDatabaseURL         string
	TursoAuthToken           string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	SlowQueryThreshold       time.Duration

	// Storage and Signing
	StorageDir     string
	PublicBaseURL  string
	SigningSecret  string
	AdminKeyHash   string
	SignDefaultTTL time.Duration
	SignMinTTL     time.Duration
	SignMaxTTL     time.Duration
	SignEndpoint   string

	// URL Cache
	URLCacheMaxSize        int
	URLCacheExpiryBuffer   time.Duration
	URLCachePruneInterval  time.Duration
	URLCachePruneVerbose   bool
	PrefetchConcurrency    int
	StatsBroadcastInterval time.Duration

	// Resolution
	ResolveMaxAttempts    int
	ResolveInitialBackoff time.Duration
	ResolveMaxBackoff     time.Duration
	ResolveTimeout        time.Duration

	// Logging
	LogLevel     string
	LogJSON      bool
	LogDirectory string
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	AllowedOrigins = splitList(getEnvString("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:4321,http://127.0.0.1:3000,http://127.0.0.1:4321"))

	// Database
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBDSN = getEnvString("DB_DSN", "file:assets.db?_foreign_keys=on")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)

	// Storage and Signing
	StorageDir = getEnvString("STORAGE_DIR", "storage")
	PublicBaseURL = getEnvString("PUBLIC_BASE_URL", "http://localhost:8080")
	SigningSecret = getEnvString("SIGNING_SECRET", "")
	AdminKeyHash = getEnvString("ADMIN_KEY_HASH", "")
	SignDefaultTTL = time.Duration(getEnvInt("SIGN_DEFAULT_TTL_SECONDS", 3600)) * time.Second
	SignMinTTL = time.Duration(getEnvInt("SIGN_MIN_TTL_SECONDS", 60)) * time.Second
	SignMaxTTL = time.Duration(getEnvInt("SIGN_MAX_TTL_SECONDS", 7*24*3600)) * time.Second
	// Empty means the server signs through its own listener
	SignEndpoint = getEnvString("SIGN_ENDPOINT", "")

	// URL Cache
	URLCacheMaxSize = getEnvInt("URL_CACHE_MAX_SIZE", 1000)
	URLCacheExpiryBuffer = time.Duration(getEnvInt("URL_CACHE_EXPIRY_BUFFER_SECONDS", 300)) * time.Second
	URLCachePruneInterval = time.Duration(getEnvInt("URL_CACHE_PRUNE_INTERVAL_MINUTES", 5)) * time.Minute
	URLCachePruneVerbose = getEnvBool("URL_CACHE_PRUNE_VERBOSE", false)
	PrefetchConcurrency = getEnvInt("PREFETCH_CONCURRENCY", 8)
	StatsBroadcastInterval = time.Duration(getEnvInt("STATS_BROADCAST_INTERVAL_SECONDS", 5)) * time.Second

	// Resolution
	ResolveMaxAttempts = getEnvInt("RESOLVE_MAX_ATTEMPTS", 3)
	ResolveInitialBackoff = getEnvDuration("RESOLVE_INITIAL_BACKOFF", 500*time.Millisecond)
	ResolveMaxBackoff = getEnvDuration("RESOLVE_MAX_BACKOFF", 10*time.Second)
	ResolveTimeout = getEnvDuration("RESOLVE_TIMEOUT", 30*time.Second)

	// Logging
	LogLevel = getEnvString("LOG_LEVEL", "info")
	LogJSON = getEnvBool("LOG_JSON", true)
	LogDirectory = getEnvString("LOG_DIR", "")
}
