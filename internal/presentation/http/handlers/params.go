// Package handlers provides HTTP handlers for the sign, file, resolve and
// admin endpoints
package handlers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

// refFromQuery reads the assetId/storageKey locator pair.
func refFromQuery(c *gin.Context) signedurl.Ref {
	return signedurl.Ref{
		AssetID:    strings.TrimSpace(c.Query("assetId")),
		StorageKey: strings.TrimSpace(c.Query("storageKey")),
	}
}

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// ttlFromQuery parses the ttl parameter in seconds. Absent means zero.
func ttlFromQuery(c *gin.Context) (time.Duration, error) {
	raw := c.Query("ttl")
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("ttl must be a non-negative number of seconds")
	}
	if seconds > maxTTLSeconds {
		return 0, fmt.Errorf("ttl must not exceed %d seconds", maxTTLSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func boolFromQuery(c *gin.Context, name string, defaultValue bool) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}

// storageKeyParam strips the leading slash gin leaves on wildcard params
func storageKeyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}
