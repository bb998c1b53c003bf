package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
)

const prefetchLockKey = "prefetch"

// PrefetchRequest is the body of POST /api/v1/cache/prefetch
type PrefetchRequest struct {
	Items []PrefetchRequestItem `json:"items" binding:"required"`
	Async bool                  `json:"async"`
}

// PrefetchRequestItem locates one asset; TTL is in seconds.
type PrefetchRequestItem struct {
	AssetID    string `json:"assetId"`
	StorageKey string `json:"storageKey"`
	TTL        int64  `json:"ttl"`
}

// CacheHandlers exposes the URL cache and the coalescer for inspection and control
type CacheHandlers struct {
	cache       *signedurl.Cache
	monitor     *monitoring.CacheMonitor
	coalescer   *coalescing.Coalescer
	warmingLock *caching.WarmingLock
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewCacheHandlers creates cache handlers with injected dependencies
func NewCacheHandlers(cache *signedurl.Cache, monitor *monitoring.CacheMonitor, coalescer *coalescing.Coalescer, warmingLock *caching.WarmingLock, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *CacheHandlers {
	return &CacheHandlers{
		cache:       cache,
		monitor:     monitor,
		coalescer:   coalescer,
		warmingLock: warmingLock,
		logger:      logging.OrNop(logger),
		perfTracker: perfTracker,
	}
}

// Stats handles GET /api/v1/cache/stats
func (h *CacheHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// Health handles GET /api/v1/cache/health
func (h *CacheHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Metrics())
}

// Invalidate handles DELETE /api/v1/cache?pattern=. Without a pattern the
// whole cache is cleared.
func (h *CacheHandlers) Invalidate(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		size := h.cache.Stats().Size
		h.cache.Clear()
		h.logger.Cache().Info("Cache cleared", "removed", size)
		c.JSON(http.StatusOK, gin.H{"removed": size})
		return
	}

	removed, err := h.cache.InvalidateMatching(pattern)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Cache().Info("Cache entries invalidated", "pattern", pattern, "removed", removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed, "pattern": pattern})
}

// Prefetch handles POST /api/v1/cache/prefetch
func (h *CacheHandlers) Prefetch(c *gin.Context) {
	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items array cannot be empty"})
		return
	}

	items := make([]signedurl.PrefetchItem, 0, len(req.Items))
	for _, item := range req.Items {
		ref := signedurl.Ref{AssetID: item.AssetID, StorageKey: item.StorageKey}
		if ref.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"error": signedurl.ErrMissingRef.Error()})
			return
		}
		items = append(items, signedurl.PrefetchItem{Ref: ref, TTL: time.Duration(item.TTL) * time.Second})
	}

	if !req.Async {
		marker := h.perfTracker.StartOperation("prefetch_request")
		h.cache.Prefetch(c.Request.Context(), items)
		marker.SetSuccess(true)
		marker.Complete()
		c.JSON(http.StatusOK, h.cache.Stats())
		return
	}

	if !h.warmingLock.TryLock(prefetchLockKey) {
		c.JSON(http.StatusConflict, gin.H{"error": "a prefetch is already running"})
		return
	}
	go func() {
		defer h.warmingLock.Unlock(prefetchLockKey)
		start := time.Now()
		h.cache.Prefetch(context.Background(), items)
		h.logger.Cache().Info("Background prefetch completed", "items", len(items), "duration", time.Since(start))
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "prefetching", "items": len(items)})
}

// CoalescerStats handles GET /api/v1/coalescer/stats
func (h *CacheHandlers) CoalescerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.coalescer.Stats())
}

// CancelCoalesced handles POST /api/v1/coalescer/cancel?pattern=
func (h *CacheHandlers) CancelCoalesced(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusOK, gin.H{"cancelled": h.coalescer.CancelAll()})
		return
	}

	cancelled, err := h.coalescer.CancelMatching(pattern)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "pattern": pattern})
}
