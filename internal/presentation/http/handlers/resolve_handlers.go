package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/application/resolver"
	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
)

// ResolveHandlers runs one-shot resolutions over the process-wide cache
type ResolveHandlers struct {
	resolutionService *services.ResolutionService
	logger            *logging.ChanneledLogger
	perfTracker       *performance.Tracker
}

// NewResolveHandlers creates resolve handlers with injected dependencies
func NewResolveHandlers(resolutionService *services.ResolutionService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *ResolveHandlers {
	return &ResolveHandlers{
		resolutionService: resolutionService,
		logger:            logging.OrNop(logger),
		perfTracker:       perfTracker,
	}
}

// Resolve handles GET /api/v1/resolve
func (h *ResolveHandlers) Resolve(c *gin.Context) {
	start := time.Now()
	marker := h.perfTracker.StartOperation("resolve_request")
	defer marker.Complete()

	ref := refFromQuery(c)
	if ref.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrMissingLocator.Error()})
		return
	}
	ttl, err := ttlFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fallback, err := boolFromQuery(c, "fallback", true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	retry, err := boolFromQuery(c, "retry", true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.resolutionService.Resolve(c.Request.Context(), ref, services.ResolveOptions{
		TTL:            ttl,
		EnableRetry:    retry,
		EnableFallback: fallback,
	})
	if err != nil {
		marker.SetError(err)
		h.logger.HTTP().Warn("Resolution did not settle", "ref", ref.String(), "error", err.Error())
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "resolution timed out", "state": state})
		return
	}

	marker.SetSuccess(state.Status == resolver.StatusSuccess)
	h.logger.HTTP().Info("Resolve request completed",
		"ref", ref.String(), "state", state.Status, "isFallback", state.IsFallback, "duration", time.Since(start))
	c.JSON(statusForState(state), state)
}

func statusForState(state resolver.State) int {
	if state.Status == resolver.StatusSuccess {
		return http.StatusOK
	}
	if state.Err == nil {
		return http.StatusInternalServerError
	}
	switch state.Err.Type {
	case resolver.ErrorNotFound:
		return http.StatusNotFound
	case resolver.ErrorForbidden:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
