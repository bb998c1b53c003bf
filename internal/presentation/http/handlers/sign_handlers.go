package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/domain/repositories"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/storage"
)

// SignHandlers issues signed URLs and serves the files they point at
type SignHandlers struct {
	signingService *services.SigningService
	assets         repositories.AssetRepository
	store          *storage.LocalStore
	logger         *logging.ChanneledLogger
	perfTracker    *performance.Tracker
}

// NewSignHandlers creates sign handlers with injected dependencies
func NewSignHandlers(signingService *services.SigningService, assets repositories.AssetRepository, store *storage.LocalStore, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *SignHandlers {
	return &SignHandlers{
		signingService: signingService,
		assets:         assets,
		store:          store,
		logger:         logging.OrNop(logger),
		perfTracker:    perfTracker,
	}
}

// Sign handles GET /api/v1/sign
func (h *SignHandlers) Sign(c *gin.Context) {
	start := time.Now()
	marker := h.perfTracker.StartOperation("sign_request")
	defer marker.Complete()

	ref := refFromQuery(c)
	ttl, err := ttlFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.HTTP().Debug("Received sign request", "ref", ref.String(), "ttl", ttl)

	result, err := h.signingService.Sign(c.Request.Context(), services.SignRequest{
		AssetID:    ref.AssetID,
		StorageKey: ref.StorageKey,
		TTL:        ttl,
	})
	if err != nil {
		marker.SetError(err)
		switch {
		case errors.Is(err, services.ErrMissingLocator):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAssetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAssetForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.logger.HTTP().Error("Sign request failed", "ref", ref.String(), "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign URL"})
		}
		return
	}

	marker.SetSuccess(true)
	h.logger.Perf().Debug("Performance for Sign request", "duration", time.Since(start), "ref", ref.String())
	c.JSON(http.StatusOK, result)
}

// ServeFile handles GET /files/*key?token=
func (h *SignHandlers) ServeFile(c *gin.Context) {
	key := storageKeyParam(c)
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	if err := h.signingService.ValidateFileToken(token, key); err != nil {
		h.logger.HTTP().Debug("Rejected file token", "storageKey", key, "error", err.Error())
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired token"})
		return
	}

	// Deleting an asset revokes outstanding tokens for it.
	h.serve(c, key, func(a assetView) bool { return !a.Deleted() })
}

// ServePublic handles GET /public/*key
func (h *SignHandlers) ServePublic(c *gin.Context) {
	h.serve(c, storageKeyParam(c), func(a assetView) bool { return a.PubliclyServable() })
}

type assetView interface {
	Deleted() bool
	PubliclyServable() bool
}

func (h *SignHandlers) serve(c *gin.Context, key string, allowed func(assetView) bool) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.assets.FindByStorageKey(cleaned)
	if err != nil {
		h.logger.HTTP().Error("Asset lookup failed", "storageKey", cleaned, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load asset"})
		return
	}
	if a == nil || !allowed(a) {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrAssetNotFound.Error()})
		return
	}

	path, err := h.store.Path(cleaned)
	if err != nil || !h.store.Exists(cleaned) {
		h.logger.HTTP().Warn("Registered asset missing from storage", "storageKey", cleaned)
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if a.ContentType != "" {
		c.Header("Content-Type", a.ContentType)
	}
	c.File(path)
}
