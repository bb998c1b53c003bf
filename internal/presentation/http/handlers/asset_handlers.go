package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/persistence/assets"
)

// AssetHandlers contains the asset registration endpoints
type AssetHandlers struct {
	assetService *services.AssetService
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
}

// NewAssetHandlers creates asset handlers with injected dependencies
func NewAssetHandlers(assetService *services.AssetService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *AssetHandlers {
	return &AssetHandlers{
		assetService: assetService,
		logger:       logging.OrNop(logger),
		perfTracker:  perfTracker,
	}
}

// Register handles POST /api/v1/assets
func (h *AssetHandlers) Register(c *gin.Context) {
	marker := h.perfTracker.StartOperation("register_asset_request")
	defer marker.Complete()

	var req services.RegisterAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	a, err := h.assetService.Register(req)
	if err != nil {
		marker.SetError(err)
		switch {
		case errors.Is(err, services.ErrInvalidAsset):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, assets.ErrDuplicateStorageKey):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.HTTP().Error("Asset registration failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register asset"})
		}
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusCreated, a)
}

// List handles GET /api/v1/assets
func (h *AssetHandlers) List(c *gin.Context) {
	all, err := h.assetService.GetAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assets": all,
		"count":  len(all),
	})
}

// Delete handles DELETE /api/v1/assets/:id
func (h *AssetHandlers) Delete(c *gin.Context) {
	marker := h.perfTracker.StartOperation("delete_asset_request")
	defer marker.Complete()

	a, err := h.assetService.Delete(c.Param("id"))
	if err != nil {
		marker.SetError(err)
		if errors.Is(err, services.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"deleted": a.ID, "storageKey": a.StorageKey})
}
