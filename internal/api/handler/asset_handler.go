package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/artforge/artforge-be/internal/api/dto"
	"github.com/artforge/artforge-be/internal/api/model"
	"github.com/artforge/artforge-be/internal/api/storage"
	"github.com/artforge/artforge-be/internal/blob"
)

// AssetHandler handles asset-related HTTP requests
type AssetHandler struct {
	logger  *slog.Logger
	storage *storage.Storage
	blobs   blob.Store
}

// NewAssetHandler creates a new AssetHandler instance
func NewAssetHandler(deps *Dependencies) *AssetHandler {
	return &AssetHandler{
		logger:  deps.Logger,
		storage: deps.Storage,
		blobs:   deps.Blobs,
	}
}

// ListAssets handles GET /api/v1/assets
// Lists a user's generated assets, newest first.
func (h *AssetHandler) ListAssets(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be between 1 and 200",
			})
			return
		}
		limit = parsed
	}

	assets, err := h.storage.ListAssetsByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]dto.AssetDTO, len(assets))
	for i := range assets {
		response[i] = assetToDTO(&assets[i])
	}

	c.JSON(http.StatusOK, gin.H{"assets": response})
}

// GetAsset handles GET /api/v1/assets/:asset_id
func (h *AssetHandler) GetAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	if _, err := uuid.Parse(assetID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "asset_id must be a valid UUID",
		})
		return
	}

	asset, err := h.storage.GetAssetByID(c.Request.Context(), assetID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, assetToDTO(asset))
}

// DeleteAsset handles DELETE /api/v1/assets/:asset_id
// Removes the record and its stored binary. Blob failures are logged,
// not fatal; an orphaned file beats an undeletable record.
func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	if _, err := uuid.Parse(assetID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "asset_id must be a valid UUID",
		})
		return
	}

	asset, err := h.storage.GetAssetByID(c.Request.Context(), assetID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if asset.StorageKey != "" {
		if err := h.blobs.Delete(c.Request.Context(), []string{asset.StorageKey}); err != nil {
			h.logger.Warn("Failed to delete asset blob",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.storage.DeleteAsset(c.Request.Context(), assetID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func assetToDTO(a *model.Asset) dto.AssetDTO {
	return dto.AssetDTO{
		AssetID:   a.AssetID,
		JobID:     a.JobID,
		MediaType: a.MediaType,
		URL:       a.PublicURL,
		Width:     a.Width,
		Height:    a.Height,
		Prompt:    a.Prompt,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}
