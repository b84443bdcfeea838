package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artforge/artforge-be/internal/api/domain"
	"github.com/artforge/artforge-be/internal/api/service"
	"github.com/artforge/artforge-be/internal/api/storage"
	"github.com/artforge/artforge-be/internal/blob"
	"github.com/artforge/artforge-be/internal/notify"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Storage    *storage.Storage
	Dispatcher *service.Dispatcher
	Hub        *notify.Hub
	Blobs      blob.Store
	InputDir   string
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid job parameters",
			"violations": verr.Violations,
		})
	case errors.Is(err, domain.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrIncompatibleModel),
		errors.Is(err, domain.ErrMissingInput),
		errors.Is(err, domain.ErrTierLimitExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
