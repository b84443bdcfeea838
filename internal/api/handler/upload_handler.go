package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxUploadBytes caps input image uploads at 32 MiB.
const maxUploadBytes = 32 << 20

var allowedUploadExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// UploadHandler receives source images for image-to-image style jobs and
// places them in the engine's shared input directory.
type UploadHandler struct {
	logger   *slog.Logger
	inputDir string
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	return &UploadHandler{
		logger:   deps.Logger,
		inputDir: deps.InputDir,
	}
}

// UploadImage handles POST /api/v1/uploads
// Stores the uploaded file under a fresh name and returns that name for
// use as image_filename or mask_filename in a job submission.
func (h *UploadHandler) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "multipart field 'image' is required",
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedUploadExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported file extension %q", ext),
		})
		return
	}

	storedName := uuid.New().String() + ext
	dest := filepath.Join(h.inputDir, storedName)

	if err := c.SaveUploadedFile(file, dest); err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("filename", file.Filename),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	h.logger.Info("Input image uploaded",
		slog.String("filename", storedName),
		slog.Int64("size", file.Size),
	)

	c.JSON(http.StatusCreated, gin.H{
		"filename": storedName,
	})
}
