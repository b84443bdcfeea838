package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artforge/artforge-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "artforge-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	assetHandler := handler.NewAssetHandler(deps)
	uploadHandler := handler.NewUploadHandler(deps)

	// Job event stream
	r.GET("/ws", jobHandler.NotificationSocket)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a generation job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details with assets
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a queued job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// DELETE /api/v1/jobs/:job_id - Delete a terminal job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		assets := v1.Group("/assets")
		{
			// GET /api/v1/assets - List a user's assets
			assets.GET("", assetHandler.ListAssets)

			// GET /api/v1/assets/:asset_id - Get asset details
			assets.GET("/:asset_id", assetHandler.GetAsset)

			// DELETE /api/v1/assets/:asset_id - Delete an asset
			assets.DELETE("/:asset_id", assetHandler.DeleteAsset)
		}

		// POST /api/v1/uploads - Upload a source image
		v1.POST("/uploads", uploadHandler.UploadImage)
	}

	return r
}
