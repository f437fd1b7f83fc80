package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(AuthMiddleware(h.cfg))
	{
		// Asset management
		api.POST("/upload", h.handleUpload)
		api.GET("/files", h.handleListFiles)
		api.DELETE("/files/:fileId", h.handleDeleteFile)
		api.GET("/info/:fileId", h.handleInfo)
		api.GET("/preview/:fileId", h.handlePreview)
		api.GET("/outputs", h.handleListOutputs)
		api.GET("/outputs/:filename", h.handleGetOutput)
		api.GET("/download/:fileId", h.handleDownload)

		// Working-asset selection
		api.POST("/select", h.handleSelect)
		api.GET("/current", h.handleCurrent)

		// Direct edit endpoints
		api.POST("/trim", h.editHandler("trim"))
		api.POST("/splice", h.editHandler("splice"))
		api.POST("/effects", h.editHandler("effects"))
		api.POST("/convert", h.editHandler("convert"))
		api.POST("/gif", h.editHandler("gif"))
		api.POST("/audio/extract", h.editHandler("extract_audio"))
		api.POST("/audio/background", h.editHandler("background_audio"))
		api.POST("/audio/effect", h.editHandler("sound_effect"))
		api.POST("/subtitles", h.editHandler("subtitles"))

		// Natural-language editing
		api.POST("/ai/edit", h.handleAIEdit)
		api.GET("/ai/edit/stream/:fileId", h.handleAIEditStream)
		api.POST("/ai/analyze", h.handleAnalyze)
	}
	return r
}
