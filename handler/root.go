package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// Root 存在前端页面时返回 index.html，否则返回 API 简介
func Root(staticDir string) gin.HandlerFunc {
	index := filepath.Join(staticDir, "index.html")
	return func(c *gin.Context) {
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			c.File(index)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Traffic Sign Detection API",
			"status":  "running",
			"endpoints": gin.H{
				"detect":       "/detect",
				"detect_image": "/detect/image",
				"health":       "/health",
			},
		})
	}
}
