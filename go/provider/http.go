package provider

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagapay/core/go/metrics"
)

// NewRouter builds the provider adapter's ops-only HTTP surface.
func NewRouter(serviceName string) *gin.Engine {
	var r = gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(serviceName))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}
