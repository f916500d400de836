package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/mutualboard/internal/health"
)

// Healthz handles GET /healthz — liveness only.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz returns a handler for GET /readyz that reports dependency health.
// A nil checker always reports ready.
func Readyz(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ready, deps := checker.Ready()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": deps})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": deps})
	}
}
