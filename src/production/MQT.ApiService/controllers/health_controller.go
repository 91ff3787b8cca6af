package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	metrics "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Metrics"
)

// ReadinessChecker reports dependency health
type ReadinessChecker interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

// HealthController handles health and metrics requests
type HealthController struct {
	checker ReadinessChecker
}

// NewHealthController creates a new health controller
func NewHealthController(checker ReadinessChecker) *HealthController {
	return &HealthController{checker: checker}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	status := c.checker.GetHealthStatus(checkCtx)
	if status["status"] != "ok" {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
