package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

type GeofenceService interface {
	CreateGeofence(ctx context.Context, fence mqtmodels.Geofence) (*mqtmodels.Geofence, error)
	GetGeofence(ctx context.Context, geofenceID int64) (*mqtmodels.Geofence, error)
	ListGeofences(ctx context.Context) ([]mqtmodels.Geofence, error)
}

// GeofenceController handles geofence requests
type GeofenceController struct {
	service GeofenceService
	logger  *logger.Logger
}

func NewGeofenceController(service GeofenceService, logger *logger.Logger) *GeofenceController {
	return &GeofenceController{
		service: service,
		logger:  logger.WithComponent("geofence_controller"),
	}
}

// RegisterRoutes registers the geofence routes with Gin
func (c *GeofenceController) RegisterRoutes(router gin.IRouter) {
	geofences := router.Group("/api/geofences")
	{
		geofences.GET("", c.ListGeofences)
		geofences.POST("", c.CreateGeofence)
		geofences.GET("/:id", c.GetGeofence)
	}
}

type CreateGeofenceRequest struct {
	Name      string                 `json:"name" binding:"required"`
	CenterLat *float64               `json:"center_lat" binding:"required"`
	CenterLng *float64               `json:"center_lng" binding:"required"`
	Radius    *float64               `json:"radius" binding:"required"`
	Type      mqtmodels.GeofenceType `json:"type" binding:"required"`
}

func (c *GeofenceController) CreateGeofence(ctx *gin.Context) {
	var req CreateGeofenceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fence, err := c.service.CreateGeofence(ctx.Request.Context(), mqtmodels.Geofence{
		Name:      req.Name,
		CenterLat: *req.CenterLat,
		CenterLng: *req.CenterLng,
		Radius:    *req.Radius,
		Type:      req.Type,
	})
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, fence)
}

func (c *GeofenceController) GetGeofence(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	fence, err := c.service.GetGeofence(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, fence)
}

func (c *GeofenceController) ListGeofences(ctx *gin.Context) {
	fences, err := c.service.ListGeofences(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, fences)
}
