package controllers

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	geofence "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Geofence"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
)

// DeviceService is the device side of the tracking service
type DeviceService interface {
	ListDevices(ctx context.Context) ([]mqtmodels.Device, error)
	GetDevice(ctx context.Context, deviceID int64) (*mqtmodels.Device, error)
	CreateDevice(ctx context.Context, name, deviceType string) (*mqtmodels.Device, error)
	RecordManualLocation(ctx context.Context, deviceID int64, pos mqtmodels.Position) (*mqtmodels.PositionSample, error)
	ListHistory(ctx context.Context, deviceID int64, order mqtmodels.SortOrder) (iter.Seq2[mqtmodels.PositionSample, error], error)
	ConnectGeofence(ctx context.Context, deviceID, geofenceID int64) (geofence.Result, error)
	ResolveGeofence(ctx context.Context, deviceID int64) (*mqtmodels.Geofence, error)
}

// DeviceController handles device requests
type DeviceController struct {
	service DeviceService
	logger  *logger.Logger
}

// NewDeviceController creates a new device controller
func NewDeviceController(service DeviceService, logger *logger.Logger) *DeviceController {
	return &DeviceController{
		service: service,
		logger:  logger.WithComponent("device_controller"),
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router gin.IRouter) {
	devices := router.Group("/api/devices")
	{
		devices.GET("", c.ListDevices)
		devices.POST("", c.CreateDevice)
		devices.GET("/:id", c.GetDevice)
		devices.POST("/:id/location", c.UpdateLocation)
		devices.GET("/:id/history", c.GetHistory)
		devices.POST("/:id/connect-geofence", c.ConnectGeofence)
		devices.GET("/:id/geofence", c.GetGeofence)
	}
}

type CreateDeviceRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"`
}

type LocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type ConnectGeofenceRequest struct {
	GeofenceID int64 `json:"geofenceId" binding:"required"`
}

func parseID(ctx *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	devices, err := c.service.ListDevices(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, devices)
}

func (c *DeviceController) CreateDevice(ctx *gin.Context) {
	var req CreateDeviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := c.service.CreateDevice(ctx.Request.Context(), req.Name, req.Type)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, device)
}

func (c *DeviceController) GetDevice(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	device, err := c.service.GetDevice(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, device)
}

func (c *DeviceController) UpdateLocation(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	var req LocationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pos := mqtmodels.Position{Latitude: *req.Latitude, Longitude: *req.Longitude}
	sample, err := c.service.RecordManualLocation(ctx.Request.Context(), id, pos)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Location updated successfully",
		"sample":  sample,
	})
}

func (c *DeviceController) GetHistory(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	order := mqtmodels.SortOrder(ctx.DefaultQuery("order", string(mqtmodels.OrderDescending)))
	seq, err := c.service.ListHistory(ctx.Request.Context(), id, order)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	samples := make([]mqtmodels.PositionSample, 0)
	for sample, err := range seq {
		if err != nil {
			respondError(ctx, c.logger, err)
			return
		}
		samples = append(samples, sample)
	}
	ctx.JSON(http.StatusOK, samples)
}

func (c *DeviceController) ConnectGeofence(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	var req ConnectGeofenceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := c.service.ConnectGeofence(ctx.Request.Context(), id, req.GeofenceID)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	requestLogger(ctx, c.logger).WithFields(map[string]interface{}{
		"device_id":   id,
		"geofence_id": req.GeofenceID,
		"status":      result.Status,
	}).Info("Device connected to geofence")

	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Device connected to geofence and status updated",
		"status":   result.Status,
		"inside":   result.Inside,
		"distance": result.Distance,
	})
}

func (c *DeviceController) GetGeofence(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	fence, err := c.service.ResolveGeofence(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, fence)
}
