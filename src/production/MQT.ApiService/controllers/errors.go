package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.ApiService/middleware"
	geofence "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Geofence"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	interfaces "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Interfaces"
	tracking "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Tracking"
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, interfaces.ErrReferential):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, geofence.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracking.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": msg}; unexpected errors are logged.
func respondError(ctx *gin.Context, log *logger.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		requestLogger(ctx, log).ErrorWithError(err, "Request failed")
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func requestLogger(ctx *gin.Context, log *logger.Logger) *logger.Logger {
	if id := ctx.GetString(middleware.RequestIDKey); id != "" {
		return log.WithRequestID(id)
	}
	return log
}
