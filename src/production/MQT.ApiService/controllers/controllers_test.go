package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.ApiService/middleware"
	health "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Health"
	logger "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Repository/Implementation"
	tracking "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Tracking"
)

type testServer struct {
	router  *gin.Engine
	service *tracking.Service
	checker *health.HealthChecker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := implementation.NewBoltStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.Nop()
	svc := tracking.NewService(store, log, tracking.Options{DefaultDeviceType: "walter", ReevaluateGeofence: true})
	checker := health.NewHealthChecker()
	checker.Register("store", store.Ping)

	router := gin.New()
	router.Use(middleware.RequestContext(log))
	NewDeviceController(svc, log).RegisterRoutes(router)
	NewGeofenceController(svc, log).RegisterRoutes(router)
	NewHealthController(checker).RegisterRoutes(router)

	return &testServer{router: router, service: svc, checker: checker}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateAndGetDevice(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/devices", gin.H{"name": "AA:BB", "type": "walter"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[mqtmodels.Device](t, rec)
	assert.Equal(t, "AA:BB", created.Name)
	assert.Equal(t, mqtmodels.StatusActive, created.Status)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[mqtmodels.Device](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]mqtmodels.Device](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/api/devices", gin.H{"name": "AA:BB"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeviceRequestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{name: "missing name", method: http.MethodPost, path: "/api/devices", body: gin.H{"type": "walter"}, want: http.StatusBadRequest},
		{name: "bad id", method: http.MethodGet, path: "/api/devices/abc", want: http.StatusBadRequest},
		{name: "unknown device", method: http.MethodGet, path: "/api/devices/42", want: http.StatusNotFound},
		{name: "history of unknown device", method: http.MethodGet, path: "/api/devices/42/history", want: http.StatusNotFound},
		{name: "location of unknown device", method: http.MethodPost, path: "/api/devices/42/location", body: gin.H{"latitude": 1, "longitude": 2}, want: http.StatusNotFound},
		{name: "location without longitude", method: http.MethodPost, path: "/api/devices/42/location", body: gin.H{"latitude": 1}, want: http.StatusBadRequest},
		{name: "connect without geofence id", method: http.MethodPost, path: "/api/devices/42/connect-geofence", body: gin.H{}, want: http.StatusBadRequest},
		{name: "connect unknown device", method: http.MethodPost, path: "/api/devices/42/connect-geofence", body: gin.H{"geofenceId": 1}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestLocationAndHistory(t *testing.T) {
	s := newTestServer(t)
	device, err := s.service.CreateDevice(context.Background(), "TRACK", "walter")
	require.NoError(t, err)
	base := fmt.Sprintf("/api/devices/%d", device.ID)

	for _, lat := range []float64{10, 20, 30} {
		rec := s.do(t, http.MethodPost, base+"/location", gin.H{"latitude": lat, "longitude": 5})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, base+"/location", gin.H{"latitude": 123, "longitude": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	desc := decode[[]mqtmodels.PositionSample](t, rec)
	require.Len(t, desc, 3)
	assert.Equal(t, 30.0, desc[0].Latitude)

	rec = s.do(t, http.MethodGet, base+"/history?order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	asc := decode[[]mqtmodels.PositionSample](t, rec)
	require.Len(t, asc, 3)
	assert.Equal(t, 10.0, asc[0].Latitude)

	rec = s.do(t, http.MethodGet, base+"/history?order=random", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[mqtmodels.Device](t, rec)
	require.NotNil(t, got.LastLatitude)
	assert.Equal(t, 30.0, *got.LastLatitude)
}

func TestConnectGeofence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPost, "/api/geofences", gin.H{
		"name": "yard", "center_lat": 55.0, "center_lng": 10.0, "radius": 100, "type": "exiting",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	fence := decode[mqtmodels.Geofence](t, rec)

	bare, err := s.service.CreateDevice(ctx, "BARE", "walter")
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/connect-geofence", bare.ID), gin.H{"geofenceId": fence.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	_, err = s.service.HandlePosition(ctx, "AA:BB:CC:DD", mqtmodels.Position{Latitude: 55, Longitude: 10})
	require.NoError(t, err)
	devices, err := s.service.ListDevices(ctx)
	require.NoError(t, err)
	var placed mqtmodels.Device
	for _, d := range devices {
		if d.Name == "AA:BB:CC:DD" {
			placed = d
		}
	}
	require.NotZero(t, placed.ID)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/connect-geofence", placed.ID), gin.H{"geofenceId": fence.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "active", body["status"])
	assert.NotEmpty(t, body["message"])

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d/geofence", placed.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fence.ID, decode[mqtmodels.Geofence](t, rec).ID)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/connect-geofence", placed.ID), gin.H{"geofenceId": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGeofenceEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/geofences", gin.H{
		"name": "bad", "center_lat": 55.0, "center_lng": 10.0, "radius": 10, "type": "hovering",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/geofences", gin.H{"name": "no center", "radius": 10, "type": "entering"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/geofences", gin.H{
		"name": "point", "center_lat": 0.0, "center_lng": 0.0, "radius": 0, "type": "entering",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	fence := decode[mqtmodels.Geofence](t, rec)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/geofences/%d", fence.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mqtmodels.GeofenceEntering, decode[mqtmodels.Geofence](t, rec).Type)

	rec = s.do(t, http.MethodGet, "/api/geofences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]mqtmodels.Geofence](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/geofences/77", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.checker.Register("broken", func(context.Context) error { return errors.New("down") })
	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]interface{}](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gnss_api_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", tracking.ErrInvalidArgument)))
}
