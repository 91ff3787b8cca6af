package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	container "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Container"
	health "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Health"
	mqtingestor "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.IngestorService/ingestor"
	metrics "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Metrics"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting GNSS Ingestor Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := ctr.GetTrackingService(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize tracking service")
	}

	archive, err := ctr.GetRawMessageArchive()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect raw message archive")
	}

	checker, err := ctr.GetHealthChecker(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize health checker")
	}

	ing := mqtingestor.New(ctr.GetConfig(), svc, archive, logger)
	checker.Register("mqtt", func(context.Context) error {
		if !ing.IsConnected() {
			return errors.New("not connected to broker")
		}
		return nil
	})

	if err := ing.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}
	defer ing.Stop()

	server := &http.Server{
		Addr:         ":" + ctr.GetConfig().Server.Port,
		Handler:      healthMux(checker),
		ReadTimeout:  ctr.GetConfig().Server.ReadTimeout,
		WriteTimeout: ctr.GetConfig().Server.WriteTimeout,
		IdleTimeout:  ctr.GetConfig().Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Health server starting on port " + ctr.GetConfig().Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		logger.ErrorWithError(err, "Health server failed")
	}

	logger.Info("Shutting down...")
}

// healthMux serves /health and /metrics
func healthMux(checker *health.HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := checker.GetHealthStatus(ctx)
		w.Header().Set("Content-Type", "application/json")
		if status["status"] == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
