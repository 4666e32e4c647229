package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-supervisor/internal/backend"
	"hls-supervisor/internal/hls"
	"hls-supervisor/internal/platform/config"
	"hls-supervisor/internal/platform/logger"
	"hls-supervisor/internal/platform/metrics"
	"hls-supervisor/internal/supervisor"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	backendURL := config.GetEnv("BACKEND_URL", "")
	camerasFile := config.GetEnv("CAMERAS_FILE", "")

	log := logger.New(logLevel, logFormat)

	opts := supervisor.DefaultOptions()
	opts.EndpointTemplate = config.GetEnv("MEDIA_ENDPOINT_TEMPLATE", "http://localhost:5000/system/cam/tmp/{camera}/{camera}.m3u8")
	opts.StallTimeout = config.GetEnvDuration("STALL_TIMEOUT", opts.StallTimeout)
	opts.HealthCheckInterval = config.GetEnvDuration("HEALTH_CHECK_INTERVAL", opts.HealthCheckInterval)
	opts.MaxRetryAttempts = config.GetEnvInt("MAX_RETRY_ATTEMPTS", opts.MaxRetryAttempts)
	opts.ManifestProbe = config.GetEnvBool("MANIFEST_PROBE", false)

	cameras, err := loadCameras(camerasFile)
	if err != nil {
		log.Error("loading cameras", "error", err)
		os.Exit(1)
	}
	if len(cameras) == 0 {
		log.Error("no cameras configured; set CAMERAS_FILE or CAMERA_IDS")
		os.Exit(1)
	}

	met := metrics.New()
	hub := supervisor.NewHub(log)

	var (
		be        supervisor.Backend
		restarter supervisor.Restarter
	)
	if backendURL != "" {
		client, err := backend.NewClient(backendURL,
			backend.WithRateLimit(float64(config.GetEnvInt("BACKEND_RATE_LIMIT", 2)), 5))
		if err != nil {
			log.Error("backend client", "error", err)
			os.Exit(1)
		}
		be, restarter = client, client
	} else {
		log.Warn("BACKEND_URL not set; restart and recording commands are disabled")
	}

	reg := supervisor.NewRegistry()
	svc := supervisor.NewService(reg, be, met, hub, log)

	mediaClient := &http.Client{}
	newPlayer := hls.NewFactory(mediaClient, log)
	prober := hls.NewProber(mediaClient)

	for _, cam := range cameras {
		camOpts := opts
		if cam.ManifestProbe != nil {
			camOpts.ManifestProbe = *cam.ManifestProbe
		}
		if cam.StallTimeoutMs > 0 {
			camOpts.StallTimeout = time.Duration(cam.StallTimeoutMs) * time.Millisecond
		}
		if cam.HealthCheckIntervalMs > 0 {
			camOpts.HealthCheckInterval = time.Duration(cam.HealthCheckIntervalMs) * time.Millisecond
		}
		if cam.MaxRetryAttempts > 0 {
			camOpts.MaxRetryAttempts = cam.MaxRetryAttempts
		}

		sup, err := supervisor.New(supervisor.Config{
			ID:        supervisor.CameraID(cam.ID),
			Name:      cam.Name,
			Options:   camOpts,
			NewPlayer: newPlayer,
			Display:   hls.NewSink(),
			Prober:    prober,
			Restarter: restarter,
			Metrics:   met,
			Logger:    logger.ForCamera(log, cam.ID),
			OnChange:  svc.StatusChanged,
		})
		if err != nil {
			log.Error("creating supervisor", "camera_id", cam.ID, "error", err)
			os.Exit(1)
		}
		if err := reg.Add(sup); err != nil {
			log.Error("registering supervisor", "camera_id", cam.ID, "error", err)
			os.Exit(1)
		}
	}

	h := supervisor.NewHandler(svc, hub, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetSessions(reg.Len()) }).ServeHTTP(w, r)
	})
	h.Mount(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	svc.StartAll()

	log.Info("server starting",
		"port", port,
		"cameras", reg.Len(),
		"backend", backendURL,
		"stall_timeout", opts.StallTimeout.String(),
		"health_check_interval", opts.HealthCheckInterval.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping supervisors")
	svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// loadCameras reads CAMERAS_FILE when set, otherwise the CAMERA_IDS list.
func loadCameras(path string) ([]config.Camera, error) {
	if path != "" {
		return config.LoadCameras(path)
	}
	return config.CamerasFromList(config.GetEnv("CAMERA_IDS", "1,2,3")), nil
}
