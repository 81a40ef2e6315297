package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"rtsp-orchestrator/internal/engine"
	"rtsp-orchestrator/internal/platform/config"
	"rtsp-orchestrator/internal/platform/logger"
	"rtsp-orchestrator/internal/platform/metrics"
	"rtsp-orchestrator/internal/rtsp"
	"rtsp-orchestrator/internal/streaming"
)

const defaultPipeline = "videotestsrc ! video/x-raw,width=640,height=480 ! videoconvert ! x264enc ! rtph264pay name=pay0"

func main() {
	_ = config.Load()

	rtspPort := config.GetEnvPort("RTSP_PORT", streaming.DefaultPort)
	httpPort := config.GetEnv("HTTP_PORT", "8080")
	mountsFile := config.GetEnv("MOUNTS_FILE", "")
	stopTimeout := config.GetEnvDuration("STOP_TIMEOUT", 5*time.Second)
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	templates, err := loadTemplates(mountsFile)
	if err != nil {
		log.Error("cannot load mounts", "file", mountsFile, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	transport := rtsp.NewTransport(log)
	launcher := engine.NewLauncher(transport, log)
	ctrl := streaming.NewController(launcher, transport, log, met, streaming.ControllerConfig{
		Port:            rtspPort,
		TeardownTimeout: stopTimeout,
	})
	transport.SetBackend(ctrl)
	ctrl.OnSessionClosed(transport.SessionClosed)

	if err := ctrl.Start(rtspPort, templates); err != nil {
		log.Error("rtsp server failed to start", "port", rtspPort, "error", err)
		os.Exit(1)
	}

	h := streaming.NewHandler(ctrl, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st := ctrl.Status(r.Context())
			met.SetGauges(st.Sessions, st.Instances, st.Mounts)
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + httpPort, Handler: r}

	log.Info("server starting",
		"rtsp_port", rtspPort,
		"http_port", httpPort,
		"mounts", len(templates),
		"log_level", logLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		ctrl.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// loadTemplates reads the mounts file, or serves the default test pipeline
// on a single mount when no file is configured.
func loadTemplates(path string) ([]streaming.Template, error) {
	if path == "" {
		sharing, err := streaming.ParseSharing(config.GetEnv("DEFAULT_SHARING", string(streaming.SharingShared)))
		if err != nil {
			return nil, err
		}
		return []streaming.Template{{
			MountPath:   config.GetEnv("DEFAULT_MOUNT", "/video1"),
			Description: config.GetEnv("DEFAULT_PIPELINE", defaultPipeline),
			Sharing:     sharing,
		}}, nil
	}

	mounts, err := config.LoadMounts(path)
	if err != nil {
		return nil, err
	}
	templates := make([]streaming.Template, len(mounts))
	for i, m := range mounts {
		sharing := streaming.SharingShared
		if m.Sharing != "" {
			if sharing, err = streaming.ParseSharing(m.Sharing); err != nil {
				return nil, fmt.Errorf("mount %d (%s): %w", i, m.MountPath, err)
			}
		}
		templates[i] = streaming.Template{MountPath: m.MountPath, Description: m.Description, Sharing: sharing}
	}
	return templates, nil
}
