package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"lipsync/internal/app"
	"lipsync/internal/config"
	"lipsync/internal/httpapi"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/pkg/shutdown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(cfg.LoggerConfig("lipsync-api"))
	log.Info("starting lipsync API",
		"version", "0.1.0",
		"embedded_worker", cfg.Worker.Embedded,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	inf, err := app.Open(ctx, cfg, log, shutdownMgr)
	if err != nil {
		_ = shutdownMgr.Shutdown()
		log.LogFatal("failed to initialize backends", err)
	}

	if cfg.Worker.Embedded {
		app.StartWorker(cfg, inf, log, shutdownMgr)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:              inf.Store,
		RDB:                inf.RDB,
		SP:                 inf.SP,
		Queue:              inf.Queue,
		Broker:             inf.Broker,
		Log:                log,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.HTTP.MaxUploadMB << 20,
		RateLimitPerHour:   cfg.HTTP.RateLimitPerHour,
		TrustedProxies:     cfg.HTTP.TrustedProxies,
	})

	// No WriteTimeout: video downloads and event sockets are long-lived.
	server := &http.Server{
		Addr:              net.JoinHostPort("0.0.0.0", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	if err := shutdownMgr.Wait(); err != nil {
		log.Error("shutdown finished with errors", "error", err.Error())
	}
}
