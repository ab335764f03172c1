package main

import (
	"context"

	"github.com/joho/godotenv"

	"lipsync/internal/app"
	"lipsync/internal/config"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/pkg/shutdown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(cfg.LoggerConfig("lipsync-worker"))
	if !cfg.RedisEnabled() {
		log.LogFatal("standalone worker needs REDIS_ADDR; use WORKER_EMBEDDED=true on the API instead", nil)
	}
	log.Info("starting lipsync worker",
		"tool", cfg.Tool.Command,
		"concurrency", cfg.Worker.Concurrency,
		"run_timeout", cfg.Tool.RunTimeout.String(),
	)

	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	inf, err := app.Open(context.Background(), cfg, log, shutdownMgr)
	if err != nil {
		_ = shutdownMgr.Shutdown()
		log.LogFatal("failed to initialize backends", err)
	}

	app.StartWorker(cfg, inf, log, shutdownMgr)

	if err := shutdownMgr.Wait(); err != nil {
		log.Error("shutdown finished with errors", "error", err.Error())
	}
}
