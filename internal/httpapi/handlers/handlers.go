package handlers

import (
	"github.com/redis/go-redis/v9"

	"lipsync/internal/pkg/logger"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
	"lipsync/internal/worker/queue"
)

// DefaultBatchSize applies when a run is submitted without batch_size.
const DefaultBatchSize = 8

type Deps struct {
	Store  ports.RunStore
	RDB    *redis.Client // optional
	SP     ports.StorageProvider
	Queue  queue.Queue
	Broker progress.Broker
	Log    *logger.Logger

	MaxUploadBytes int64
	// AllowedOrigins are accepted for websocket upgrades besides same-host ones.
	AllowedOrigins []string
}

type Handler struct {
	store  ports.RunStore
	rdb    *redis.Client
	sp     ports.StorageProvider
	queue  queue.Queue
	broker progress.Broker
	log    *logger.Logger

	maxUploadBytes int64
	upgrader       wsUpgrader
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	return &Handler{
		store:  d.Store,
		rdb:    d.RDB,
		sp:     d.SP,
		queue:  d.Queue,
		broker: d.Broker,
		log:    log.WithComponent("api"),

		maxUploadBytes: maxUpload,
		upgrader:       newUpgrader(d.AllowedOrigins),
	}
}
