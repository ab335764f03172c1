// Package httpapi wires the lipsync HTTP routes.
package httpapi

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"lipsync/internal/httpapi/handlers"
	"lipsync/internal/httpkit"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/pkg/middleware"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
	"lipsync/internal/worker/queue"
)

// requestTimeout bounds the plain JSON reads; uploads, sockets and video
// streams run as long as they need.
const requestTimeout = 30 * time.Second

type Deps struct {
	Store  ports.RunStore
	RDB    *redis.Client // optional; enables rate limiting
	SP     ports.StorageProvider
	Queue  queue.Queue
	Broker progress.Broker
	Log    *logger.Logger

	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	RateLimitPerHour   int
	TrustedProxies     []netip.Prefix
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After", "Content-Disposition"},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(handlers.Deps{
		Store:          d.Store,
		RDB:            d.RDB,
		SP:             d.SP,
		Queue:          d.Queue,
		Broker:         d.Broker,
		Log:            log,
		MaxUploadBytes: d.MaxUploadBytes,
		AllowedOrigins: d.CORSAllowedOrigins,
	})
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- PAGE ----
	r.Get("/", h.Page)

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RUNS ----
	r.With(middleware.RateLimit(d.RDB, "runs", d.RateLimitPerHour, time.Hour, d.TrustedProxies)).
		Post("/runs", wrap(h.PostRun))
	r.With(middleware.Timeout(requestTimeout)).Get("/runs", wrap(h.ListRuns))
	r.With(middleware.Timeout(requestTimeout)).Get("/runs/{runId}", wrap(h.GetRun))
	r.Get("/runs/{runId}/ws", wrap(h.RunEvents))
	r.Get("/runs/{runId}/video", wrap(h.RunVideo))

	return r
}
