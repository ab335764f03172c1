package handlers

import (
	"context"
	"net/http"
	"time"

	"lipsync/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "lipsync-api",
		"version": "0.1.0",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] == "error" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

// deepHealthCheck performs detailed health checks on dependencies.
func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"store":   h.check(ctx, h.store.Ping),
		"storage": h.check(ctx, h.sp.Ping),
	}
	checks["storage"]["provider"] = h.sp.Provider()

	if h.rdb != nil {
		checks["redis"] = h.check(ctx, func(ctx context.Context) error {
			return h.rdb.Ping(ctx).Err()
		})
	} else {
		checks["redis"] = map[string]any{"status": "disabled"}
	}
	return checks
}

func (h *Handler) check(ctx context.Context, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
