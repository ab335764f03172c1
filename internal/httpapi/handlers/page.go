package handlers

import (
	"net/http"

	"lipsync/internal/web"
)

// Page serves the single-page upload form.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(web.Index)
}
