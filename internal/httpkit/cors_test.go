package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCORSHandler(opt CORSOptions) http.Handler {
	return CORS(opt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := newCORSHandler(CORSOptions{AllowedOrigins: []string{" http://localhost:5173/ "}})

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSRejectedOrigin(t *testing.T) {
	h := newCORSHandler(CORSOptions{AllowedOrigins: []string{"http://localhost:5173"}, DebugHeader: true})

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "origin=http://evil.example allowed=false", rec.Header().Get("X-CORS-Debug"))
}

func TestCORSPreflight(t *testing.T) {
	h := newCORSHandler(CORSOptions{AllowedOrigins: []string{"*"}, MaxAgeSeconds: 60, AllowCredentials: true})

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "60", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOriginMatcher(t *testing.T) {
	match := OriginMatcher([]string{"https://A.example", ""})
	assert.True(t, match("https://a.example"))
	assert.False(t, match("https://b.example"))
	assert.False(t, match(""))
	assert.False(t, OriginMatcher(nil)("https://a.example"))
}
