// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token to put in GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"lipsync/internal/pkg/logger"
	"lipsync/internal/storage"
)

const authTimeout = 3 * time.Minute

func main() {
	_ = godotenv.Load()
	log := logger.New(logger.Config{Level: "info", Format: "text", Output: os.Stderr, ServiceName: "gdrive-auth"})
	ctx := context.Background()

	clientID := mustEnv(log, "GDRIVE_CLIENT_ID")
	clientSecret := mustEnv(log, "GDRIVE_CLIENT_SECRET")

	// Local callback on a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("failed to listen for the OAuth callback", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	conf := storage.GDriveOAuthConfig(clientID, clientSecret)
	conf.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- fmt.Errorf("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("missing code")
		default:
			fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()

	// Offline access with forced consent so Google returns a refresh token.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	fmt.Println("Open this URL in your browser:")
	fmt.Println()
	fmt.Println(authURL)
	fmt.Println()
	log.Info("waiting for authorization", "redirect_url", conf.RedirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		_ = srv.Close()
		log.LogFatal("authorization failed", err)
	case <-time.After(authTimeout):
		_ = srv.Close()
		log.LogFatal("timed out waiting for authorization", nil)
	}
	_ = srv.Close()

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.LogFatal("token exchange failed", err)
	}

	if strings.TrimSpace(tok.RefreshToken) == "" {
		log.Warn("no refresh token returned; revoke the app's access at https://myaccount.google.com/permissions and run again")
		os.Exit(1)
	}

	fmt.Println("GDRIVE_REFRESH_TOKEN=" + tok.RefreshToken)
}

func mustEnv(log *logger.Logger, key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.LogFatal("missing required environment variable", nil, "key", key)
	}
	return v
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
