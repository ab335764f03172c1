package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"lipsync/internal/httpkit"
	apperrors "lipsync/internal/pkg/errors"
	"lipsync/internal/progress"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

type wsUpgrader = websocket.Upgrader

// newUpgrader accepts same-host origins plus the configured CORS origins.
func newUpgrader(allowedOrigins []string) wsUpgrader {
	allowed := httpkit.OriginMatcher(allowedOrigins)
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed(origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// wsSnapshot is the first message on a run's event socket.
type wsSnapshot struct {
	Type string  `json:"type"`
	Run  runView `json:"run"`
}

// RunEvents upgrades to a websocket that sends the run's current snapshot and
// then its live events until the run finishes or the client goes away.
func (h *Handler) RunEvents(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}
	log := h.log.FromContext(r.Context()).WithRunID(run.ID)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Subscribe before reading the snapshot so no event falls in between.
	events, unsubscribe, err := h.broker.Subscribe(ctx, run.ID)
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "api.events", "progress events unavailable")
	}
	defer unsubscribe()

	if run, err = h.loadRun(r); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		log.Debug("websocket upgrade failed", "error", err.Error())
		return nil
	}
	defer conn.Close()

	// The read loop only handles pongs and notices a closed connection.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(conn, wsSnapshot{Type: "snapshot", Run: newRunView(run)}); err != nil {
		return nil
	}
	if run.Status.Terminal() {
		_ = writeJSON(conn, progress.FinishedEvent(run))
		closeNormal(conn, "run finished")
		return nil
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeNormal(conn, "stream closed")
				return nil
			}
			if err := writeJSON(conn, ev); err != nil {
				log.Debug("websocket write failed", "error", err.Error())
				return nil
			}
			if ev.Type == progress.EventFinished {
				closeNormal(conn, "run finished")
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func closeNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
