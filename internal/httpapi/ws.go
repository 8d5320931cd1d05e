package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/monitor"
)

const wsWriteTimeout = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		return host == strings.ToLower(strings.TrimSpace(u.Host))
	},
}

// handleWS pushes a snapshot on connect and after every state change.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	updates, cancel, err := s.Monitor.Subscribe(r.Context())
	if err != nil {
		s.fail(w, "subscribe", err)
		return
	}
	defer cancel()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// the client never sends anything useful; reading detects a close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap monitor.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(snap)
}
