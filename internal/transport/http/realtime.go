package transporthttp

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"tillsync/internal/session"
)

// Realtime streams merged record updates to UI sessions over a websocket,
// so a till sees another till's sale without polling.
type Realtime struct {
	bus      session.Bus
	registry *session.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewRealtime(bus session.Bus, registry *session.Registry, logger *slog.Logger) *Realtime {
	return &Realtime{
		bus:      bus,
		registry: registry,
		logger:   logger,
		// Loopback-only surface; the UI is served from the same device.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Sessions lists connected UI sessions.
func (rt *Realtime) Sessions() []session.Session {
	return rt.registry.List()
}

// Handle upgrades the connection and streams updates until the client
// disconnects. The origin query parameter, when set, suppresses the
// client's own echoes.
func (rt *Realtime) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Warn("realtime upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	origin := r.URL.Query().Get("origin")
	sess := rt.registry.Add(r.UserAgent(), r.RemoteAddr)
	defer rt.registry.Remove(sess.ID)
	rt.logger.Info("realtime session connected", "session_id", sess.ID, "device", sess.DisplayName)

	// Buffered so a burst of merges never blocks the bus; overflow drops
	// and the UI refetches from the cache-backed API.
	updates := make(chan session.Update, 64)
	cancel, err := rt.bus.Subscribe(r.Context(), func(u session.Update) {
		if origin != "" && u.Origin == origin {
			return
		}
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		rt.logger.Error("realtime bus subscribe failed", "error", err)
		return
	}
	defer cancel()

	// Reader only detects disconnect; clients send nothing meaningful.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case u := <-updates:
			if err := ws.WriteJSON(u); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
