package httpserver

import (
	"net/http"
	"time"
)

// New builds the loopback admin server. No write timeout: /v1/realtime
// holds a streaming websocket connection for the lifetime of a UI session.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
