package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// Session is one connected UI client.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Registry tracks connected UI sessions for the status surface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Add registers a new session and derives its display name from the
// client's user-agent string.
func (r *Registry) Add(userAgent, remoteAddr string) Session {
	s := Session{
		ID:          uuid.NewString(),
		DisplayName: ParseUserAgent(userAgent),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// List returns the connected sessions, order unspecified.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ParseUserAgent turns a raw user-agent string into a human display name
// like "Chrome on Mac OS X". Unparseable parts degrade gracefully.
func ParseUserAgent(raw string) string {
	if raw == "" {
		return "Unknown Device"
	}
	ua := useragent.New(raw)

	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	platform := ua.OSInfo().Name
	if platform == "" {
		platform = ua.Platform()
	}
	if platform == "" {
		platform = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + platform)
}
