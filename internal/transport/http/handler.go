// Package transporthttp is the loopback admin surface for the on-device UI:
// health, relay management, sync status, and the realtime websocket feed.
// Handlers stay thin and delegate to the engine's services.
package transporthttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tillsync/internal/relay"
	syncengine "tillsync/internal/sync"
	derrors "tillsync/pkg/domain-errors"
	"tillsync/pkg/platform/httputil"
)

// RelayManager is the slice of the relay pool the admin API needs.
type RelayManager interface {
	Endpoints() []relay.Endpoint
	AddEndpoint(ctx context.Context, ep relay.Endpoint)
	UpdateEndpoint(ctx context.Context, ep relay.Endpoint) error
	RemoveEndpoint(ctx context.Context, url string) error
	SetPrimary(ctx context.Context, url string) error
}

// Syncer is one entity orchestrator as seen by the status endpoints.
type Syncer interface {
	Status(ctx context.Context) syncengine.Status
	ForceSyncAll(ctx context.Context) error
}

// HealthChecker reports whether a dependency responds.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler wires the admin endpoints to the engine.
type Handler struct {
	relays   RelayManager
	syncers  []Syncer
	realtime *Realtime
	health   []HealthChecker
	logger   *slog.Logger
}

func NewHandler(relays RelayManager, syncers []Syncer, realtime *Realtime, health []HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		relays:   relays,
		syncers:  syncers,
		realtime: realtime,
		health:   health,
		logger:   logger,
	}
}

// NewRouter builds the full router including middleware and metrics.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/relays", h.HandleListRelays)
		r.Post("/relays", h.HandleAddRelay)
		r.Patch("/relays", h.HandleUpdateRelay)
		r.Delete("/relays", h.HandleRemoveRelay)
		r.Put("/relays/primary", h.HandleSetPrimary)

		r.Get("/sync/status", h.HandleSyncStatus)
		r.Post("/sync/force", h.HandleForceSync)

		if h.realtime != nil {
			r.Get("/realtime", h.realtime.Handle)
		}
	})
	return r
}

// HandleHealth reports overall engine health. The relay network being down
// is not unhealthy; the engine is built to run offline.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	for _, dep := range h.health {
		if err := dep.Health(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListRelays handles GET /v1/relays.
func (h *Handler) HandleListRelays(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.relays.Endpoints())
}

// HandleAddRelay handles POST /v1/relays.
func (h *Handler) HandleAddRelay(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[relayRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.relays.AddEndpoint(r.Context(), req.endpoint())
	h.logger.Info("relay added", "url", req.URL)
	httputil.WriteJSON(w, http.StatusCreated, h.relays.Endpoints())
}

// HandleUpdateRelay handles PATCH /v1/relays.
func (h *Handler) HandleUpdateRelay(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[relayRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.relays.UpdateEndpoint(r.Context(), req.endpoint()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.relays.Endpoints())
}

// HandleRemoveRelay handles DELETE /v1/relays?url=.
func (h *Handler) HandleRemoveRelay(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		httputil.WriteError(w, derrors.New(derrors.CodeInvalidInput, "url query parameter required"))
		return
	}
	if err := h.relays.RemoveEndpoint(r.Context(), url); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.Info("relay removed", "url", url)
	httputil.WriteJSON(w, http.StatusOK, h.relays.Endpoints())
}

// HandleSetPrimary handles PUT /v1/relays/primary?url=.
func (h *Handler) HandleSetPrimary(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		httputil.WriteError(w, derrors.New(derrors.CodeInvalidInput, "url query parameter required"))
		return
	}
	if err := h.relays.SetPrimary(r.Context(), url); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.relays.Endpoints())
}

// HandleSyncStatus handles GET /v1/sync/status.
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]syncengine.Status, 0, len(h.syncers))
	for _, s := range h.syncers {
		statuses = append(statuses, s.Status(r.Context()))
	}
	resp := syncStatusResponse{Kinds: statuses}
	if h.realtime != nil {
		resp.Sessions = h.realtime.Sessions()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleForceSync handles POST /v1/sync/force.
func (h *Handler) HandleForceSync(w http.ResponseWriter, r *http.Request) {
	for _, s := range h.syncers {
		if err := s.ForceSyncAll(r.Context()); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	h.logger.Info("forced full sync")
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}
