package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tillsync/internal/event"
	"tillsync/pkg/platform/sentinel"
)

// ListStore persists the endpoint list between runs so the pool comes up
// offline. The cache settings table implements it.
type ListStore interface {
	LoadEndpoints(ctx context.Context) ([]Endpoint, error)
	SaveEndpoints(ctx context.Context, eps []Endpoint) error
}

// PoolConfig wires the pool's collaborators.
type PoolConfig struct {
	// Defaults are the built-in endpoint URLs for this environment.
	Defaults []string
	Store    ListStore
	Dial     Dialer
	// QueryTimeout bounds each fan-out query. Defaults to 10s.
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// Pool maintains relay endpoints with per-endpoint roles and a primary, and
// fans operations out across them.
type Pool struct {
	store        ListStore
	dial         Dialer
	queryTimeout time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer

	mu        sync.RWMutex
	endpoints []Endpoint
	conns     map[string]Conn
}

// NewPool builds the pool. Call Load before use.
func NewPool(cfg PoolConfig) *Pool {
	dial := cfg.Dial
	if dial == nil {
		dial = DialWebsocket
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	p := &Pool{
		store:        cfg.Store,
		dial:         dial,
		queryTimeout: queryTimeout,
		logger:       cfg.Logger,
		tracer:       otel.Tracer("tillsync/relay"),
		conns:        make(map[string]Conn),
	}
	defaults := make([]Endpoint, 0, len(cfg.Defaults))
	for _, url := range cfg.Defaults {
		defaults = append(defaults, defaultEndpoint(url))
	}
	p.endpoints = ensurePrimary(defaults)
	return p
}

// Load merges the locally cached endpoint list over the defaults. It does no
// network I/O, so the pool is usable offline immediately; the remote list is
// layered on later via RefreshRemote.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	cached, err := p.store.LoadEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("load cached endpoints: %w", err)
	}
	p.mu.Lock()
	p.endpoints = mergeEndpoints(p.endpoints, cached)
	p.mu.Unlock()
	return nil
}

// RefreshRemote fetches the remotely published endpoint list and adds any
// unknown endpoints. Runs after the pool is already usable; a fetch failure
// only logs.
func (p *Pool) RefreshRemote(ctx context.Context, fetch func(context.Context) ([]Endpoint, error)) {
	remote, err := fetch(ctx)
	if err != nil {
		p.logger.Warn("remote relay list fetch failed", "error", err)
		return
	}
	p.mu.Lock()
	known := make(map[string]bool, len(p.endpoints))
	for _, ep := range p.endpoints {
		known[ep.URL] = true
	}
	added := 0
	for _, ep := range remote {
		ep.URL = normalizeURL(ep.URL)
		if ep.URL == "" || known[ep.URL] {
			continue
		}
		ep.Primary = false
		ep.Status = StatusUnknown
		p.endpoints = append(p.endpoints, ep)
		known[ep.URL] = true
		added++
	}
	p.mu.Unlock()
	if added > 0 {
		p.logger.Info("merged remote relay list", "added", added)
		p.persist(ctx)
	}
}

// Endpoints returns a copy of the current configuration.
func (p *Pool) Endpoints() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// AddEndpoint registers a new relay. Known URLs update roles in place.
func (p *Pool) AddEndpoint(ctx context.Context, ep Endpoint) {
	ep.URL = normalizeURL(ep.URL)
	p.mu.Lock()
	replaced := false
	for i := range p.endpoints {
		if p.endpoints[i].URL == ep.URL {
			ep.Primary = p.endpoints[i].Primary
			p.endpoints[i] = ep
			replaced = true
			break
		}
	}
	if !replaced {
		p.endpoints = append(p.endpoints, ep)
	}
	p.endpoints = ensurePrimary(p.endpoints)
	p.mu.Unlock()
	p.persist(ctx)
}

// UpdateEndpoint adjusts roles for an existing relay.
func (p *Pool) UpdateEndpoint(ctx context.Context, ep Endpoint) error {
	ep.URL = normalizeURL(ep.URL)
	p.mu.Lock()
	found := false
	for i := range p.endpoints {
		if p.endpoints[i].URL == ep.URL {
			ep.Primary = p.endpoints[i].Primary
			ep.Status = p.endpoints[i].Status
			p.endpoints[i] = ep
			found = true
			break
		}
	}
	p.mu.Unlock()
	if !found {
		return fmt.Errorf("endpoint %s: %w", ep.URL, sentinel.ErrNotFound)
	}
	p.persist(ctx)
	return nil
}

// RemoveEndpoint drops a relay. Removing the primary deterministically
// promotes the first remaining endpoint.
func (p *Pool) RemoveEndpoint(ctx context.Context, url string) error {
	url = normalizeURL(url)
	p.mu.Lock()
	idx := -1
	for i := range p.endpoints {
		if p.endpoints[i].URL == url {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.mu.Unlock()
		return fmt.Errorf("endpoint %s: %w", url, sentinel.ErrNotFound)
	}
	wasPrimary := p.endpoints[idx].Primary
	p.endpoints = append(p.endpoints[:idx], p.endpoints[idx+1:]...)
	if wasPrimary && len(p.endpoints) > 0 {
		p.endpoints[0].Primary = true
	}
	conn := p.conns[url]
	delete(p.conns, url)
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	p.persist(ctx)
	return nil
}

// SetPrimary moves the primary flag to the given relay.
func (p *Pool) SetPrimary(ctx context.Context, url string) error {
	url = normalizeURL(url)
	p.mu.Lock()
	found := false
	for i := range p.endpoints {
		p.endpoints[i].Primary = p.endpoints[i].URL == url
		if p.endpoints[i].Primary {
			found = true
		}
	}
	if !found {
		p.endpoints = ensurePrimary(p.endpoints)
	}
	p.mu.Unlock()
	if !found {
		return fmt.Errorf("endpoint %s: %w", url, sentinel.ErrNotFound)
	}
	p.persist(ctx)
	return nil
}

// Query fans out to all read endpoints (or the given subset) and returns the
// union, deduplicated by event id. Individual endpoint failures are
// swallowed; only all endpoints failing is an error.
func (p *Pool) Query(ctx context.Context, f event.Filter, urls ...string) ([]event.Event, error) {
	ctx, span := p.tracer.Start(ctx, "pool.query")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	targets := p.selectURLs(func(ep Endpoint) bool { return ep.Read }, urls)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no read relays configured: %w", sentinel.ErrUnreachable)
	}
	span.SetAttributes(attribute.Int("relay.targets", len(targets)))

	var mu sync.Mutex
	seen := make(map[string]bool)
	var union []event.Event
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range targets {
		g.Go(func() error {
			events, err := p.connFor(url).Query(gctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				p.markStatus(url, StatusDisconnected)
				p.logger.Debug("relay query failed", "url", url, "error", err)
				return nil
			}
			p.markStatus(url, StatusConnected)
			for _, ev := range events {
				if !seen[ev.ID] {
					seen[ev.ID] = true
					union = append(union, ev)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(targets) {
		return nil, fmt.Errorf("all %d read relays failed: %w", len(targets), sentinel.ErrUnreachable)
	}
	return union, nil
}

// Publish sends the event to all write endpoints (or the given subset) and
// succeeds as soon as any one accepts it.
func (p *Pool) Publish(ctx context.Context, ev event.Event, urls ...string) error {
	ctx, span := p.tracer.Start(ctx, "pool.publish",
		trace.WithAttributes(attribute.Int("event.kind", ev.Kind)))
	defer span.End()

	targets := p.selectURLs(func(ep Endpoint) bool { return ep.Write }, urls)
	if len(targets) == 0 {
		return fmt.Errorf("no write relays configured: %w", sentinel.ErrUnreachable)
	}

	success := make(chan struct{}, len(targets))
	var wg sync.WaitGroup
	for _, url := range targets {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := p.connFor(url).Publish(ctx, ev); err != nil {
				p.markStatus(url, StatusDisconnected)
				p.logger.Debug("relay publish failed", "url", url, "event_id", ev.ID, "error", err)
				return
			}
			p.markStatus(url, StatusConnected)
			success <- struct{}{}
		}(url)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-success:
		return nil
	case <-done:
		select {
		case <-success:
			return nil
		default:
			return fmt.Errorf("all %d write relays rejected event %s: %w", len(targets), ev.ID, sentinel.ErrUnreachable)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe opens a push subscription on every read endpoint. onCaughtUp
// fires once, when the first endpoint reports end of stored events.
func (p *Pool) Subscribe(ctx context.Context, f event.Filter, onEvent func(event.Event), onCaughtUp func()) (event.Subscription, error) {
	targets := p.selectURLs(func(ep Endpoint) bool { return ep.Read }, nil)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no read relays configured: %w", sentinel.ErrUnreachable)
	}

	var once sync.Once
	caughtUp := func() {
		if onCaughtUp != nil {
			once.Do(onCaughtUp)
		}
	}

	group := &subGroup{}
	for _, url := range targets {
		sub, err := p.connFor(url).Subscribe(ctx, f, onEvent, caughtUp)
		if err != nil {
			p.markStatus(url, StatusDisconnected)
			p.logger.Debug("relay subscribe failed", "url", url, "error", err)
			continue
		}
		p.markStatus(url, StatusConnected)
		group.subs = append(group.subs, sub)
	}
	if len(group.subs) == 0 {
		return nil, fmt.Errorf("all %d read relays refused subscription: %w", len(targets), sentinel.ErrUnreachable)
	}
	return group, nil
}

// Close tears down every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Conn)
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type subGroup struct {
	subs []event.Subscription
}

func (g *subGroup) Close() {
	for _, s := range g.subs {
		s.Close()
	}
}

func (p *Pool) selectURLs(role func(Endpoint) bool, only []string) []string {
	allow := make(map[string]bool, len(only))
	for _, u := range only {
		allow[normalizeURL(u)] = true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, ep := range p.endpoints {
		if !role(ep) {
			continue
		}
		if len(allow) > 0 && !allow[ep.URL] {
			continue
		}
		// Status is telemetry, not a gate: disconnected endpoints are
		// still attempted.
		out = append(out, ep.URL)
	}
	return out
}

func (p *Pool) connFor(url string) Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[url]; ok {
		return c
	}
	c := p.dial(url, p.logger)
	p.conns[url] = c
	return c
}

func (p *Pool) markStatus(url string, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.endpoints {
		if p.endpoints[i].URL == url {
			p.endpoints[i].Status = status
			return
		}
	}
}

func (p *Pool) persist(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveEndpoints(ctx, p.Endpoints()); err != nil {
		p.logger.Warn("persist relay list failed", "error", err)
	}
}
