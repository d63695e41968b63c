// Package sync keeps one entity collection consistent across devices: the
// local cache is the source of truth for reads, every write lands there
// first, and the relay network is reconciled in the background. Conflicts
// resolve by last-write-wins on the record's update timestamp.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tillsync/internal/cache"
	"tillsync/internal/event"
	"tillsync/internal/platform/metrics"
	"tillsync/internal/record"
	"tillsync/internal/session"
	derrors "tillsync/pkg/domain-errors"
	"tillsync/pkg/platform/sentinel"
)

// State is the orchestrator lifecycle. The syncing flag is independent:
// Ready means reads serve from cache, whether or not a network pass is in
// flight.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
)

// Storage is the slice of the cache the orchestrator needs.
type Storage interface {
	GetRecord(ctx context.Context, kind, id string) (record.Record, error)
	PutRecord(ctx context.Context, kind string, rec record.Record, synced bool) error
	DeleteRecord(ctx context.Context, kind, id string, soft bool) error
	ListRecent(ctx context.Context, kind string, limit int) ([]record.Record, error)
	ListUnsynced(ctx context.Context, kind string) ([]record.Record, error)
	CountUnsynced(ctx context.Context, kind string) (int, error)
	MarkSynced(ctx context.Context, kind, id string) error
	EnqueueOutbox(ctx context.Context, kind, recordID string, payload json.RawMessage, encrypted bool) (cache.OutboxEntry, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Fabric is the slice of the event fabric the orchestrator needs.
type Fabric interface {
	PublishRecord(ctx context.Context, kind int, recordID string, payload any, encrypt bool, extraTags [][]string) (*event.Event, error)
	QueryByKind(ctx context.Context, kind int, since time.Time, limit int) ([]event.Decoded, error)
	QueryByAddress(ctx context.Context, kind int, recordID string) (*event.Decoded, error)
	Subscribe(ctx context.Context, kinds []int, since time.Time, onRecord func(event.Decoded), onCaughtUp func()) (event.Subscription, error)
}

// Config wires one orchestrator. Kind, Storage and Fabric are required.
type Config struct {
	Kind    record.Kind
	Storage Storage
	Fabric  Fabric
	// Bus, when set, broadcasts merged records to other live sessions.
	Bus session.Bus
	// Drain, when set, triggers an immediate outbox attempt after a local
	// write instead of waiting for the worker's ticker.
	Drain func(context.Context)
	// Origin identifies this process on the bus so its own broadcasts can
	// be filtered by the producer session.
	Origin  string
	Encrypt bool
	// PageSize bounds the initial cache load and full-sync pages.
	PageSize int
	// RecentWindow caps how far back the startup catch-up fetch reaches when
	// the sync cursor is older; the periodic full sync reconciles the rest.
	RecentWindow time.Duration
	// ActivePollInterval polls records whose status is in the kind's
	// active set. Zero disables (kinds with no active statuses).
	ActivePollInterval time.Duration
	// FullSyncInterval runs the complete reconcile pass.
	FullSyncInterval time.Duration
	SeenCapacity     int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Orchestrator synchronizes one entity kind. Construct with New, call Init
// once, Close on shutdown.
type Orchestrator struct {
	kind    record.Kind
	storage Storage
	fabric  Fabric
	bus     session.Bus
	drain   func(context.Context)
	origin  string
	encrypt bool

	pageSize     int
	recentWindow time.Duration
	activePoll   time.Duration
	fullSync     time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
	subscribeGap time.Duration

	seen  *seenSet
	locks *stripedLocks

	mu        sync.RWMutex
	state     State
	syncing   bool
	records   map[string]record.Record
	callbacks []func(record.Record)
	lastSync  time.Time

	bg        context.Context
	cancel    context.CancelFunc
	busCancel func()
	wg        sync.WaitGroup
	sub       event.Subscription
}

func New(cfg Config) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 24 * time.Hour
	}
	if cfg.FullSyncInterval <= 0 {
		cfg.FullSyncInterval = 5 * time.Minute
	}
	if cfg.ActivePollInterval <= 0 && len(cfg.Kind.ActiveStatuses) > 0 {
		cfg.ActivePollInterval = 15 * time.Second
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = 1024
	}
	return &Orchestrator{
		kind:         cfg.Kind,
		storage:      cfg.Storage,
		fabric:       cfg.Fabric,
		bus:          cfg.Bus,
		drain:        cfg.Drain,
		origin:       cfg.Origin,
		encrypt:      cfg.Encrypt,
		pageSize:     cfg.PageSize,
		recentWindow: cfg.RecentWindow,
		activePoll:   cfg.ActivePollInterval,
		fullSync:     cfg.FullSyncInterval,
		logger:       cfg.Logger.With("kind", cfg.Kind.Name),
		metrics:      cfg.Metrics,
		tracer:       otel.Tracer("tillsync/sync"),
		now:          time.Now,
		seen:         newSeenSet(cfg.SeenCapacity),
		locks:        newStripedLocks(64),
		state:        StateUninitialized,
		records:      make(map[string]record.Record),
	}
}

// Init loads the most recent page from the cache and reaches Ready before
// touching the network; relay reconciliation then runs in the background. A
// device with no connectivity still comes up serving cached data.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateUninitialized {
		o.mu.Unlock()
		return derrors.New(derrors.CodeConflict, "orchestrator already initialized")
	}
	o.state = StateLoading
	o.mu.Unlock()

	recs, err := o.storage.ListRecent(ctx, o.kind.Name, o.pageSize)
	if err != nil {
		o.mu.Lock()
		o.state = StateUninitialized
		o.mu.Unlock()
		return fmt.Errorf("load cached %s records: %w", o.kind.Name, err)
	}

	lastSync, err := o.loadLastSync(ctx)
	if err != nil {
		o.logger.Warn("load sync cursor failed, full window", "error", err)
	}

	o.mu.Lock()
	for _, rec := range recs {
		o.records[rec.ID] = rec
	}
	o.lastSync = lastSync
	o.state = StateReady
	o.mu.Unlock()

	o.bg, o.cancel = context.WithCancel(context.Background())

	// Receive peer-engine writes before the relay round-trip delivers
	// them. Subscribed before Init returns so no broadcast is missed; own
	// broadcasts are filtered by origin.
	if o.bus != nil {
		cancelBus, err := o.bus.Subscribe(o.bg, o.onBusUpdate)
		if err != nil {
			o.logger.Warn("session bus subscribe failed, relay only", "error", err)
		} else {
			o.busCancel = cancelBus
		}
	}

	o.wg.Add(1)
	go o.background()
	return nil
}

func (o *Orchestrator) background() {
	defer o.wg.Done()

	// Catch up on the window missed while offline, then re-push anything
	// local the network never confirmed. A cursor older than the recent
	// window is clamped so startup stays cheap; the full sync pass covers
	// the rest.
	since := o.lastSyncAt()
	if floor := o.now().Add(-o.recentWindow); !since.IsZero() && since.Before(floor) {
		since = floor
	}
	o.setSyncing(true)
	o.fetchSince(o.bg, since)
	o.pushPending(o.bg)
	o.setSyncing(false)

	o.openSubscription()

	var activeC, fullC <-chan time.Time
	if o.activePoll > 0 {
		active := time.NewTicker(o.activePoll)
		defer active.Stop()
		activeC = active.C
	}
	full := time.NewTicker(o.fullSync)
	defer full.Stop()
	fullC = full.C

	for {
		select {
		case <-o.bg.Done():
			return
		case <-activeC:
			o.pollActive(o.bg)
		case <-fullC:
			o.runFullSync(o.bg)
		}
	}
}

func (o *Orchestrator) openSubscription() {
	sub, err := o.fabric.Subscribe(o.bg, []int{o.kind.EventKind}, o.lastSyncAt(),
		func(d event.Decoded) {
			o.merge(o.bg, d)
			o.storeLastSync(o.bg, time.Unix(d.Event.CreatedAt, 0))
		},
		nil)
	if err != nil {
		o.logger.Warn("push subscription unavailable, polling only", "error", err)
		return
	}
	o.mu.Lock()
	o.sub = sub
	o.mu.Unlock()
}

// Create validates and stores a new record, queues it for publish, and
// broadcasts it to live sessions. The cache write is the commit point; a
// cache failure fails the call, a network failure does not.
func (o *Orchestrator) Create(ctx context.Context, payload json.RawMessage) (record.Record, error) {
	ctx, span := o.tracer.Start(ctx, "sync.create",
		trace.WithAttributes(attribute.String("record.kind", o.kind.Name)))
	defer span.End()

	rec, err := record.FromPayload(payload)
	if err != nil {
		return record.Record{}, derrors.Wrap(derrors.CodeInvalidInput, "invalid record payload", err)
	}
	rec, err = rec.WithUpdatedAt(o.now())
	if err != nil {
		return record.Record{}, err
	}
	return rec, o.localWrite(ctx, rec)
}

// Update applies a partial patch to an existing record. The id cannot be
// changed by a patch.
func (o *Orchestrator) Update(ctx context.Context, id string, patch json.RawMessage) (record.Record, error) {
	ctx, span := o.tracer.Start(ctx, "sync.update",
		trace.WithAttributes(attribute.String("record.kind", o.kind.Name)))
	defer span.End()

	// Read, patch, and write under one stripe lock hold: a merge slipping
	// in between would be silently overwritten by the stale-based patch.
	unlock := o.locks.lock(id)
	defer unlock()
	local, err := o.storage.GetRecord(ctx, o.kind.Name, id)
	if err != nil {
		return record.Record{}, err
	}
	rec, err := local.ApplyPatch(patch)
	if err != nil {
		return record.Record{}, derrors.Wrap(derrors.CodeInvalidInput, "invalid record patch", err)
	}
	rec, err = rec.WithUpdatedAt(o.now())
	if err != nil {
		return record.Record{}, err
	}
	return rec, o.localWriteLocked(ctx, rec)
}

// Delete removes a record: audit kinds keep a replicating tombstone, the
// rest drop the row and publish a bare tombstone payload.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	unlock := o.locks.lock(id)
	defer unlock()

	if o.kind.SoftDelete {
		local, err := o.storage.GetRecord(ctx, o.kind.Name, id)
		if err != nil {
			return err
		}
		tomb, err := local.ApplyPatch(json.RawMessage(`{"deleted":true}`))
		if err != nil {
			return err
		}
		tomb, err = tomb.WithUpdatedAt(o.now())
		if err != nil {
			return err
		}
		return o.localWriteLocked(ctx, tomb)
	}

	if err := o.storage.DeleteRecord(ctx, o.kind.Name, id, false); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.records, id)
	o.mu.Unlock()

	tomb := json.RawMessage(fmt.Sprintf(`{"id":%q,"deleted":true,"updatedAt":%d}`, id, o.now().UnixMilli()))
	if _, err := o.storage.EnqueueOutbox(ctx, o.kind.Name, id, tomb, o.encrypt); err != nil {
		return fmt.Errorf("enqueue tombstone: %w", err)
	}
	o.triggerDrain()
	o.broadcast(record.Record{ID: id, Deleted: true, Payload: tomb})
	return nil
}

func (o *Orchestrator) localWrite(ctx context.Context, rec record.Record) error {
	unlock := o.locks.lock(rec.ID)
	defer unlock()
	return o.localWriteLocked(ctx, rec)
}

func (o *Orchestrator) localWriteLocked(ctx context.Context, rec record.Record) error {
	if err := o.storage.PutRecord(ctx, o.kind.Name, rec, false); err != nil {
		return err
	}
	if _, err := o.storage.EnqueueOutbox(ctx, o.kind.Name, rec.ID, rec.Payload, o.encrypt); err != nil {
		return fmt.Errorf("enqueue publish: %w", err)
	}
	o.mu.Lock()
	o.records[rec.ID] = rec
	o.mu.Unlock()

	o.triggerDrain()
	o.broadcast(rec)
	o.updatePendingGauge(ctx)
	return nil
}

// triggerDrain kicks the outbox worker without blocking the write path.
func (o *Orchestrator) triggerDrain() {
	if o.drain == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		o.drain(ctx)
	}()
}

func (o *Orchestrator) broadcast(rec record.Record) {
	o.notify(rec)
	o.busPublish(rec)
}

func (o *Orchestrator) notify(rec record.Record) {
	o.mu.RLock()
	callbacks := make([]func(record.Record), len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.RUnlock()
	for _, fn := range callbacks {
		fn(rec)
	}
}

func (o *Orchestrator) busPublish(rec record.Record) {
	if o.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.bus.Publish(ctx, session.Update{
		ID:      uuid.NewString(),
		Kind:    o.kind.Name,
		Payload: rec.Payload,
		Origin:  o.origin,
		Deleted: rec.Deleted,
	}); err != nil {
		o.logger.Warn("session broadcast failed", "record_id", rec.ID, "error", err)
	}
}

// List returns the in-memory collection, newest domain date first.
// Soft-deleted records are filtered out.
func (o *Orchestrator) List() []record.Record {
	o.mu.RLock()
	out := make([]record.Record, 0, len(o.records))
	for _, rec := range o.records {
		if !rec.Deleted {
			out = append(out, rec)
		}
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SortTime().After(out[j].SortTime()) })
	return out
}

// GetByID reads memory, then cache, then the network. A network hit is
// merged so the next read is local.
func (o *Orchestrator) GetByID(ctx context.Context, id string) (record.Record, error) {
	o.mu.RLock()
	rec, ok := o.records[id]
	o.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := o.storage.GetRecord(ctx, o.kind.Name, id)
	if err == nil {
		return rec, nil
	}

	decoded, qerr := o.fabric.QueryByAddress(ctx, o.kind.EventKind, id)
	if qerr != nil || decoded == nil {
		return record.Record{}, err
	}
	o.merge(ctx, *decoded)

	return o.storage.GetRecord(ctx, o.kind.Name, id)
}

// Search matches query case-insensitively against record payloads.
func (o *Orchestrator) Search(query string) []record.Record {
	query = strings.ToLower(query)
	var out []record.Record
	for _, rec := range o.List() {
		if strings.Contains(strings.ToLower(string(rec.Payload)), query) {
			out = append(out, rec)
		}
	}
	return out
}

// OnRealtimeUpdate registers fn for every merged or locally written record.
func (o *Orchestrator) OnRealtimeUpdate(fn func(record.Record)) {
	o.mu.Lock()
	o.callbacks = append(o.callbacks, fn)
	o.mu.Unlock()
}

// SyncPending reports how many local writes still await relay confirmation.
func (o *Orchestrator) SyncPending(ctx context.Context) (int, error) {
	return o.storage.CountUnsynced(ctx, o.kind.Name)
}

// Status describes the orchestrator for the sync status endpoint.
type Status struct {
	Kind     string    `json:"kind"`
	State    State     `json:"state"`
	Syncing  bool      `json:"syncing"`
	Pending  int       `json:"pending"`
	LastSync time.Time `json:"lastSyncAt,omitzero"`
}

func (o *Orchestrator) Status(ctx context.Context) Status {
	pending, err := o.storage.CountUnsynced(ctx, o.kind.Name)
	if err != nil {
		o.logger.Warn("count pending failed", "error", err)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		Kind:     o.kind.Name,
		State:    o.state,
		Syncing:  o.syncing,
		Pending:  pending,
		LastSync: o.lastSync,
	}
}

// ForceSyncAll runs a complete reconcile now: pull everything, then re-push
// pending local writes.
func (o *Orchestrator) ForceSyncAll(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "sync.force",
		trace.WithAttributes(attribute.String("record.kind", o.kind.Name)))
	defer span.End()

	o.setSyncing(true)
	defer o.setSyncing(false)
	o.fetchSince(ctx, time.Time{})
	o.pushPending(ctx)
	return ctx.Err()
}

// Close stops background work. Safe to call once after Init.
func (o *Orchestrator) Close() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.busCancel != nil {
		o.busCancel()
	}
	o.mu.Lock()
	sub := o.sub
	o.sub = nil
	o.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	o.wg.Wait()
}

// merge applies one network event: dedupe on event id, last-write-wins on
// the record timestamp, ties accepted so devices converge on the same
// winner regardless of arrival order.
func (o *Orchestrator) merge(ctx context.Context, d event.Decoded) {
	if !o.seen.Add(d.Event.ID) {
		if o.metrics != nil {
			o.metrics.EventsDuplicate.WithLabelValues(o.kind.Name).Inc()
		}
		return
	}

	incoming, err := record.FromPayload(d.Payload)
	if err != nil {
		o.logger.Debug("skipping event with invalid payload", "event_id", d.Event.ID, "error", err)
		return
	}
	o.apply(ctx, incoming, true)
}

// onBusUpdate merges a record another engine process broadcast on the
// session bus, closing the window until the relay round-trip delivers it.
// Applied records are never re-published to the bus.
func (o *Orchestrator) onBusUpdate(u session.Update) {
	if u.Kind != o.kind.Name || u.Origin == o.origin {
		return
	}
	if u.ID != "" && !o.seen.Add(u.ID) {
		if o.metrics != nil {
			o.metrics.EventsDuplicate.WithLabelValues(o.kind.Name).Inc()
		}
		return
	}

	incoming, err := record.FromPayload(u.Payload)
	if err != nil {
		o.logger.Debug("skipping bus update with invalid payload", "origin", u.Origin, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.apply(ctx, incoming, false)
}

// apply runs the last-write-wins rule for one incoming record under its
// stripe lock. rebroadcast distinguishes the source: relay-merged records
// propagate to other sessions, bus-originated records must not echo back.
func (o *Orchestrator) apply(ctx context.Context, incoming record.Record, rebroadcast bool) {
	unlock := o.locks.lock(incoming.ID)
	defer unlock()

	local, err := o.storage.GetRecord(ctx, o.kind.Name, incoming.ID)
	switch {
	case err == nil:
		if incoming.EffectiveUpdatedAt().Before(local.EffectiveUpdatedAt()) {
			if o.metrics != nil {
				o.metrics.MergeDiscarded.WithLabelValues(o.kind.Name).Inc()
			}
			return
		}
	case isNotFound(err):
		// Absent locally: always insert.
	default:
		o.logger.Error("cache read during merge failed", "record_id", incoming.ID, "error", err)
		return
	}

	if err := o.storage.PutRecord(ctx, o.kind.Name, incoming, true); err != nil {
		o.logger.Error("cache write during merge failed", "record_id", incoming.ID, "error", err)
		return
	}
	o.mu.Lock()
	if incoming.Deleted && !o.kind.SoftDelete {
		delete(o.records, incoming.ID)
	} else {
		o.records[incoming.ID] = incoming
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.EventsReceived.WithLabelValues(o.kind.Name).Inc()
	}
	o.notify(incoming)
	if rebroadcast {
		o.busPublish(incoming)
	}
}

// fetchSince pulls and merges events newer than since. A zero since pulls
// the full collection.
func (o *Orchestrator) fetchSince(ctx context.Context, since time.Time) {
	limit := 0
	if since.IsZero() {
		limit = o.pageSize
	}
	decoded, err := o.fabric.QueryByKind(ctx, o.kind.EventKind, since, limit)
	if err != nil {
		o.logger.Warn("relay fetch failed", "error", err)
		return
	}
	for _, d := range decoded {
		o.merge(ctx, d)
	}
	if len(decoded) > 0 {
		o.storeLastSync(ctx, o.now())
	}
}

// pushPending republishes local writes the network never confirmed. The
// outbox worker owns retry scheduling; this direct pass covers rows whose
// outbox entries were acked while the cache write was lost mid-crash.
func (o *Orchestrator) pushPending(ctx context.Context) {
	pending, err := o.storage.ListUnsynced(ctx, o.kind.Name)
	if err != nil {
		o.logger.Error("list pending records failed", "error", err)
		return
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.fabric.PublishRecord(ctx, o.kind.EventKind, rec.ID,
			json.RawMessage(rec.Payload), o.encrypt, nil); err != nil {
			o.logger.Debug("pending publish failed, outbox will retry", "record_id", rec.ID, "error", err)
			continue
		}
		if err := o.storage.MarkSynced(ctx, o.kind.Name, rec.ID); err != nil {
			o.logger.Error("mark synced failed", "record_id", rec.ID, "error", err)
		}
		if o.metrics != nil {
			o.metrics.EventsPublished.WithLabelValues(o.kind.Name).Inc()
		}
	}
	o.updatePendingGauge(ctx)
}

// pollActive refreshes records whose status is still in play (orders being
// prepared), catching updates a dropped subscription missed.
func (o *Orchestrator) pollActive(ctx context.Context) {
	o.mu.RLock()
	var active []string
	for id, rec := range o.records {
		if o.kind.Active(rec.Status) {
			active = append(active, id)
		}
	}
	o.mu.RUnlock()

	for _, id := range active {
		if ctx.Err() != nil {
			return
		}
		decoded, err := o.fabric.QueryByAddress(ctx, o.kind.EventKind, id)
		if err != nil || decoded == nil {
			continue
		}
		o.merge(ctx, *decoded)
	}
}

func (o *Orchestrator) runFullSync(ctx context.Context) {
	o.setSyncing(true)
	defer o.setSyncing(false)
	o.fetchSince(ctx, time.Time{})
	o.pushPending(ctx)
}

func (o *Orchestrator) setSyncing(v bool) {
	o.mu.Lock()
	o.syncing = v
	o.mu.Unlock()
}

func (o *Orchestrator) lastSyncAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSync
}

func (o *Orchestrator) syncCursorKey() string {
	return "sync." + o.kind.Name + ".last_sync_at"
}

func (o *Orchestrator) loadLastSync(ctx context.Context) (time.Time, error) {
	raw, err := o.storage.GetSetting(ctx, o.syncCursorKey())
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sync cursor: %w", err)
	}
	return time.Unix(sec, 0), nil
}

func (o *Orchestrator) storeLastSync(ctx context.Context, t time.Time) {
	o.mu.Lock()
	if t.Before(o.lastSync) {
		o.mu.Unlock()
		return
	}
	o.lastSync = t
	o.mu.Unlock()
	if err := o.storage.SetSetting(ctx, o.syncCursorKey(), strconv.FormatInt(t.Unix(), 10)); err != nil {
		o.logger.Warn("persist sync cursor failed", "error", err)
	}
}

func (o *Orchestrator) updatePendingGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	if n, err := o.storage.CountUnsynced(ctx, o.kind.Name); err == nil {
		o.metrics.SyncPending.WithLabelValues(o.kind.Name).Set(float64(n))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
