package event

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tillsync/internal/codec"
	"tillsync/internal/identity"
	"tillsync/internal/platform/metrics"
	"tillsync/pkg/platform/sentinel"
)

// Transport moves events to and from the relay network. The relay pool
// implements it; tests use fakes.
type Transport interface {
	Query(ctx context.Context, f Filter, urls ...string) ([]Event, error)
	Publish(ctx context.Context, ev Event, urls ...string) error
	Subscribe(ctx context.Context, f Filter, onEvent func(Event), onCaughtUp func()) (Subscription, error)
}

// Subscription is a live push feed. Close must be called on teardown to
// release the transport resource.
type Subscription interface {
	Close()
}

// Decoded pairs a verified event with its decrypted payload.
type Decoded struct {
	Event   Event
	Payload json.RawMessage
}

// FabricConfig wires the fabric's collaborators.
type FabricConfig struct {
	Transport Transport
	Codec     *codec.Codec
	Identity  *identity.Identity
	// Remote signs when the device holds no resident private key.
	Remote identity.RemoteSigner
	// TeamScope, when set, tags and filters every record with the team's
	// public routing hash.
	TeamScope string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Fabric constructs, signs, publishes, and queries signed record events.
type Fabric struct {
	transport Transport
	codec     *codec.Codec
	id        *identity.Identity
	remote    identity.RemoteSigner
	teamScope string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// NewFabric builds a fabric from its configuration.
func NewFabric(cfg FabricConfig) *Fabric {
	return &Fabric{
		transport: cfg.Transport,
		codec:     cfg.Codec,
		id:        cfg.Identity,
		remote:    cfg.Remote,
		teamScope: cfg.TeamScope,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer("tillsync/event"),
		now:       time.Now,
	}
}

// CreateEvent builds and signs an event. Signing prefers the resident key
// and falls back to the remote signer; with neither it fails closed — an
// unsigned event is never produced.
func (f *Fabric) CreateEvent(ctx context.Context, kind int, content string, tags [][]string) (Event, error) {
	var author string
	switch {
	case f.id.CanSign():
		author = f.id.PublicKey()
	case f.remote != nil:
		var err error
		author, err = f.remote.PublicKey(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("remote signer public key: %w", err)
		}
	default:
		return Event{}, fmt.Errorf("cannot create event: %w", sentinel.ErrNoSigner)
	}

	ev := Event{
		Author:    author,
		CreatedAt: f.now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	ev.ComputeID()

	digest := ev.Digest()
	var sig []byte
	var err error
	if f.id.CanSign() {
		sig, err = f.id.Sign(digest[:])
	} else {
		sig, err = f.remote.Sign(ctx, digest[:])
	}
	if err != nil {
		return Event{}, fmt.Errorf("sign event: %w", err)
	}
	ev.Sig = hex.EncodeToString(sig)
	return ev, nil
}

// PublishRecord encodes payload, wraps it in a signed event addressed by
// recordID, and publishes it. Signing failures propagate; transport failures
// return a wrapped sentinel.ErrUnreachable for the caller's retry machinery.
func (f *Fabric) PublishRecord(ctx context.Context, kind int, recordID string, payload any, encrypt bool, extraTags [][]string) (*Event, error) {
	ctx, span := f.tracer.Start(ctx, "fabric.publish",
		trace.WithAttributes(attribute.Int("event.kind", kind)))
	defer span.End()

	var content string
	encrypted := false
	if encrypt {
		var err error
		content, encrypted, err = f.codec.Encode(payload)
		if err != nil {
			return nil, err
		}
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		content = string(raw)
	}

	tags := [][]string{{TagAddress, recordID}}
	if f.teamScope != "" {
		tags = append(tags, []string{TagScope, f.teamScope})
	}
	tags = append(tags, extraTags...)
	tags = append(tags, []string{TagEncrypted, fmt.Sprintf("%t", encrypted)})

	ev, err := f.CreateEvent(ctx, kind, content, tags)
	if err != nil {
		return nil, err
	}

	if err := f.transport.Publish(ctx, ev); err != nil {
		if f.metrics != nil {
			f.metrics.RelayPublishFailures.Inc()
		}
		return nil, fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return &ev, nil
}

// QueryByKind fetches and decodes events of one kind, scoped to the team
// when team mode is on. Transport errors degrade to an empty result; the
// caller's background sync will retry.
func (f *Fabric) QueryByKind(ctx context.Context, kind int, since time.Time, limit int) ([]Decoded, error) {
	ctx, span := f.tracer.Start(ctx, "fabric.query",
		trace.WithAttributes(attribute.Int("event.kind", kind)))
	defer span.End()

	filter := Filter{Kinds: []int{kind}, Limit: limit}
	if !since.IsZero() {
		filter.Since = since.Unix()
	}
	f.scopeFilter(&filter)

	events, err := f.transport.Query(ctx, filter)
	if err != nil {
		f.logger.Warn("relay query failed", "kind", kind, "error", err)
		return nil, nil
	}
	if IsReplaceable(kind) {
		events = newestPerAddress(events)
	}
	return f.decodeAll(events), nil
}

// QueryByAddress fetches the current value for a replaceable record: the
// event with the greatest created_at for the d tag, after deduplication.
func (f *Fabric) QueryByAddress(ctx context.Context, kind int, recordID string) (*Decoded, error) {
	filter := Filter{
		Kinds: []int{kind},
		Tags:  map[string][]string{TagAddress: {recordID}},
	}
	f.scopeFilter(&filter)

	events, err := f.transport.Query(ctx, filter)
	if err != nil {
		f.logger.Warn("relay query failed", "kind", kind, "record_id", recordID, "error", err)
		return nil, nil
	}
	var newest *Event
	for i := range events {
		if events[i].Address() != recordID {
			continue
		}
		if newest == nil || events[i].CreatedAt > newest.CreatedAt {
			newest = &events[i]
		}
	}
	if newest == nil {
		return nil, nil
	}
	decoded, ok := f.decode(*newest)
	if !ok {
		return nil, nil
	}
	return &decoded, nil
}

// Subscribe opens a push feed for the given kinds, decoding each event
// before handing it to onRecord. Undecodable events are skipped.
func (f *Fabric) Subscribe(ctx context.Context, kinds []int, since time.Time, onRecord func(Decoded), onCaughtUp func()) (Subscription, error) {
	filter := Filter{Kinds: kinds}
	if !since.IsZero() {
		filter.Since = since.Unix()
	}
	f.scopeFilter(&filter)

	return f.transport.Subscribe(ctx, filter, func(ev Event) {
		if decoded, ok := f.decode(ev); ok {
			onRecord(decoded)
		}
	}, onCaughtUp)
}

func (f *Fabric) scopeFilter(filter *Filter) {
	if f.teamScope == "" {
		return
	}
	if filter.Tags == nil {
		filter.Tags = make(map[string][]string)
	}
	filter.Tags[TagScope] = []string{f.teamScope}
}

func (f *Fabric) decodeAll(events []Event) []Decoded {
	out := make([]Decoded, 0, len(events))
	for _, ev := range events {
		if decoded, ok := f.decode(ev); ok {
			out = append(out, decoded)
		}
	}
	return out
}

// decode verifies and decrypts one event. A failed signature or an
// undecryptable payload skips the event without corrupting the collection.
func (f *Fabric) decode(ev Event) (Decoded, bool) {
	if !ev.Verify() {
		f.logger.Warn("dropping event with bad signature", "event_id", ev.ID, "author", ev.Author)
		return Decoded{}, false
	}
	payload := f.codec.Decode(ev.Content, ev.Encrypted())
	if payload == nil {
		if f.metrics != nil {
			f.metrics.DecryptFailures.Inc()
		}
		f.logger.Debug("skipping undecryptable event", "event_id", ev.ID, "kind", ev.Kind)
		return Decoded{}, false
	}
	return Decoded{Event: ev, Payload: payload}, true
}

// newestPerAddress keeps only the newest event per (author, d) tuple, the
// replaceable-addressing view relays are supposed to return but are not
// trusted to.
func newestPerAddress(events []Event) []Event {
	type key struct{ author, address string }
	newest := make(map[key]Event)
	order := make([]key, 0, len(events))
	for _, ev := range events {
		k := key{ev.Author, ev.Address()}
		cur, seen := newest[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || ev.CreatedAt > cur.CreatedAt {
			newest[k] = ev
		}
	}
	out := make([]Event, 0, len(newest))
	for _, k := range order {
		out = append(out, newest[k])
	}
	return out
}
