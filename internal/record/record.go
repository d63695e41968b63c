// Package record defines the unit the sync engine moves around: a domain
// entity snapshot plus the metadata the engine needs for ordering and
// addressing. Domain payloads stay opaque JSON; only the fields used for
// merge decisions are lifted out.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one domain entity (order, product, staff member, ...). Payload
// carries the full JSON object as written by the domain module; ID, Status,
// Date and UpdatedAt are denormalized copies of the corresponding payload
// fields.
//
// Within one kind, ID is globally unique across every device that ever
// wrote it.
type Record struct {
	ID        string
	Status    string
	Date      time.Time
	UpdatedAt time.Time
	Deleted   bool
	Payload   json.RawMessage
}

// meta mirrors the payload fields the engine cares about. Timestamps are
// unix milliseconds on the wire.
type meta struct {
	ID        string `json:"id"`
	Status    string `json:"status,omitempty"`
	Date      int64  `json:"date,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// FromPayload parses a raw domain payload into a Record. The payload must be
// a JSON object with a non-empty string id.
func FromPayload(raw json.RawMessage) (Record, error) {
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return Record{}, fmt.Errorf("parse record payload: %w", err)
	}
	if m.ID == "" {
		return Record{}, fmt.Errorf("record payload missing id")
	}
	r := Record{
		ID:      m.ID,
		Status:  m.Status,
		Deleted: m.Deleted,
		Payload: raw,
	}
	if m.Date != 0 {
		r.Date = time.UnixMilli(m.Date)
	}
	if m.UpdatedAt != 0 {
		r.UpdatedAt = time.UnixMilli(m.UpdatedAt)
	}
	return r, nil
}

// EffectiveUpdatedAt is the timestamp used for last-write-wins ordering.
// Records written before updatedAt existed fall back to the domain date.
// Coarse-grained dates can misorder same-day edits of such records; that
// behavior is kept as-is pending a product decision.
func (r Record) EffectiveUpdatedAt() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.Date
}

// SortTime orders the in-memory collection for presentation, most recent
// first. The domain date wins when present (orders list by business day,
// not by last edit).
func (r Record) SortTime() time.Time {
	if !r.Date.IsZero() {
		return r.Date
	}
	return r.EffectiveUpdatedAt()
}

// WithUpdatedAt returns a copy of r with UpdatedAt set both on the struct
// and inside the payload, keeping the two views consistent.
func (r Record) WithUpdatedAt(t time.Time) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		return Record{}, fmt.Errorf("parse record payload: %w", err)
	}
	ms, err := json.Marshal(t.UnixMilli())
	if err != nil {
		return Record{}, err
	}
	fields["updatedAt"] = ms
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, err
	}
	r.UpdatedAt = t
	r.Payload = raw
	return r, nil
}

// ApplyPatch merges patch's top-level fields into r's payload and reparses
// the result. Patch fields overwrite existing ones; absent fields survive.
func (r Record) ApplyPatch(patch json.RawMessage) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		return Record{}, fmt.Errorf("parse record payload: %w", err)
	}
	var delta map[string]json.RawMessage
	if err := json.Unmarshal(patch, &delta); err != nil {
		return Record{}, fmt.Errorf("parse patch: %w", err)
	}
	for k, v := range delta {
		if k == "id" {
			// A patch never moves a record to a different id.
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, err
	}
	return FromPayload(raw)
}
