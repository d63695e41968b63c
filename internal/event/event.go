// Package event defines the signed wire representation of record mutations
// and the fabric that creates, publishes, and queries them against the relay
// pool.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"tillsync/internal/identity"
)

// Event is a signed, typed, tagged message representing a record mutation.
// Content is either a codec envelope or plaintext JSON; the "encrypted" tag
// says which, never leaving it ambiguous.
type Event struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Addressing tags.
const (
	TagAddress   = "d"         // replaceable key, equals the record id
	TagPubkey    = "p"         // addressed-to public key
	TagScope     = "c"         // team scope: hex hash of the shared team secret
	TagTopic     = "t"         // free-text topic
	TagEncrypted = "encrypted" // "true" or "false"
)

// Wire kinds. Kinds below ReplaceableFloor are append-only log entries;
// kinds at or above it are replaceable current-state snapshots where only
// the newest event per (kind, author, d) is current.
const (
	ReplaceableFloor = 30000

	KindOrder     = 2110
	KindStockMove = 2111
	KindMessage   = 2112

	KindProduct   = 30117
	KindStaff     = 30118
	KindTable     = 30119
	KindSettings  = 30120
	KindRelayList = 30121
)

// IsReplaceable reports whether the wire kind uses replaceable addressing.
func IsReplaceable(kind int) bool { return kind >= ReplaceableFloor }

// Tag returns the first value of the named tag, or "".
func (e Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// Address returns the replaceable key (d tag).
func (e Event) Address() string { return e.Tag(TagAddress) }

// Encrypted reports whether content must go through the codec. A missing tag
// is treated as encrypted; the codec's plain-JSON fallback still recovers
// untagged plaintext from misbehaving writers.
func (e Event) Encrypted() bool { return e.Tag(TagEncrypted) != "false" }

// Digest is the canonical hash the id and signature commit to: sha256 over
// the JSON array [0, author, created_at, kind, tags, content].
func (e Event) Digest() [32]byte {
	canonical, _ := json.Marshal([]any{0, e.Author, e.CreatedAt, e.Kind, e.Tags, e.Content})
	return sha256.Sum256(canonical)
}

// ComputeID fills in the event id from the canonical digest.
func (e *Event) ComputeID() {
	digest := e.Digest()
	e.ID = hex.EncodeToString(digest[:])
}

// Verify checks the id and signature. Events failing verification are
// dropped before decode.
func (e Event) Verify() bool {
	digest := e.Digest()
	if e.ID != hex.EncodeToString(digest[:]) {
		return false
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}
	return identity.Verify(e.Author, digest[:], sig)
}
