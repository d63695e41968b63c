// Package relay maintains the set of remote relay endpoints and moves signed
// events through them. Relays are untrusted and best-effort: individual
// endpoint failures are telemetry, not errors; an operation only fails when
// every endpoint fails.
package relay

import "strings"

// Status is best-effort connection telemetry. It never gates an operation;
// the pool still attempts endpoints marked disconnected.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Endpoint is one relay's configuration. Roles select which operations use
// it; at most one endpoint is primary.
type Endpoint struct {
	URL     string `json:"url"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Outbox  bool   `json:"outbox"`
	Primary bool   `json:"isPrimary"`
	Status  Status `json:"status"`
}

// normalizeURL canonicalizes endpoint URLs so merging dedupes "wss://r.x"
// and "wss://r.x/".
func normalizeURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// defaultEndpoint builds the standard read+write endpoint for a URL.
func defaultEndpoint(url string) Endpoint {
	return Endpoint{URL: normalizeURL(url), Read: true, Write: true, Status: StatusUnknown}
}

// mergeEndpoints overlays layers of endpoint lists, first occurrence of a
// URL winning for role flags, later layers only adding unknown URLs. Order:
// built-in defaults, locally cached list, remotely fetched list — except the
// cached list carries user edits, so it overrides defaults.
func mergeEndpoints(layers ...[]Endpoint) []Endpoint {
	seen := make(map[string]int)
	var out []Endpoint
	// Later layers are higher priority for flags; walk them first.
	for i := len(layers) - 1; i >= 0; i-- {
		for _, ep := range layers[i] {
			ep.URL = normalizeURL(ep.URL)
			if ep.URL == "" {
				continue
			}
			if _, ok := seen[ep.URL]; ok {
				continue
			}
			seen[ep.URL] = len(out)
			out = append(out, ep)
		}
	}
	return ensurePrimary(out)
}

// ensurePrimary restores the at-most-one-primary invariant: the first
// primary wins, and when none is marked the first endpoint is promoted.
func ensurePrimary(eps []Endpoint) []Endpoint {
	found := false
	for i := range eps {
		if eps[i].Primary {
			if found {
				eps[i].Primary = false
			}
			found = true
		}
	}
	if !found && len(eps) > 0 {
		eps[0].Primary = true
	}
	return eps
}
