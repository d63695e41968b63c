package transporthttp

import (
	"strings"

	"tillsync/internal/relay"
	"tillsync/internal/session"
	syncengine "tillsync/internal/sync"
	derrors "tillsync/pkg/domain-errors"
)

// relayRequest is the wire shape for relay add/update calls.
type relayRequest struct {
	URL     string `json:"url"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Outbox  bool   `json:"outbox"`
	Primary bool   `json:"isPrimary"`
}

func (r relayRequest) validate() error {
	url := strings.TrimSpace(r.URL)
	if url == "" {
		return derrors.New(derrors.CodeInvalidInput, "relay url is required")
	}
	if !strings.HasPrefix(url, "wss://") && !strings.HasPrefix(url, "ws://") {
		return derrors.New(derrors.CodeInvalidInput, "relay url must be a websocket url")
	}
	if !r.Read && !r.Write {
		return derrors.New(derrors.CodeInvalidInput, "relay needs at least one of read or write")
	}
	return nil
}

func (r relayRequest) endpoint() relay.Endpoint {
	return relay.Endpoint{
		URL:     r.URL,
		Read:    r.Read,
		Write:   r.Write,
		Outbox:  r.Outbox,
		Primary: r.Primary,
		Status:  relay.StatusUnknown,
	}
}

// syncStatusResponse is the wire shape for GET /v1/sync/status.
type syncStatusResponse struct {
	Kinds    []syncengine.Status `json:"kinds"`
	Sessions []session.Session   `json:"sessions,omitempty"`
}
