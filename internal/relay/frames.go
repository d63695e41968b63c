package relay

import (
	"encoding/json"
	"fmt"

	"tillsync/internal/event"
)

// Relay wire frames are JSON arrays whose first element is a label:
//
//	client → relay: ["EVENT", event], ["REQ", subID, filter], ["CLOSE", subID]
//	relay → client: ["EVENT", subID, event], ["OK", eventID, accepted, msg],
//	                ["EOSE", subID], ["NOTICE", msg]
const (
	frameEvent  = "EVENT"
	frameReq    = "REQ"
	frameClose  = "CLOSE"
	frameOK     = "OK"
	frameEOSE   = "EOSE"
	frameNotice = "NOTICE"
)

func encodeEventFrame(ev event.Event) ([]byte, error) {
	return json.Marshal([]any{frameEvent, ev})
}

func encodeReqFrame(subID string, f event.Filter) ([]byte, error) {
	return json.Marshal([]any{frameReq, subID, f})
}

func encodeCloseFrame(subID string) ([]byte, error) {
	return json.Marshal([]any{frameClose, subID})
}

// frame is a partially decoded incoming message; args stay raw until the
// label says what they are.
type frame struct {
	label string
	args  []json.RawMessage
}

func decodeFrame(data []byte) (frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if len(parts) == 0 {
		return frame{}, fmt.Errorf("empty frame")
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return frame{}, fmt.Errorf("malformed frame label: %w", err)
	}
	return frame{label: label, args: parts[1:]}, nil
}

func (f frame) str(i int) (string, error) {
	if i >= len(f.args) {
		return "", fmt.Errorf("%s frame: missing argument %d", f.label, i)
	}
	var s string
	if err := json.Unmarshal(f.args[i], &s); err != nil {
		return "", fmt.Errorf("%s frame: argument %d: %w", f.label, i, err)
	}
	return s, nil
}

func (f frame) boolean(i int) (bool, error) {
	if i >= len(f.args) {
		return false, fmt.Errorf("%s frame: missing argument %d", f.label, i)
	}
	var b bool
	if err := json.Unmarshal(f.args[i], &b); err != nil {
		return false, fmt.Errorf("%s frame: argument %d: %w", f.label, i, err)
	}
	return b, nil
}

func (f frame) event(i int) (event.Event, error) {
	if i >= len(f.args) {
		return event.Event{}, fmt.Errorf("%s frame: missing argument %d", f.label, i)
	}
	var ev event.Event
	if err := json.Unmarshal(f.args[i], &ev); err != nil {
		return event.Event{}, fmt.Errorf("%s frame: argument %d: %w", f.label, i, err)
	}
	return ev, nil
}
