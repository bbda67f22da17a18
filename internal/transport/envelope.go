package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadEnvelope is returned by [DecodeEnvelope] for frames that are neither
// an event array nor an event object.
var ErrBadEnvelope = errors.New("transport: bad envelope")

var jsonNull = json.RawMessage("null")

// DecodeEnvelope splits a text frame into its event name and raw payload.
// Two shapes are accepted:
//
//	["event", data]
//	{"event": "event", "data": data}
//
// The object form also accepts "type" in place of "event". A missing payload
// decodes as JSON null.
func DecodeEnvelope(frame []byte) (event string, payload json.RawMessage, err error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("%w: empty frame", ErrBadEnvelope)
	}
	switch frame[0] {
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(frame, &parts); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
		}
		if len(parts) == 0 {
			return "", nil, fmt.Errorf("%w: empty array", ErrBadEnvelope)
		}
		if err := json.Unmarshal(parts[0], &event); err != nil {
			return "", nil, fmt.Errorf("%w: event name: %v", ErrBadEnvelope, err)
		}
		payload = jsonNull
		if len(parts) > 1 {
			payload = parts[1]
		}
	case '{':
		var obj struct {
			Event string          `json:"event"`
			Type  string          `json:"type"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(frame, &obj); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
		}
		event = obj.Event
		if event == "" {
			event = obj.Type
		}
		payload = obj.Data
		if len(payload) == 0 {
			payload = jsonNull
		}
	default:
		return "", nil, fmt.Errorf("%w: unexpected %q", ErrBadEnvelope, frame[0])
	}
	if event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrBadEnvelope)
	}
	return event, payload, nil
}

// EncodeEnvelope renders event and data in the array form.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrBadEnvelope)
	}
	return json.Marshal([]any{event, data})
}
