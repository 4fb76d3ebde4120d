// Package relay provides the Argus webhook relay bounded context.
// It receives call-event notifications, persists them idempotently, locates
// a dialable destination number in the loosely structured payload, and
// forwards a call-initiation request to the calling API.
package relay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Payload is the inbound event body, resolved once at ingress into either a
// structured value (maps, sequences, scalars) or a raw-text wrapper.
type Payload struct {
	// Value is the decoded structure when the body was valid JSON.
	Value any
	// RawText carries the body verbatim when it could not be decoded.
	RawText string

	raw []byte
}

// DecodePayload parses the request body. A body that is itself a JSON
// string containing JSON is decoded a second time. An undecodable body
// degrades to a raw-text payload instead of failing the request.
func DecodePayload(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{RawText: "", raw: body}
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return Payload{RawText: string(body), raw: body}
	}

	// Double-encoded: the JSON document is a string that itself holds JSON.
	if s, ok := value.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return Payload{Value: inner, raw: body}
		}
		return Payload{RawText: s, raw: body}
	}

	return Payload{Value: value, raw: body}
}

// IsStructured reports whether the payload decoded to a structured value.
func (p Payload) IsStructured() bool {
	return p.Value != nil
}

// Object returns the payload as a JSON object, or nil.
func (p Payload) Object() map[string]any {
	obj, _ := p.Value.(map[string]any)
	return obj
}

// EventType reads the event type field, defaulting to "unknown".
func (p Payload) EventType() string {
	obj := p.Object()
	for _, field := range []string{"type", "event", "event_type"} {
		if s, ok := obj[field].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return "unknown"
}

// Canonical returns a deterministic serialization of the payload for
// content hashing. encoding/json sorts object keys, so equal payloads by
// value always serialize identically.
func (p Payload) Canonical() []byte {
	if p.IsStructured() {
		data, err := json.Marshal(p.Value)
		if err == nil {
			return data
		}
	}
	return []byte(p.RawText)
}

// BodyText returns the raw request body as text for full-text scanning.
func (p Payload) BodyText() string {
	return string(p.raw)
}

// storageValue renders the payload for persistence: the structured value
// verbatim, or a raw-text wrapper object.
func (p Payload) storageValue() any {
	if p.IsStructured() {
		return p.Value
	}
	return map[string]any{"raw_text": p.RawText}
}

// StorageJSON marshals the payload enriched with request metadata for the
// event row. The metadata lives under a reserved "_request" key so the
// original payload fields stay untouched.
func (p Payload) StorageJSON(meta map[string]any) json.RawMessage {
	value := p.storageValue()

	if len(meta) > 0 {
		if obj, ok := value.(map[string]any); ok {
			enriched := make(map[string]any, len(obj)+1)
			for k, v := range obj {
				enriched[k] = v
			}
			enriched["_request"] = meta
			value = enriched
		} else {
			value = map[string]any{"payload": value, "_request": meta}
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"raw_text": p.RawText})
	}
	return data
}
