package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// keyNamespace prefixes content-derived idempotency keys so they can never
// collide with caller-supplied identifiers.
const keyNamespace = "argus-"

// idFields are checked in order for a caller-supplied identifier.
var idFields = []string{"id", "call_id", "callId"}

// DeriveKey computes the idempotency key for a payload. A caller-supplied
// identifier is used verbatim when present and not a template placeholder;
// otherwise a content hash of the canonical payload serves as the key, so
// replays of an identical payload collapse to one stored event.
func DeriveKey(p Payload, placeholders *PlaceholderMatcher) string {
	if id := callerSuppliedID(p, placeholders); id != "" {
		return id
	}

	sum := sha256.Sum256(p.Canonical())
	return keyNamespace + hex.EncodeToString(sum[:16])
}

func callerSuppliedID(p Payload, placeholders *PlaceholderMatcher) string {
	obj := p.Object()
	if obj == nil {
		return ""
	}

	for _, field := range idFields {
		if id := scalarID(obj[field]); id != "" && !placeholders.Match(id) {
			return id
		}
	}

	// Nested call object: {"call": {"id": …}}
	if call, ok := obj["call"].(map[string]any); ok {
		if id := scalarID(call["id"]); id != "" && !placeholders.Match(id) {
			return id
		}
	}

	return ""
}

func scalarID(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// JSON numbers decode as float64; ids are whole numbers in practice.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
