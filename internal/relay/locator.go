package relay

import (
	"regexp"
	"sort"

	"argus_relay/platform/config"
	"argus_relay/platform/phone"
)

// maxScanDepth bounds the recursive payload walk. Decoded JSON cannot be
// cyclic, but adversarially nested input must not blow the stack.
const maxScanDepth = 64

// destinationFields are the payload fields known to carry destination
// numbers, in trust order.
var destinationFields = []string{
	"callee", "phoneNumber", "phone", "to", "number", "destination",
	"customer_phone", "lead_phone",
}

// nestedDestinationPaths are two-level object paths checked after the
// direct fields.
var nestedDestinationPaths = [][2]string{
	{"customer", "phone"}, {"customer", "number"},
	{"lead", "phone"}, {"lead", "number"},
	{"caller", "phone"}, {"caller", "number"},
	{"call", "to"}, {"call", "phone"},
}

// bodyPhoneRe finds phone-like runs in raw body text: +55 runs, bare
// country-code runs, or any 10-13 digit run. Every hit is re-validated
// through the normalizer.
var bodyPhoneRe = regexp.MustCompile(`\+55\d{10,11}|\b55\d{10,11}\b|\b\d{10,13}\b`)

// Aux carries the high-trust phone candidates injected by the transport
// layer, plus the raw body for full-text scanning.
type Aux struct {
	HeaderPhone string
	QueryPhone  string
	PathPhone   string
	RawBody     string
}

// Match is a successfully located destination number.
type Match struct {
	// Raw is the candidate string as found.
	Raw string
	// Normalized is the canonical +55 form.
	Normalized string
	// Stage names where the winning candidate came from.
	Stage string
	// Candidates lists every distinct valid normalized number seen across
	// all stages, in search order. Surfaced as diagnostic metadata when the
	// payload is ambiguous.
	Candidates []string
}

// Locator searches payloads for a dialable destination number.
type Locator struct {
	fields       []string
	placeholders *PlaceholderMatcher
}

// NewLocator builds a locator using the default field order extended by
// configuration.
func NewLocator(cfg config.RelayConfig) *Locator {
	fields := append(append([]string(nil), destinationFields...), cfg.GetExtraPhoneFields()...)
	return &Locator{
		fields:       fields,
		placeholders: NewPlaceholderMatcher(cfg.GetExtraPlaceholderPatterns()),
	}
}

// Placeholders exposes the locator's placeholder matcher, shared with key
// derivation.
func (l *Locator) Placeholders() *PlaceholderMatcher {
	return l.placeholders
}

type candidate struct {
	raw   string
	stage string
}

// Locate returns the first candidate, in search order, that the normalizer
// accepts. Template placeholders are skipped unconditionally at every
// stage. All valid candidates are collected for diagnostics.
func (l *Locator) Locate(p Payload, aux Aux) (Match, bool) {
	var match Match
	found := false
	seen := map[string]bool{}

	for _, cand := range l.candidates(p, aux) {
		if l.placeholders.Match(cand.raw) {
			continue
		}
		normalized, ok := phone.Normalize(cand.raw)
		if !ok {
			continue
		}
		if !found {
			match = Match{Raw: cand.raw, Normalized: normalized, Stage: cand.stage}
			found = true
		}
		if !seen[normalized] {
			seen[normalized] = true
			match.Candidates = append(match.Candidates, normalized)
		}
	}

	return match, found
}

func (l *Locator) candidates(p Payload, aux Aux) []candidate {
	var out []candidate

	// Transport-injected candidates first.
	for _, c := range []candidate{
		{aux.HeaderPhone, "header"},
		{aux.QueryPhone, "query"},
		{aux.PathPhone, "path"},
	} {
		if c.raw != "" {
			out = append(out, c)
		}
	}

	obj := p.Object()

	// Known destination fields.
	for _, field := range l.fields {
		if s, ok := obj[field].(string); ok && s != "" {
			out = append(out, candidate{s, "field:" + field})
		}
	}
	for _, path := range nestedDestinationPaths {
		if nested, ok := obj[path[0]].(map[string]any); ok {
			if s, ok := nested[path[1]].(string); ok && s != "" {
				out = append(out, candidate{s, "field:" + path[0] + "." + path[1]})
			}
		}
	}

	// Exhaustive recursive scan of every string value.
	out = scanValue(p.Value, 0, out)

	// Full-text scan of the raw body.
	body := aux.RawBody
	if body == "" {
		body = p.BodyText()
	}
	for _, hit := range bodyPhoneRe.FindAllString(body, -1) {
		out = append(out, candidate{hit, "body"})
	}

	return out
}

// scanValue walks the decoded payload depth-first. Object keys are visited
// in sorted order so "first candidate wins" is deterministic.
func scanValue(value any, depth int, out []candidate) []candidate {
	if depth > maxScanDepth {
		return out
	}

	switch v := value.(type) {
	case string:
		if v != "" {
			out = append(out, candidate{v, "scan"})
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = scanValue(v[k], depth+1, out)
		}
	case []any:
		for _, item := range v {
			out = scanValue(item, depth+1, out)
		}
	}
	return out
}
