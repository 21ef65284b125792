// Package canonical turns request and response payloads into the single
// deterministic string form the Unpod backend computes on its side of the
// integrity check.
//
// The canonical form is a compact JSON document with object keys sorted
// alphabetically at every nesting level and array order preserved. The same
// logical payload yields the same string whether it reached the wire as a
// JSON body, a query string, or a multipart form, which is what lets both
// ends agree on a digest without ever exchanging the canonical string
// itself.
package canonical

import (
	stdjson "encoding/json"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// json is the codec used for all canonical output. SortMapKeys gives the
// recursive alphabetical key ordering, UseNumber keeps numbers verbatim
// through a decode/encode round trip, and EscapeHTML is off because the
// backend serializes without ASCII escaping.
var json = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
	UseNumber:   true,
}.Froze()

// Canonicalize returns the deterministic string for a JSON-compatible
// value.
//
// Strings and byte slices pass through verbatim: they are already wire
// text, not documents to be re-encoded. A nil value canonicalizes to the
// empty string, meaning "no payload". Everything else is encoded, decoded
// into a generic tree, and re-encoded so that struct field order and map
// iteration order cannot leak into the result.
func Canonicalize(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", err
	}
	return json.MarshalToString(tree)
}

// CanonicalizeText canonicalizes a payload that is already serialized,
// such as a raw request body read off the wire. If the text parses as
// JSON it is re-encoded in canonical form; otherwise the text itself is
// the canonical form. It never fails.
func CanonicalizeText(text string) string {
	if text == "" {
		return ""
	}
	var tree any
	if err := json.UnmarshalFromString(text, &tree); err != nil {
		return text
	}
	out, err := json.MarshalToString(tree)
	if err != nil {
		return text
	}
	return out
}

// CoerceString maps a string-typed input (a query-string value or a
// multipart form field) onto the value the backend's parser produces for
// the same bytes. The wire flattens every parameter to a string, so both
// ends must re-type them identically before canonicalizing:
//
//   - "true"/"false" become booleans, "null" becomes null
//   - numeric-looking strings become numbers
//   - strings opening with '{' or '[' are parsed as JSON, falling back to
//     the literal string if the parse fails
//
// The empty string stays a string.
func CoerceString(s string) any {
	if s == "" {
		return s
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.UnmarshalFromString(trimmed, &v); err == nil {
			return v
		}
		return s
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, ok := coerceNumber(trimmed); ok {
		return n
	}
	return s
}

// coerceNumber converts a numeric-looking string into a json.Number.
// Integers keep their value in canonical decimal form; everything else
// goes through float64 and is re-rendered in the shortest representation,
// matching how a JSON parser on the other side would re-serialize it.
func coerceNumber(s string) (stdjson.Number, bool) {
	if !looksNumeric(s) {
		return "", false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return stdjson.Number(strconv.FormatInt(i, 10)), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	return stdjson.Number(strconv.FormatFloat(f, 'g', -1, 64)), true
}

// looksNumeric guards coerceNumber against ParseFloat's wider grammar:
// "inf", "nan" and hexadecimal floats all parse as floats but are not
// numbers on the wire.
func looksNumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '.' || r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return s != ""
}
