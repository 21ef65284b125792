package checksum

import "strings"

// RelativeURL converts a request path into the relative form both sides
// sign: the query string is removed (query parameters are folded into
// the canonical payload instead, never double-counted), the first
// matching API prefix is stripped, and any leading slash is dropped.
// A nil prefixes slice selects DefaultAPIPrefixes.
func RelativeURL(path string, prefixes []string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if prefixes == nil {
		prefixes = DefaultAPIPrefixes
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			path = path[len(prefix):]
			break
		}
	}
	return strings.TrimPrefix(path, "/")
}
