package canonical

import (
	"net/url"
	"reflect"
)

// ParseQuery parses a raw query string into a coerced parameter map.
// A key that appears once maps to its coerced value; a repeated key maps
// to the ordered list of coerced values. Malformed fragments are dropped
// rather than failing the whole parse.
func ParseQuery(rawQuery string) map[string]any {
	if rawQuery == "" {
		return nil
	}
	values, _ := url.ParseQuery(rawQuery)
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]any, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
		case 1:
			params[key] = CoerceString(vals[0])
		default:
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = CoerceString(v)
			}
			params[key] = list
		}
	}
	return params
}

// CoerceParams returns a copy of params with string values (including
// strings inside top-level slices) run through CoerceString. Parameters
// supplied as typed Go values are left alone; only string-typed entries
// are ambiguous on the wire.
func CoerceParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = coerceParamValue(value)
	}
	return out
}

func coerceParamValue(value any) any {
	switch v := value.(type) {
	case string:
		return CoerceString(v)
	case []any:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = coerceParamValue(item)
		}
		return list
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = CoerceString(item)
		}
		return list
	default:
		return value
	}
}

// MergeParams folds parameters recovered from a URL's query string
// together with an explicitly supplied parameter map. The explicit map
// wins on key conflicts; only the merged result is canonicalized, so a
// parameter present in both places is never counted twice.
func MergeParams(fromURL, explicit map[string]any) map[string]any {
	if len(fromURL) == 0 && len(explicit) == 0 {
		return nil
	}
	merged := make(map[string]any, len(fromURL)+len(explicit))
	for key, value := range fromURL {
		merged[key] = value
	}
	for key, value := range explicit {
		merged[key] = value
	}
	return merged
}

// PruneEmptyObjects removes top-level parameters whose value is an empty
// object, such as an unset sort specification serialized as "{}". The
// backend treats such fields as absent, so signing them would guarantee a
// mismatch.
func PruneEmptyObjects(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if isEmptyObject(value) {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isEmptyObject(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Map && rv.Len() == 0
}
