package canonical

// Payload is the tagged union of request payload shapes. The shape is
// decided once at the call site and carried explicitly, instead of being
// re-detected from the value at signing time.
type Payload interface {
	// CanonicalString returns the deterministic string representation
	// of the payload, or "" when there is nothing to sign.
	CanonicalString() (string, error)
}

// JSON is a request body payload: any JSON-marshalable value.
type JSON struct {
	Value any
}

func (p JSON) CanonicalString() (string, error) {
	return Canonicalize(p.Value)
}

// Query is a query-parameter payload, used for requests that carry their
// data in the URL. Values are coerced and empty-object parameters are
// pruned before canonicalization.
type Query struct {
	Params map[string]any
}

func (p Query) CanonicalString() (string, error) {
	params := PruneEmptyObjects(CoerceParams(p.Params))
	if len(params) == 0 {
		return "", nil
	}
	return Canonicalize(params)
}

// Raw is pre-serialized payload text used verbatim, such as a response
// body whose exact bytes were captured before JSON parsing.
type Raw struct {
	Text string
}

func (p Raw) CanonicalString() (string, error) {
	return p.Text, nil
}
