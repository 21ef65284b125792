package canonical

import (
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Field is a text field of a multipart form.
type Field struct {
	Name  string
	Value string
}

// File is a binary attachment of a multipart form. Checksums must be
// computable without rehashing large binaries, so only the metadata
// triple (name, size, type) participates in the canonical form. Content
// is what the transport streams to the wire and is ignored here.
type File struct {
	Field       string
	Name        string
	Size        int64
	ContentType string
	Content     io.Reader
}

// Form models a multipart payload for signing: ordered text fields plus
// file descriptors.
type Form struct {
	Fields []Field
	Files  []File
}

// AddField appends a text field and returns the form for chaining.
func (f *Form) AddField(name, value string) *Form {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
	return f
}

// AddFile appends a file attachment and returns the form for chaining.
func (f *Form) AddFile(field, name string, size int64, contentType string, content io.Reader) *Form {
	f.Files = append(f.Files, File{
		Field:       field,
		Name:        name,
		Size:        size,
		ContentType: contentType,
		Content:     content,
	})
	return f
}

// fileDescriptor is the canonical stand-in for an attachment's bytes.
// Field order matches the alphabetical ordering of the equivalent map.
type fileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Bracket notation in multipart field names, mirroring how the backend's
// form parser reconstructs nested payloads from flat field names:
// "a[0]" is index 0 of array "a", "a[k]" is key "k" of object "a".
var (
	arrayIndexPattern = regexp.MustCompile(`^(.+)\[(\d+)\]$`)
	objectKeyPattern  = regexp.MustCompile(`^(.+)\[([^\]]+)\]$`)
)

// CanonicalString reconstructs the nested object the backend sees after
// parsing the multipart body, then canonicalizes it. Text field values
// are CRLF-normalized (multipart encoding rewrites line endings in
// transit) and coerced like any other string-typed wire input. An empty
// form canonicalizes to the empty string.
func (f *Form) CanonicalString() (string, error) {
	obj := make(map[string]any)

	for _, field := range f.Fields {
		value := CoerceString(normalizeNewlines(field.Value))

		if m := arrayIndexPattern.FindStringSubmatch(field.Name); m != nil {
			index, err := strconv.Atoi(m[2])
			if err == nil {
				list, _ := obj[m[1]].([]any)
				for len(list) <= index {
					list = append(list, nil)
				}
				list[index] = value
				obj[m[1]] = list
				continue
			}
		}
		if m := objectKeyPattern.FindStringSubmatch(field.Name); m != nil {
			nested, ok := obj[m[1]].(map[string]any)
			if !ok && obj[m[1]] != nil {
				// The base key already holds an array or scalar; the
				// backend's parser drops such fields, so must we.
				continue
			}
			if nested == nil {
				nested = make(map[string]any)
			}
			nested[m[2]] = value
			obj[m[1]] = nested
			continue
		}
		obj[field.Name] = value
	}

	// Compact sparse arrays left by missing indexes.
	for key, value := range obj {
		if list, ok := value.([]any); ok {
			compacted := list[:0]
			for _, item := range list {
				if item != nil {
					compacted = append(compacted, item)
				}
			}
			obj[key] = compacted
		}
	}

	for _, file := range f.Files {
		obj[file.Field] = fileDescriptor{
			Name: orUnknown(file.Name),
			Size: file.Size,
			Type: orUnknown(file.ContentType),
		}
	}

	if len(obj) == 0 {
		return "", nil
	}
	return Canonicalize(obj)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// normalizeNewlines rewrites any mix of CR, LF and CRLF to CRLF, the
// line ending multipart text fields carry on the wire.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
