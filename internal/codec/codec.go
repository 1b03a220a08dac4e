// Package codec converts between domain values, payload trees and their
// canonical JSON form used by the cache and the wire.
package codec

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/hyperengineering/studiosync/internal/types"
)

// ErrMalformed is returned when bytes or a tree cannot be interpreted.
var ErrMalformed = errors.New("malformed payload")

// Encode converts a domain value into a payload tree. The value must encode
// to a JSON object.
func Encode(v any) (types.Payload, error) {
	if p, ok := v.(types.Payload); ok {
		return Clone(p), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return Unmarshal(data)
}

// Decode converts a payload tree into a domain value.
func Decode(p types.Payload, out any) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Mark(errors.Wrap(err, "decode payload"), ErrMalformed)
	}
	return nil
}

// Marshal returns the canonical JSON form of p. Object keys are sorted, so
// equal trees always produce equal bytes.
func Marshal(p types.Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "marshal payload"), ErrMalformed)
	}
	return data, nil
}

// Unmarshal parses canonical JSON into a payload tree. Numbers become
// float64. The literal null yields a nil payload.
func Unmarshal(data []byte) (types.Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.Mark(errors.New("empty payload"), ErrMalformed)
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var p types.Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "unmarshal payload"), ErrMalformed)
	}
	return p, nil
}

// Equal reports whether two trees have the same canonical encoding.
func Equal(a, b types.Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Clone returns a deep copy of p.
func Clone(p types.Payload) types.Payload {
	if p == nil {
		return nil
	}
	out := make(types.Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case types.Payload:
		return Clone(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Path returns the remote tree path of a record, e.g. "classes/101".
func Path(c types.Collection, id string) string {
	return string(c) + "/" + id
}

// SplitPath is the inverse of Path.
func SplitPath(path string) (types.Collection, string, error) {
	col, id, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", "", errors.Newf("invalid record path %q", path)
	}
	c, err := types.ParseCollection(col)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid record path %q", path)
	}
	return c, id, nil
}
