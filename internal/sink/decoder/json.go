// Package decoder turns raw record values into documents.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cbsink/internal/sink"
)

// keyField holds a structured record key inside the document body.
const keyField = "_key"

// JSON decodes record values holding either a JSON object or a JSON array
// with exactly one object.
type JSON struct{}

var _ sink.RecordDecoder = JSON{}

// Decode implements sink.RecordDecoder. The document ID is the record key
// when present, otherwise one derived from topic, partition and offset.
func (JSON) Decode(r sink.Record) (sink.Document, error) {
	body, err := parseValue(r.Value)
	if err != nil {
		return sink.Document{}, err
	}

	id := sink.RecordKey(r.Topic, r.Partition, r.Offset)
	if len(r.Key) > 0 {
		id = string(r.Key)
		if key, ok := parseKey(r.Key); ok {
			body[keyField] = key
		}
	}

	return sink.Document{ID: id, Body: body}, nil
}

func parseValue(value []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: cannot deserialize empty value as object or list", sink.ErrDecode)
	}

	var obj map[string]any
	objErr := unmarshal(trimmed, &obj)
	if objErr == nil && obj != nil {
		return obj, nil
	}

	var list []map[string]any
	if err := unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: cannot deserialize value of type %s as object or list: %w", sink.ErrDecode, kind(trimmed), objErr)
	}
	if len(list) != 1 || list[0] == nil {
		return nil, fmt.Errorf("%w: only 1 object allowed in list type messages, found %d", sink.ErrDecode, len(list))
	}

	return list[0], nil
}

// parseKey returns the key as an object when it is a JSON object.
func parseKey(key []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(key)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var m map[string]any
	if err := unmarshal(trimmed, &m); err != nil {
		return nil, false
	}
	return m, true
}

// unmarshal decodes a single JSON value, keeping numbers as json.Number so
// integers beyond float64 precision are written back unchanged.
func unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

func kind(b []byte) string {
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		if json.Valid(b) {
			return "number"
		}
		return "unknown"
	}
}
