package source

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"perfagent/internal/match"
)

// ParseObjectsJSON parses the JSON object contract shared by http and script sources.
// Each record is {"name": "domain:key=value,...", "attrs": {...}}; the root is one record or an array of them.
// Params: payload raw JSON bytes.
// Returns: objects in document order or contract error.
func ParseObjectsJSON(payload []byte) ([]Object, error) {
	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("JSON payload exceeds %d bytes", MaxPayloadBytes)
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("decode JSON: invalid document")
	}

	root := gjson.ParseBytes(payload)
	switch {
	case root.IsObject():
		object, err := parseObjectRecord(root)
		if err != nil {
			return nil, err
		}
		return []Object{object}, nil
	case root.IsArray():
		records := root.Array()
		objects := make([]Object, 0, len(records))
		for idx, record := range records {
			object, err := parseObjectRecord(record)
			if err != nil {
				return nil, fmt.Errorf("items[%d]: %w", idx, err)
			}
			objects = append(objects, object)
		}
		return objects, nil
	default:
		return nil, fmt.Errorf("root JSON must be object or array")
	}
}

// ParseObjectsJSONFromReader reads a bounded JSON payload and parses it.
// Params: r provides JSON bytes.
// Returns: parsed objects or read/contract error.
func ParseObjectsJSONFromReader(r io.Reader) ([]Object, error) {
	payload, err := readBounded(r)
	if err != nil {
		return nil, fmt.Errorf("read JSON payload: %w", err)
	}
	return ParseObjectsJSON(payload)
}

// parseObjectRecord converts one JSON record into an Object.
// Params: record JSON object value.
// Returns: object or contract error.
func parseObjectRecord(record gjson.Result) (Object, error) {
	if !record.IsObject() {
		return Object{}, fmt.Errorf("object record must be a JSON object")
	}

	nameField := record.Get("name")
	if nameField.Type != gjson.String {
		return Object{}, fmt.Errorf("name must be string")
	}
	name, err := match.ParseObjectName(nameField.Str)
	if err != nil {
		return Object{}, err
	}

	attrsField := record.Get("attrs")
	if !attrsField.IsObject() {
		return Object{}, fmt.Errorf("object %q: attrs must be an object", nameField.Str)
	}

	return Object{Name: name, Attrs: jsonAttrs(attrsField)}, nil
}

// jsonAttrs converts a JSON object into a nested attribute map.
// Params: node JSON object.
// Returns: attribute map; nulls and arrays are dropped.
func jsonAttrs(node gjson.Result) map[string]any {
	attrs := make(map[string]any)
	node.ForEach(func(key, value gjson.Result) bool {
		name := strings.TrimSpace(key.String())
		if name == "" {
			return true
		}
		if converted, ok := jsonValue(value); ok {
			attrs[name] = converted
		}
		return true
	})
	return attrs
}

// jsonValue converts one JSON scalar or object into an attribute value.
// Params: value JSON node.
// Returns: int64, float64, string, bool or nested map, and false for unsupported nodes.
func jsonValue(value gjson.Result) (any, bool) {
	switch value.Type {
	case gjson.Number:
		return parseNumberToken(value.Raw)
	case gjson.String:
		return value.Str, true
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.JSON:
		if value.IsObject() {
			return jsonAttrs(value), true
		}
	}
	return nil, false
}

// parseNumberToken parses numeric text keeping integral tokens as int64.
// Params: token numeric literal.
// Returns: int64 or finite float64 value, false otherwise.
func parseNumberToken(token string) (any, bool) {
	text := strings.TrimSpace(token)
	if !strings.ContainsAny(text, ".eEnN") {
		if value, err := strconv.ParseInt(text, 10, 64); err == nil {
			return value, true
		}
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, false
	}
	return value, true
}

// readBounded reads at most MaxPayloadBytes from r.
// Params: r payload reader.
// Returns: payload or error when nil reader or oversized payload.
func readBounded(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil reader")
	}
	payload, err := io.ReadAll(&io.LimitedReader{R: r, N: int64(MaxPayloadBytes) + 1})
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", MaxPayloadBytes)
	}
	return payload, nil
}
