package match

import (
	"fmt"
	"sort"
	"strings"
)

// KeyProperty is one key=value pair of an object name.
type KeyProperty struct {
	Key   string
	Value string
}

// ObjectName identifies one attribute-source object as domain:key=value[,key=value...].
// Params: domain and ordered key properties.
// Returns: immutable object identity.
type ObjectName struct {
	Domain string
	Keys   []KeyProperty
}

// NewObjectName builds an object name from domain and alternating key/value pairs.
// Params: domain name; pairs key1, value1, key2, value2...; a trailing odd key is ignored.
// Returns: object name with keys in given order.
func NewObjectName(domain string, pairs ...string) ObjectName {
	keys := make([]KeyProperty, 0, len(pairs)/2)
	for idx := 0; idx+1 < len(pairs); idx += 2 {
		keys = append(keys, KeyProperty{Key: pairs[idx], Value: pairs[idx+1]})
	}
	return ObjectName{Domain: domain, Keys: keys}
}

// ParseObjectName parses canonical "domain:key=value,..." text.
// Params: text object name.
// Returns: parsed object name or syntax error.
func ParseObjectName(text string) (ObjectName, error) {
	domain, props, err := splitObjectName(text)
	if err != nil {
		return ObjectName{}, err
	}

	name := ObjectName{Domain: domain}
	for _, prop := range props {
		if prop == "*" {
			return ObjectName{}, fmt.Errorf("object name %q: wildcard not allowed", text)
		}
		key, value, err := splitKeyProperty(prop)
		if err != nil {
			return ObjectName{}, fmt.Errorf("object name %q: %w", text, err)
		}
		name.Keys = append(name.Keys, KeyProperty{Key: key, Value: value})
	}
	return name, nil
}

// Key returns value for one key property.
// Params: key property name.
// Returns: value and true when key exists.
func (n ObjectName) Key(key string) (string, bool) {
	for _, prop := range n.Keys {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// String renders the object name in declaration order.
// Params: none.
// Returns: "domain:key=value,..." text.
func (n ObjectName) String() string {
	var builder strings.Builder
	builder.WriteString(n.Domain)
	builder.WriteByte(':')
	for idx, prop := range n.Keys {
		if idx > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(prop.Key)
		builder.WriteByte('=')
		builder.WriteString(prop.Value)
	}
	return builder.String()
}

// Canonical renders the object name with keys sorted, so equal names render equally.
// Params: none.
// Returns: canonical object name text.
func (n ObjectName) Canonical() string {
	sorted := ObjectName{Domain: n.Domain, Keys: append([]KeyProperty(nil), n.Keys...)}
	sort.Slice(sorted.Keys, func(i, j int) bool {
		return sorted.Keys[i].Key < sorted.Keys[j].Key
	})
	return sorted.String()
}

// splitObjectName splits text into domain and raw key property list.
// Params: text object name or pattern.
// Returns: domain, property tokens, syntax error.
func splitObjectName(text string) (string, []string, error) {
	raw := strings.TrimSpace(text)
	sep := strings.IndexByte(raw, ':')
	if sep < 0 {
		return "", nil, fmt.Errorf("object name %q: missing ':' domain separator", text)
	}

	domain := strings.TrimSpace(raw[:sep])
	if domain == "" {
		return "", nil, fmt.Errorf("object name %q: empty domain", text)
	}

	body := strings.TrimSpace(raw[sep+1:])
	if body == "" {
		return domain, nil, nil
	}

	parts := strings.Split(body, ",")
	props := make([]string, 0, len(parts))
	for _, part := range parts {
		prop := strings.TrimSpace(part)
		if prop == "" {
			return "", nil, fmt.Errorf("object name %q: empty key property", text)
		}
		props = append(props, prop)
	}
	return domain, props, nil
}

// splitKeyProperty splits one key=value token.
// Params: prop raw token.
// Returns: key, value, syntax error.
func splitKeyProperty(prop string) (string, string, error) {
	eq := strings.IndexByte(prop, '=')
	if eq <= 0 {
		return "", "", fmt.Errorf("key property %q must be key=value", prop)
	}
	key := strings.TrimSpace(prop[:eq])
	value := strings.TrimSpace(prop[eq+1:])
	if key == "" {
		return "", "", fmt.Errorf("key property %q has empty key", prop)
	}
	return key, value, nil
}
