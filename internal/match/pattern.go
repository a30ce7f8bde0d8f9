package match

import (
	"fmt"
	"strings"
)

type keyPattern struct {
	key   string
	value WildcardPattern
}

// ObjectPattern matches object names by domain and key property wildcards.
// Params: compiled domain pattern, key patterns and exactness flag.
// Returns: reusable matcher.
type ObjectPattern struct {
	raw    string
	domain WildcardPattern
	keys   []keyPattern
	open   bool
}

// CompileObjectPattern compiles "domain:key=value,...[,*]" pattern text.
// A trailing "*" property allows names with extra keys; otherwise key sets must be equal.
// Params: text pattern; domain and values may contain '*'.
// Returns: compiled pattern or syntax error.
func CompileObjectPattern(text string) (ObjectPattern, error) {
	domain, props, err := splitObjectName(text)
	if err != nil {
		return ObjectPattern{}, err
	}

	domainPattern, _ := CompileWildcard(domain)
	pattern := ObjectPattern{
		raw:    strings.TrimSpace(text),
		domain: domainPattern,
	}

	seen := make(map[string]struct{}, len(props))
	for idx, prop := range props {
		if prop == "*" {
			if idx != len(props)-1 {
				return ObjectPattern{}, fmt.Errorf("object pattern %q: '*' must be the last property", text)
			}
			pattern.open = true
			continue
		}

		key, value, err := splitKeyProperty(prop)
		if err != nil {
			return ObjectPattern{}, fmt.Errorf("object pattern %q: %w", text, err)
		}
		if _, dup := seen[key]; dup {
			return ObjectPattern{}, fmt.Errorf("object pattern %q: duplicate key %q", text, key)
		}
		seen[key] = struct{}{}

		valuePattern, ok := CompileWildcard(value)
		if !ok {
			return ObjectPattern{}, fmt.Errorf("object pattern %q: key %q has empty value", text, key)
		}
		pattern.keys = append(pattern.keys, keyPattern{key: key, value: valuePattern})
	}

	return pattern, nil
}

// Match evaluates the pattern against one object name.
// Params: name candidate object name.
// Returns: true when domain and all key patterns match.
func (p ObjectPattern) Match(name ObjectName) bool {
	if !p.domain.Match(name.Domain) {
		return false
	}
	if !p.open && len(name.Keys) != len(p.keys) {
		return false
	}

	for _, kp := range p.keys {
		value, ok := name.Key(kp.key)
		if !ok || !kp.value.Match(value) {
			return false
		}
	}
	return true
}

// String returns the pattern source text.
// Params: none.
// Returns: raw pattern.
func (p ObjectPattern) String() string {
	return p.raw
}
