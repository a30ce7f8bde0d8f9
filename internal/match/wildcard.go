package match

import "strings"

// WildcardPattern is a compiled '*' wildcard matcher.
// Params: internal split parts, anchor flags and literal fast path.
// Returns: reusable matcher for many Match calls.
type WildcardPattern struct {
	parts         []string
	literal       string
	isLiteral     bool
	anchoredStart bool
	anchoredEnd   bool
	matchAll      bool
}

// CompileWildcard compiles pattern into reusable wildcard matcher.
// Params: pattern may contain '*' wildcards; surrounding spaces are ignored.
// Returns: compiled matcher and false when pattern is empty.
func CompileWildcard(pattern string) (WildcardPattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return WildcardPattern{}, false
	}
	if strings.Trim(p, "*") == "" {
		return WildcardPattern{matchAll: true}, true
	}
	if !strings.Contains(p, "*") {
		return WildcardPattern{literal: p, isLiteral: true}, true
	}

	return WildcardPattern{
		parts:         strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, true
}

// IsLiteral reports whether the pattern contains no wildcard.
// Params: none.
// Returns: true for plain text patterns.
func (p WildcardPattern) IsLiteral() bool {
	return p.isLiteral
}

// Match evaluates compiled wildcard pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p WildcardPattern) Match(value string) bool {
	switch {
	case p.matchAll:
		return true
	case p.isLiteral:
		return value == p.literal
	case len(p.parts) == 0:
		return false
	}

	rest := value
	first, last := 0, len(p.parts)-1

	if p.anchoredStart {
		if !strings.HasPrefix(rest, p.parts[0]) {
			return false
		}
		rest = rest[len(p.parts[0]):]
		first = 1
	}

	var tail string
	if p.anchoredEnd {
		tail = p.parts[last]
		last--
	}

	for idx := first; idx <= last; idx++ {
		segment := p.parts[idx]
		if segment == "" {
			continue
		}
		offset := strings.Index(rest, segment)
		if offset < 0 {
			return false
		}
		rest = rest[offset+len(segment):]
	}

	if p.anchoredEnd {
		return len(rest) >= len(tail) && strings.HasSuffix(rest, tail)
	}
	return true
}

// WildcardMatch evaluates '*' wildcard pattern against value.
// Params: pattern may contain '*' wildcards; value is compared text.
// Returns: true on pattern match.
func WildcardMatch(pattern, value string) bool {
	compiled, ok := CompileWildcard(pattern)
	if !ok {
		return false
	}
	return compiled.Match(value)
}
