package perfmon

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"perfagent/internal/match"
	"perfagent/internal/source"
)

const (
	// AttrDomain is the pseudo dynamic attribute holding the object domain.
	AttrDomain = "domain"
	// AttrPath is the pseudo dynamic attribute holding the matched attribute path.
	AttrPath = "attr"
)

// QueryDef declares what one lister reads from a source.
// Params: Source name; Object pattern "domain:key=value,...[,*]"; Attrs dotted selectors whose
// last segment may contain '*' (empty means every top-level attribute); Dynamic attribute names
// taken from object keys, "domain" or "attr"; Template name, empty for a disabled query.
// Returns: immutable query declaration.
type QueryDef struct {
	Source   string
	Object   string
	Attrs    []string
	Dynamic  []string
	Template string
}

// QueryResult is one attribute reading produced by a lister.
// Params: Path dotted attribute path; Value raw value of any type; Attrs dynamic attribute values.
// Returns: ephemeral reading.
type QueryResult struct {
	Path  string
	Value any
	Attrs map[string]string
}

// QueryLister produces readings for one query and names the template that derives them.
type QueryLister interface {
	// List executes the query once.
	List(ctx context.Context) ([]QueryResult, error)
	// Template returns the template for this query; nil disables the lister.
	Template() *MetricTemplate
}

type attrSelector struct {
	parents []string
	leaf    match.WildcardPattern
}

// Lister executes one QueryDef against a source.
// Params: none; build with NewQueryLister.
// Returns: stateless lister safe for repeated List calls.
type Lister struct {
	def       QueryDef
	src       source.Source
	pattern   match.ObjectPattern
	selectors []attrSelector
	template  *MetricTemplate
}

// NewQueryLister validates a query and binds it to its source and template.
// Params: def query declaration; src attribute source (may be nil only when template is nil);
// template derivation template or nil for a disabled lister.
// Returns: lister or construction error.
func NewQueryLister(def QueryDef, src source.Source, template *MetricTemplate) (*Lister, error) {
	lister := &Lister{def: def, src: src, template: template}
	if template == nil && src == nil {
		return lister, nil
	}
	if src == nil {
		return nil, fmt.Errorf("query %q: source %q is not available", def.Object, def.Source)
	}

	pattern, err := match.CompileObjectPattern(def.Object)
	if err != nil {
		return nil, fmt.Errorf("query on source %q: %w", def.Source, err)
	}
	lister.pattern = pattern

	selectors := def.Attrs
	if len(selectors) == 0 {
		selectors = []string{"*"}
	}
	for _, raw := range selectors {
		selector, err := compileAttrSelector(raw)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", def.Object, err)
		}
		lister.selectors = append(lister.selectors, selector)
	}

	if template != nil {
		declared := make(map[string]struct{}, len(def.Dynamic))
		for _, name := range def.Dynamic {
			declared[name] = struct{}{}
		}
		for _, name := range template.Dynamic() {
			if _, ok := declared[name]; !ok {
				return nil, fmt.Errorf("query %q: template %q dynamic attribute %q is not listed by the query", def.Object, template.Name(), name)
			}
		}
	}
	return lister, nil
}

// Def returns the query declaration.
func (l *Lister) Def() QueryDef {
	return l.def
}

// Template returns the bound template or nil.
func (l *Lister) Template() *MetricTemplate {
	return l.template
}

// List reads the source and expands matching objects into readings.
// Params: ctx passed to the source read.
// Returns: readings ordered by object, then attribute path; or source error.
func (l *Lister) List(ctx context.Context) ([]QueryResult, error) {
	if l.src == nil {
		return nil, nil
	}

	objects, err := l.src.Objects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s on source %q: %w", l.pattern, l.src.Name(), err)
	}

	var results []QueryResult
	for _, object := range objects {
		if !l.pattern.Match(object.Name) {
			continue
		}
		for _, attr := range l.matchAttrs(object.Attrs) {
			results = append(results, QueryResult{
				Path:  attr.path,
				Value: attr.value,
				Attrs: l.dynamicAttrs(object.Name, attr.path),
			})
		}
	}
	return results, nil
}

type attrMatch struct {
	path  string
	value any
}

// matchAttrs returns unique attributes selected by the query, sorted by path.
// Params: attrs object attribute tree.
// Returns: dotted paths with their values.
func (l *Lister) matchAttrs(attrs map[string]any) []attrMatch {
	seen := make(map[string]struct{})
	var matched []attrMatch
	for _, selector := range l.selectors {
		parent := attrs
		for _, segment := range selector.parents {
			next, ok := parent[segment].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		prefix := strings.Join(selector.parents, ".")
		for _, key := range source.SortedKeys(parent) {
			if !selector.leaf.Match(key) {
				continue
			}
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			matched = append(matched, attrMatch{path: path, value: parent[key]})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].path < matched[j].path })
	return matched
}

// dynamicAttrs collects declared dynamic attributes of one reading.
// Params: name object name; path matched attribute path.
// Returns: attribute map without names the object does not carry, nil when none are declared.
func (l *Lister) dynamicAttrs(name match.ObjectName, path string) map[string]string {
	if len(l.def.Dynamic) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(l.def.Dynamic))
	for _, attr := range l.def.Dynamic {
		switch attr {
		case AttrDomain:
			attrs[attr] = name.Domain
		case AttrPath:
			attrs[attr] = path
		default:
			if value, ok := name.Key(attr); ok {
				attrs[attr] = value
			}
		}
	}
	return attrs
}

// compileAttrSelector parses one dotted selector.
// Params: raw selector like "used", "Usage.*" or "*".
// Returns: compiled selector or error on empty segments or wildcards before the last segment.
func compileAttrSelector(raw string) (attrSelector, error) {
	segments := strings.Split(strings.TrimSpace(raw), ".")
	for idx, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return attrSelector{}, fmt.Errorf("attribute selector %q has an empty segment", raw)
		}
		if idx < len(segments)-1 && strings.Contains(segment, "*") {
			return attrSelector{}, fmt.Errorf("attribute selector %q: wildcard allowed only in the last segment", raw)
		}
		segments[idx] = segment
	}

	leaf, _ := match.CompileWildcard(segments[len(segments)-1])
	return attrSelector{parents: segments[:len(segments)-1], leaf: leaf}, nil
}
