package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"perfagent/internal/match"
)

// PrometheusParser converts text exposition into one object per series.
// Series become objects "<domain>:name=<metric>,<label>=<value>,..." with a single "value" attribute.
// Params: domain used for every parsed object.
// Returns: reusable parser.
type PrometheusParser struct {
	domain string
}

// NewPrometheusParser creates a parser for one object-name domain.
// Params: domain object-name domain; empty means "prom".
// Returns: reusable parser.
func NewPrometheusParser(domain string) *PrometheusParser {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = "prom"
	}
	return &PrometheusParser{domain: domain}
}

// ParseFromReader reads a bounded payload and parses it.
// Params: r provides Prometheus text payload.
// Returns: parsed objects or read/parse error.
func (p *PrometheusParser) ParseFromReader(r io.Reader) ([]Object, error) {
	payload, err := readBounded(r)
	if err != nil {
		return nil, fmt.Errorf("read Prometheus payload: %w", err)
	}
	return p.Parse(string(payload))
}

// Parse parses Prometheus text exposition.
// Counter, gauge and untyped samples are kept; histogram and summary series are skipped.
// Params: payload text exposition.
// Returns: objects in first-seen order or error when nothing usable is found.
func (p *PrometheusParser) Parse(payload string) ([]Object, error) {
	metricTypes := make(map[string]string)
	index := make(map[string]int)
	objects := make([]Object, 0, 64)
	malformedLines := 0

	scanner := bufio.NewScanner(strings.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxPayloadBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			parsePrometheusTypeLine(line, metricTypes)
			continue
		}

		metricName, labels, value, err := parsePrometheusSampleLine(line)
		if err != nil {
			malformedLines++
			continue
		}

		switch prometheusSeriesType(metricTypes, metricName) {
		case "", "counter", "gauge", "untyped":
		default:
			continue
		}

		name := p.objectName(metricName, labels)
		key := name.String()
		if idx, seen := index[key]; seen {
			objects[idx].Attrs["value"] = value
			continue
		}
		index[key] = len(objects)
		objects = append(objects, Object{Name: name, Attrs: map[string]any{"value": value}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan Prometheus payload: %w", err)
	}

	if len(objects) == 0 {
		if malformedLines > 0 {
			return nil, fmt.Errorf("no usable Prometheus samples found (malformed lines=%d)", malformedLines)
		}
		return nil, fmt.Errorf("no usable Prometheus samples found")
	}
	return objects, nil
}

// objectName builds the object name of one series.
// Params: metricName series metric; labels in exposition order.
// Returns: object name with "name" first, a label called "name" is renamed to "label_name".
func (p *PrometheusParser) objectName(metricName string, labels []match.KeyProperty) match.ObjectName {
	keys := make([]match.KeyProperty, 0, len(labels)+1)
	keys = append(keys, match.KeyProperty{Key: "name", Value: metricName})
	for _, label := range labels {
		if label.Key == "name" {
			label.Key = "label_name"
		}
		keys = append(keys, label)
	}
	return match.ObjectName{Domain: p.domain, Keys: keys}
}

// parsePrometheusTypeLine parses '# TYPE <name> <type>' declarations.
// Params: line is one comment line; metricTypes stores parsed type by metric name.
// Returns: none.
func parsePrometheusTypeLine(line string, metricTypes map[string]string) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "#" || strings.ToUpper(fields[1]) != "TYPE" {
		return
	}
	metricTypes[fields[2]] = strings.ToLower(fields[3])
}

// prometheusSeriesType resolves the declared type of a series, including histogram and summary children.
// Params: metricTypes declared types; metricName series metric name.
// Returns: declared type or empty string when undeclared.
func prometheusSeriesType(metricTypes map[string]string, metricName string) string {
	if metricType, ok := metricTypes[metricName]; ok {
		return metricType
	}
	for _, suffix := range []string{"_bucket", "_sum", "_count", "_created"} {
		base, ok := strings.CutSuffix(metricName, suffix)
		if !ok {
			continue
		}
		if metricType := metricTypes[base]; metricType == "histogram" || metricType == "summary" {
			return metricType
		}
	}
	return ""
}

// parsePrometheusSampleLine parses one sample line.
// Params: line contains metric sample in exposition format.
// Returns: metric name, labels, numeric value, parse error.
func parsePrometheusSampleLine(line string) (string, []match.KeyProperty, any, error) {
	seriesToken, valuePart, err := splitPrometheusSeriesAndValue(line)
	if err != nil {
		return "", nil, nil, err
	}

	metricName, labels, err := parsePrometheusSeriesToken(seriesToken)
	if err != nil {
		return "", nil, nil, err
	}

	valueFields := strings.Fields(valuePart)
	if len(valueFields) == 0 {
		return "", nil, nil, fmt.Errorf("missing sample value")
	}
	value, ok := parseNumberToken(valueFields[0])
	if !ok {
		return "", nil, nil, fmt.Errorf("invalid sample value %q", valueFields[0])
	}
	return metricName, labels, value, nil
}

// splitPrometheusSeriesAndValue splits a sample line at the first blank outside the label block.
// Params: line is one sample line.
// Returns: series token, value segment, parse error.
func splitPrometheusSeriesAndValue(line string) (string, string, error) {
	inBraces := false
	inQuotes := false
	escaped := false

	for idx := 0; idx < len(line); idx++ {
		ch := line[idx]
		if inQuotes {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inQuotes = false
			}
			continue
		}

		switch ch {
		case '{':
			inBraces = true
		case '}':
			inBraces = false
		case '"':
			inQuotes = inBraces
		case ' ', '\t':
			if !inBraces {
				return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), nil
			}
		}
	}
	return "", "", fmt.Errorf("missing sample value")
}

// parsePrometheusSeriesToken parses '<metric>{labels}' or '<metric>'.
// Params: token contains metric and optional labels block.
// Returns: metric name, labels in order, parse error.
func parsePrometheusSeriesToken(token string) (string, []match.KeyProperty, error) {
	openIdx := strings.IndexByte(token, '{')
	if openIdx < 0 {
		if token == "" {
			return "", nil, fmt.Errorf("empty metric name")
		}
		return token, nil, nil
	}
	if !strings.HasSuffix(token, "}") {
		return "", nil, fmt.Errorf("invalid labels block")
	}

	name := strings.TrimSpace(token[:openIdx])
	if name == "" {
		return "", nil, fmt.Errorf("empty metric name")
	}
	labels, err := parsePrometheusLabels(token[openIdx+1 : len(token)-1])
	if err != nil {
		return "", nil, err
	}
	return name, labels, nil
}

// parsePrometheusLabels parses `k="v",k2="v2"` with backslash escapes.
// Params: block text between braces.
// Returns: labels in order or parse error.
func parsePrometheusLabels(block string) ([]match.KeyProperty, error) {
	var labels []match.KeyProperty
	rest := strings.TrimSpace(block)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("invalid label %q", rest)
		}
		key := strings.TrimSpace(rest[:eq])
		rest = strings.TrimSpace(rest[eq+1:])
		if !strings.HasPrefix(rest, `"`) {
			return nil, fmt.Errorf("label %q value must be quoted", key)
		}

		var value strings.Builder
		closed := false
		idx := 1
		for ; idx < len(rest); idx++ {
			ch := rest[idx]
			if ch == '\\' && idx+1 < len(rest) {
				idx++
				switch rest[idx] {
				case 'n':
					value.WriteByte('\n')
				default:
					value.WriteByte(rest[idx])
				}
				continue
			}
			if ch == '"' {
				closed = true
				break
			}
			value.WriteByte(ch)
		}
		if !closed {
			return nil, fmt.Errorf("label %q value is not terminated", key)
		}

		labels = append(labels, match.KeyProperty{Key: key, Value: value.String()})
		rest = strings.TrimSpace(rest[idx+1:])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ","))
	}
	return labels, nil
}
