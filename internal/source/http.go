package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// FormatJSON selects the JSON object contract.
	FormatJSON = "json"
	// FormatPrometheus selects Prometheus text exposition.
	FormatPrometheus = "prometheus"
)

// payloadDecoder converts one fetched payload into objects.
type payloadDecoder func(io.Reader) ([]Object, error)

// newPayloadDecoder selects a decoder for a payload format.
// Params: format json or prometheus (empty means json); domain for Prometheus objects.
// Returns: decoder or error for unknown format.
func newPayloadDecoder(format, domain string) (payloadDecoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return ParseObjectsJSONFromReader, nil
	case FormatPrometheus:
		return NewPrometheusParser(domain).ParseFromReader, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// HTTPSourceOptions describes one HTTP attribute source.
// Params: URL endpoint, request timeout, payload format and Prometheus domain.
// Returns: source options.
type HTTPSourceOptions struct {
	URL     string
	Timeout time.Duration
	Format  string
	Domain  string
}

// HTTPSource fetches objects over HTTP GET.
// Params: source name and options.
// Returns: HTTP attribute source.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
	decode payloadDecoder
}

// NewHTTPSource creates an HTTP source.
// Params: name registered source name; options endpoint and parsing settings.
// Returns: configured source or error on empty URL or unknown format.
func NewHTTPSource(name string, options HTTPSourceOptions) (*HTTPSource, error) {
	url := strings.TrimSpace(options.URL)
	if url == "" {
		return nil, fmt.Errorf("source %q: url is required", name)
	}
	decode, err := newPayloadDecoder(options.Format, defaultDomain(options.Domain, name))
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", name, err)
	}

	return &HTTPSource{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: options.Timeout},
		decode: decode,
	}, nil
}

// Name returns the registered source name.
// Params: none.
// Returns: source name.
func (s *HTTPSource) Name() string {
	return s.name
}

// Objects fetches the endpoint and parses the response body.
// Params: ctx for cancellation.
// Returns: parsed objects or HTTP/parse error.
func (s *HTTPSource) Objects(ctx context.Context) ([]Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		bodyText := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
		if bodyText == "" {
			return nil, fmt.Errorf("GET %s: unexpected status %s", s.url, resp.Status)
		}
		return nil, fmt.Errorf("GET %s: unexpected status %s: %s", s.url, resp.Status, bodyText)
	}

	objects, err := s.decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response from %s: %w", s.url, err)
	}
	return objects, nil
}

// defaultDomain returns domain or the source name when domain is empty.
func defaultDomain(domain, name string) string {
	if strings.TrimSpace(domain) == "" {
		return name
	}
	return strings.TrimSpace(domain)
}
