package source

import (
	"strings"
	"testing"
)

// TestParseObjectsJSON verifies record forms, nesting and integer preservation.
// Params: testing.T for assertions.
// Returns: none.
func TestParseObjectsJSON(t *testing.T) {
	payload := []byte(`[
		{"name": "app:type=Pool,name=db", "attrs": {"active": 12, "ratio": 0.5, "state": "ok", "usage": {"used": 3, "max": 1e3}, "skip": null}},
		{"name": "app:type=Cache", "attrs": {"hits": 9007199254740993}}
	]`)

	objects, err := ParseObjectsJSON(payload)
	if err != nil {
		t.Fatalf("ParseObjectsJSON() error: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("unexpected object count: %d", len(objects))
	}

	pool := objects[0]
	if pool.Name.String() != "app:type=Pool,name=db" {
		t.Fatalf("unexpected name: %s", pool.Name)
	}
	if got, ok := pool.Attrs["active"].(int64); !ok || got != 12 {
		t.Fatalf("expected int64 active, got %#v", pool.Attrs["active"])
	}
	if got, ok := pool.Attrs["ratio"].(float64); !ok || got != 0.5 {
		t.Fatalf("expected float64 ratio, got %#v", pool.Attrs["ratio"])
	}
	if pool.Attrs["state"] != "ok" {
		t.Fatalf("unexpected state: %#v", pool.Attrs["state"])
	}
	if _, ok := pool.Attrs["skip"]; ok {
		t.Fatalf("null attribute must be dropped")
	}
	usage, ok := pool.Attrs["usage"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested usage map, got %#v", pool.Attrs["usage"])
	}
	if usage["used"] != int64(3) || usage["max"] != float64(1000) {
		t.Fatalf("unexpected usage: %#v", usage)
	}

	if got := objects[1].Attrs["hits"]; got != int64(9007199254740993) {
		t.Fatalf("large integer lost precision: %#v", got)
	}
}

// TestParseObjectsJSONErrors verifies contract violations.
// Params: testing.T for assertions.
// Returns: none.
func TestParseObjectsJSONErrors(t *testing.T) {
	cases := []string{
		``,
		`{"name":`,
		`42`,
		`{"attrs": {}}`,
		`{"name": "bad", "attrs": {}}`,
		`{"name": "app:type=x", "attrs": []}`,
		`[{"name": "app:type=x", "attrs": {}}, 1]`,
	}
	for _, payload := range cases {
		if _, err := ParseObjectsJSON([]byte(payload)); err == nil {
			t.Fatalf("expected error for %q", payload)
		}
	}
}

// TestPrometheusParserLabels verifies series-to-object mapping.
// Params: testing.T for assertions.
// Returns: none.
func TestPrometheusParserLabels(t *testing.T) {
	payload := strings.Join([]string{
		`# HELP http_requests_total requests`,
		`# TYPE http_requests_total counter`,
		`http_requests_total{method="GET",path="/a,b"} 1027`,
		`http_requests_total{method="POST",name="x"} 3`,
		`# TYPE temperature gauge`,
		`temperature 21.5`,
		`# TYPE latency histogram`,
		`latency_bucket{le="+Inf"} 5`,
		`untyped_metric 7 1700000000000`,
		`broken_line`,
	}, "\n")

	objects, err := NewPrometheusParser("svc").Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(objects) != 4 {
		t.Fatalf("unexpected object count: got=%d want=4", len(objects))
	}

	first := objects[0]
	if first.Name.Domain != "svc" {
		t.Fatalf("unexpected domain: %q", first.Name.Domain)
	}
	if value, _ := first.Name.Key("path"); value != "/a,b" {
		t.Fatalf("unexpected path label: %q", value)
	}
	if first.Attrs["value"] != int64(1027) {
		t.Fatalf("unexpected counter value: %#v", first.Attrs["value"])
	}
	if value, _ := objects[1].Name.Key("label_name"); value != "x" {
		t.Fatalf("expected renamed name label, got %q", value)
	}
	if objects[2].Attrs["value"] != 21.5 {
		t.Fatalf("unexpected gauge value: %#v", objects[2].Attrs["value"])
	}
	if name, _ := objects[3].Name.Key("name"); name != "untyped_metric" {
		t.Fatalf("unexpected untyped metric: %q", name)
	}
}

// TestPrometheusParserNoSamples verifies an error on payloads without usable samples.
// Params: testing.T for assertions.
// Returns: none.
func TestPrometheusParserNoSamples(t *testing.T) {
	payload := "# TYPE latency histogram\nlatency_bucket{le=\"1\"} 3\n"
	if _, err := NewPrometheusParser("").Parse(payload); err == nil {
		t.Fatalf("expected no samples error")
	}
}
