package perfmon

import (
	"errors"
	"sync"
	"testing"
)

func TestNewMetricTemplateValidation(t *testing.T) {
	cases := []TemplateSpec{
		{Name: "", Kind: KindRaw},
		{Name: "x"},
		{Name: "x", Kind: Kind(9)},
		{Name: "x", Kind: KindWindowedRate, Window: 1},
		{Name: "x", Kind: KindRate, RateUnit: -1},
		{Name: "x", Kind: KindRaw, Dynamic: []string{"name", "name"}},
		{Name: "x", Kind: KindRaw, Dynamic: []string{" "}},
	}
	for idx, spec := range cases {
		if _, err := NewMetricTemplate(spec); err == nil {
			t.Fatalf("case %d: expected validation error for %#v", idx, spec)
		}
	}

	template, err := NewMetricTemplate(TemplateSpec{Name: "ok", Kind: KindWindowedRate})
	if err != nil {
		t.Fatalf("NewMetricTemplate() error: %v", err)
	}
	spec := template.Spec()
	if spec.Multiplier != 1 || spec.RateUnit != DefaultRateUnit || spec.Window != DefaultWindow {
		t.Fatalf("unexpected defaults: %#v", spec)
	}
	if template.ID() != 0 {
		t.Fatalf("expected unassigned template id, got %d", template.ID())
	}
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"raw": KindRaw, "Delta": KindDelta, "rate": KindRate, "windowed_rate": KindWindowedRate} {
		got, err := ParseKind(name)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q)=%v,%v want %v", name, got, err, want)
		}
		if want.String() == "" {
			t.Fatalf("empty kind name")
		}
	}
	if _, err := ParseKind("histogram"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestTemplateKey(t *testing.T) {
	template, err := NewMetricTemplate(TemplateSpec{Name: "disk", Kind: KindRaw, Dynamic: []string{"type", "name"}})
	if err != nil {
		t.Fatalf("NewMetricTemplate() error: %v", err)
	}

	a := template.Key(map[string]string{"type": "Disk", "name": "sda"})
	b := template.Key(map[string]string{"name": "sda", "type": "Disk"})
	if a != b {
		t.Fatalf("key must follow template order, got %q and %q", a, b)
	}
	if a == template.Key(map[string]string{"type": "Disks", "name": "da"}) {
		t.Fatalf("keys of different values must differ")
	}
	if template.Key(map[string]string{"type": "x\x00y", "name": "z"}) == template.Key(map[string]string{"type": "x", "name": "y\x00z"}) {
		t.Fatalf("values containing separators must not collide")
	}
	if template.Key(map[string]string{"type": "1:a", "name": ""}) == template.Key(map[string]string{"type": "", "name": "1:a"}) {
		t.Fatalf("length prefixes must keep value boundaries")
	}

	static, _ := NewMetricTemplate(TemplateSpec{Name: "static", Kind: KindRaw})
	if static.Key(map[string]string{"name": "sda"}) != "" {
		t.Fatalf("template without dynamic attributes must derive empty key")
	}
}

func TestResolveOrCreateSingleInstance(t *testing.T) {
	template, err := NewMetricTemplate(TemplateSpec{Name: "shared", Kind: KindDelta})
	if err != nil {
		t.Fatalf("NewMetricTemplate() error: %v", err)
	}

	const workers = 32
	got := make([]*Metric, workers)
	var creates sync.Map
	var wg sync.WaitGroup
	for idx := 0; idx < workers; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			metric, created := template.ResolveOrCreate("k", func() *Metric {
				return newMetric(template, "k", nil, nil)
			})
			if created {
				creates.Store(idx, true)
			}
			got[idx] = metric
		}(idx)
	}
	wg.Wait()

	count := 0
	creates.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count != 1 {
		t.Fatalf("expected exactly one creation, got %d", count)
	}
	for idx := 1; idx < workers; idx++ {
		if got[idx] != got[0] {
			t.Fatalf("worker %d received a different metric instance", idx)
		}
	}
	if template.Len() != 1 {
		t.Fatalf("unexpected cached metric count: %d", template.Len())
	}
}

func TestRenderTitle(t *testing.T) {
	spec := TemplateSpec{Name: "disk_reads", Title: "Disk ${name} reads/s"}
	if got := renderTitle(spec, map[string]string{"name": "sda"}); got != "Disk sda reads/s" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := renderTitle(TemplateSpec{Name: "plain"}, nil); got != "plain" {
		t.Fatalf("unexpected default title: %q", got)
	}
}
