package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterReuse(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("expected shared counter value 3, got %d", a.Value())
	}
}

func TestCollector_RenderLabelsAndHelpOnce(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("uploads_total", "uploads", `result="ok"`).Inc()
	c.Counter("uploads_total", "uploads", `result="failed"`).Add(2)
	c.Gauge("state", "state", "").Set(2)

	out := c.Render()
	if strings.Count(out, "# HELP uploads_total") != 1 {
		t.Errorf("HELP should be written once:\n%s", out)
	}
	for _, want := range []string{
		`uploads_total{result="failed"} 2`,
		`uploads_total{result="ok"} 1`,
		"state 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, `result="failed"`) > strings.Index(out, `result="ok"`) {
		t.Error("series should be sorted by key")
	}
}

func TestCollector_Histogram(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "lat", "", []float64{1, 0.5})
	h.Observe(0.3)
	h.Observe(0.7)
	h.Observe(4)

	out := c.Render()
	for _, want := range []string{
		`lat_seconds_bucket{le="0.5"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		"lat_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("frames_total", "frames", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "frames_total 1") {
		t.Errorf("unexpected body:\n%s", rec.Body.String())
	}
}
