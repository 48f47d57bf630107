package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounterRegistrationIsIdempotent(t *testing.T) {
	reg := New()
	a := reg.Counter("requests_total", "total requests")
	b := reg.Counter("requests_total", "ignored on second call")
	if a != b {
		t.Fatal("same name returned distinct counters")
	}
	a.Inc()
	b.Add(2)
	if got := a.Value(); got != 3 {
		t.Fatalf("counter value = %d, want 3", got)
	}
}

func TestGaugeFloatRoundTrip(t *testing.T) {
	reg := New()
	g := reg.Gauge("load", "")
	g.SetFloat(0.375)
	if got := g.FloatValue(); got != 0.375 {
		t.Fatalf("float gauge = %v", got)
	}
	g.Set(5)
	g.Dec()
	if got := g.Value(); got != 4 {
		t.Fatalf("int gauge = %d", got)
	}
}

func TestHistogramBucketsAreCumulativeInOutput(t *testing.T) {
	reg := New()
	h := reg.Histogram("latency_seconds", "request latency", []float64{0.1, 0.5, 1})
	for _, v := range []float64{0.05, 0.05, 0.3, 0.9, 7} {
		h.Observe(v)
	}
	out := reg.Render()
	for _, line := range []string{
		`latency_seconds_bucket{le="0.1"} 2`,
		`latency_seconds_bucket{le="0.5"} 3`,
		`latency_seconds_bucket{le="1"} 4`,
		`latency_seconds_bucket{le="+Inf"} 5`,
		`latency_seconds_count 5`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("render missing %q\n%s", line, out)
		}
	}
}

func TestHistogramSince(t *testing.T) {
	reg := New()
	h := reg.Histogram("op_seconds", "", nil)
	h.Since(time.Now().Add(-10 * time.Millisecond))
	_, _, sum, total := h.snapshot()
	if total != 1 || sum <= 0 {
		t.Fatalf("snapshot = sum %v total %d", sum, total)
	}
}

func TestWithLabels(t *testing.T) {
	got := WithLabels("hits", "route", "/api/nodes", "method", "GET")
	want := `hits{route="/api/nodes",method="GET"}`
	if got != want {
		t.Fatalf("WithLabels = %q, want %q", got, want)
	}
	if got := WithLabels("hits", "dangling"); got != "hits" {
		t.Fatalf("odd pairs should leave name untouched, got %q", got)
	}
}

func TestLabeledSeriesShareOneFamilyHeader(t *testing.T) {
	reg := New()
	reg.Counter(WithLabels("hits", "route", "/a"), "per-route hits").Inc()
	reg.Counter(WithLabels("hits", "route", "/b"), "").Add(2)

	out := reg.Render()
	if strings.Count(out, "# TYPE hits counter") != 1 {
		t.Fatalf("expected single TYPE line:\n%s", out)
	}
	if !strings.Contains(out, `hits{route="/a"} 1`) || !strings.Contains(out, `hits{route="/b"} 2`) {
		t.Fatalf("labeled series missing:\n%s", out)
	}
}

func TestRenderPreservesRegistrationOrder(t *testing.T) {
	reg := New()
	reg.Counter("zebra_total", "").Inc()
	reg.Counter("alpha_total", "").Inc()
	out := reg.Render()
	if strings.Index(out, "zebra_total") > strings.Index(out, "alpha_total") {
		t.Fatalf("families reordered:\n%s", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	reg := New()
	reg.Counter("up", "1 when serving").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "up 1") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestConcurrentUse(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Counter("races_total", "").Inc()
				reg.Histogram("race_seconds", "", nil).Observe(0.01)
			}
		}()
	}
	wg.Wait()
	if got := reg.Counter("races_total", "").Value(); got != 800 {
		t.Fatalf("counter = %d, want 800", got)
	}
}
