package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersCounters(t *testing.T) {
	CountTwoFARequested()
	CountConfirmation()
	ObserveTick(120 * time.Millisecond)
	ObserveHTTPRequest("interaction", http.MethodGet, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE safeagent_two_fa_requested_total counter",
		"safeagent_confirmations_total",
		"safeagent_ticks_total",
		`safeagent_http_requests_total{handler="interaction",method="GET",code="200"}`,
		"safeagent_tick_duration_seconds_bucket{le=\"+Inf\"}",
		"safeagent_tick_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("rendered metrics missing %q:\n%s", want, body)
		}
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram()
	h.observe(0.04) // first bucket
	h.observe(0.3)  // 0.5 bucket
	h.observe(42)   // only +Inf

	if h.count != 3 {
		t.Fatalf("count = %d", h.count)
	}
	// 0.04 lands in every bucket, 0.3 from the 0.5 bucket upward.
	if h.counts[0] != 1 {
		t.Fatalf("le=0.05 bucket = %d, want 1", h.counts[0])
	}
	last := h.counts[len(h.counts)-1]
	if last != 2 {
		t.Fatalf("le=10 bucket = %d, want 2", last)
	}
}
