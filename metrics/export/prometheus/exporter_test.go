package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	keyrail "github.com/keyrail/keyrail"
)

type fakeSource struct {
	snapshot keyrail.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() keyrail.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: keyrail.MetricsSnapshot{
			Counters: map[keyrail.MetricID]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounters(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: keyrail.MetricsSnapshot{
			Counters: map[keyrail.MetricID]uint64{
				keyrail.MetricLoginSuccess:   7,
				keyrail.MetricRefreshSuccess: 3,
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "keyrail_login_success_total 7") {
		t.Fatalf("expected login success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "keyrail_refresh_success_total 3") {
		t.Fatalf("expected refresh success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE keyrail_login_success_total counter") {
		t.Fatalf("expected TYPE line in output, got:\n%s", out)
	}
	if !strings.Contains(out, "keyrail_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: keyrail.MetricsSnapshot{
			Counters: map[keyrail.MetricID]uint64{keyrail.MetricLoginSuccess: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
