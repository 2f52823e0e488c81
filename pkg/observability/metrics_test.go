package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	if m == nil {
		t.Fatal("Expected non-nil metrics")
	}

	m.RecordDenial("student", "update")
	m.RecordDenial("student", "update")
	m.RecordRestoration("campaign")
	m.RecordConsentRejection("lead")
	m.RecordAuditWriteFailure()
	m.RecordCacheHit("local")
	m.RecordCacheMiss()
	m.RecordAuditTrimmed(5)

	if got := testutil.ToFloat64(m.DenialsTotal.WithLabelValues("student", "update")); got != 2 {
		t.Errorf("Expected 2 denials, got %v", got)
	}
	if got := testutil.ToFloat64(m.RestorationsTotal.WithLabelValues("campaign")); got != 1 {
		t.Errorf("Expected 1 restoration, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditWriteFailures); got != 1 {
		t.Errorf("Expected 1 audit write failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditEntriesTrimmed); got != 5 {
		t.Errorf("Expected 5 trimmed entries, got %v", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	// None of these may panic when metrics are disabled.
	m.RecordHTTPRequest("GET", "/students", 200, time.Millisecond)
	m.RecordDenial("student", "read")
	m.RecordRestoration("student")
	m.RecordConsentRejection("lead")
	m.RecordAuditAppend()
	m.RecordAuditWriteFailure()
	m.RecordAuditTrimmed(1)
	m.RecordCacheHit("redis")
	m.RecordCacheMiss()
	m.CollectDBStats(4, 2)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordHTTPRequest("GET", "/courses", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fieldgate_http_requests_total") {
		t.Error("Expected fieldgate_http_requests_total in metrics output")
	}
}

func TestCollectDBStats(t *testing.T) {
	m := NewMetrics(nil)
	m.CollectDBStats(10, 3)

	if got := testutil.ToFloat64(m.DBConnectionsActive); got != 7 {
		t.Errorf("Expected 7 active connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.DBConnectionsIdle); got != 3 {
		t.Errorf("Expected 3 idle connections, got %v", got)
	}
}
