package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestLiveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	rec := httptest.NewRecorder()

	checker.Liveness(rec, httptest.NewRequest("GET", "/health/live", nil))

	if rec.Code != 200 {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestCheckNoDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	status := checker.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Errorf("Expected healthy with no dependencies, got %s", status.Status)
	}
	if len(status.Dependencies) != 0 {
		t.Errorf("Expected no dependency entries, got %v", status.Dependencies)
	}
}

func TestCheckDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	checker := NewHealthChecker(db, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", status.Status)
	}
	if status.Dependencies["database"].Status != StatusHealthy {
		t.Errorf("Expected healthy database, got %+v", status.Dependencies["database"])
	}
}

func TestCheckDatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	checker := NewHealthChecker(db, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy when database ping fails, got %s", status.Status)
	}
}

func TestCheckRedisDegradedOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(nil, client)
	if status := checker.Check(context.Background()); status.Status != StatusHealthy {
		t.Errorf("Expected healthy with redis up, got %s", status.Status)
	}

	// Redis is an optional tier: losing it degrades, never fails, readiness.
	mr.Close()
	status := checker.Check(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("Expected degraded with redis down, got %s", status.Status)
	}
}

func TestReadinessStatusCode(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	checker := NewHealthChecker(db, nil)
	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))

	if rec.Code != 503 {
		t.Errorf("Expected status 503 for unhealthy, got %d", rec.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if body.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy body, got %s", body.Status)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != 200 {
			t.Errorf("Expected status 200 from %s, got %d", path, rec.Code)
		}
	}
}
