package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/queue/memqueue"
)

func healthy(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler()
	handler.RegisterChecker("store", NewCheckFunc("store", healthy))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Build.Version == "" {
		t.Error("build version should be reported")
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler()
	handler.RegisterChecker("store", NewCheckFunc("store", func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Checks["store"].Message != "connection refused" {
		t.Errorf("unexpected check: %+v", response.Checks["store"])
	}
}

func TestCheckTimeoutIsApplied(t *testing.T) {
	handler := NewHandler()
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewCheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	response := handler.Run(context.Background())
	if response.Status != StatusUnhealthy {
		t.Fatalf("slow check must fail by timeout, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response: %d %q", w.Code, w.Body.String())
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	check := NewPingChecker("postgres", pingerFunc(healthy)).Check(context.Background())
	if check.Status != StatusHealthy || check.Name != "postgres" {
		t.Fatalf("unexpected check: %+v", check)
	}
}

func TestDeadLetterChecker(t *testing.T) {
	ctx := context.Background()
	queue := memqueue.New()
	checker := NewDeadLetterChecker(queue)

	if check := checker.Check(ctx); check.Status != StatusHealthy {
		t.Fatalf("empty DLQ must be healthy, got %+v", check)
	}

	job, err := queue.Enqueue(ctx, domain.JobRenderPrint, map[string]string{"orderId": "o1"}, domain.WithMaxRetries(1))
	if err != nil {
		t.Fatal(err)
	}
	polled, ok, err := queue.Poll(ctx)
	if err != nil || !ok || polled.ID != job.ID {
		t.Fatalf("poll: ok=%v err=%v", ok, err)
	}
	if err := queue.Nack(ctx, polled, errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	check := checker.Check(ctx)
	if check.Status != StatusDegraded {
		t.Fatalf("non-empty DLQ must be degraded, got %+v", check)
	}

	handler := NewHandler()
	handler.RegisterChecker("dead_letters", checker)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("degraded must still answer 200, got %d", w.Code)
	}
}
