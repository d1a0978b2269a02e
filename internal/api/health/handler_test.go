package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewPingChecker("sqlite", stubPinger{}),
				NewFuncChecker("notifier", func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
			wantChecks: map[string]string{"sqlite": "ok", "notifier": "ok"},
		},
		{
			name: "one failing",
			checkers: []Checker{
				NewPingChecker("sqlite", stubPinger{}),
				NewPingChecker("clickhouse", stubPinger{err: errors.New("connection refused")}),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
			wantChecks: map[string]string{"sqlite": "ok", "clickhouse": "connection refused"},
		},
		{
			name:       "unconfigured pinger",
			checkers:   []Checker{NewPingChecker("clickhouse", nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
			wantChecks: map[string]string{"clickhouse": "clickhouse not configured"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(Options{})
			for _, c := range tc.checkers {
				h.RegisterChecker(c)
			}

			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tc.wantBody {
				t.Errorf("status = %q, want %q", resp.Status, tc.wantBody)
			}
			for name, want := range tc.wantChecks {
				got := resp.Checks[name]
				if want == "ok" {
					if got.Status != "ok" || got.Error != "" {
						t.Errorf("check %s = %+v, want ok", name, got)
					}
					continue
				}
				if got.Status != "fail" || got.Error != want {
					t.Errorf("check %s = %+v, want fail %q", name, got, want)
				}
			}
		})
	}
}

// blockingChecker waits for its context to end.
type blockingChecker struct{}

func (blockingChecker) Name() string { return "slow" }

func (blockingChecker) Check(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReady_ChecksRunConcurrentlyWithTimeout(t *testing.T) {
	h := NewHandler(Options{CheckTimeout: 50 * time.Millisecond})
	h.RegisterChecker(blockingChecker{})
	h.RegisterChecker(NewFuncChecker("fast", func(context.Context) error { return nil }))

	began := time.Now()
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Fatalf("Ready took %v", elapsed)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["slow"].Error != context.DeadlineExceeded.Error() || resp.Checks["fast"].Status != "ok" {
		t.Errorf("checks = %+v", resp.Checks)
	}
}

func TestHealth_Components(t *testing.T) {
	fc := clock.NewFake(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	h := NewHandler(Options{Clock: fc})
	h.SetVersion("1.2.3")
	h.RegisterComponent("tracker", func() (any, error) {
		return map[string]int{"groups": 4}, nil
	})

	decode := func() HealthResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	fc.Advance(90 * time.Second)
	resp := decode()
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Uptime != "1m30s" {
		t.Errorf("response = %+v", resp)
	}
	tr := resp.Components["tracker"]
	if tr.Status != "ok" || tr.Details.(map[string]any)["groups"] != float64(4) {
		t.Errorf("tracker component = %+v", tr)
	}

	h.RegisterComponent("eventbus", func() (any, error) {
		return nil, errors.New("notifier queue full")
	})
	resp = decode()
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if bus := resp.Components["eventbus"]; bus.Status != "degraded" || bus.Reason != "notifier queue full" {
		t.Errorf("eventbus component = %+v", bus)
	}
}

func TestHealthAndLive(t *testing.T) {
	h := NewHandler(Options{})
	for path, fn := range map[string]http.HandlerFunc{"/health": h.Health, "/health/live": h.Live} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
