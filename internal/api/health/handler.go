// Package health serves the liveness, readiness and component status
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazetrack/internal/clock"
)

// Checker gates readiness on a dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ReportFunc returns a component's current counters. A non-nil error marks
// the component degraded without failing readiness.
type ReportFunc func() (any, error)

// Options configures a Handler.
type Options struct {
	Clock clock.Clock
	// CheckTimeout bounds each readiness check. Defaults to 5s.
	CheckTimeout time.Duration
}

// Handler serves /health, /health/live and /health/ready.
type Handler struct {
	clock   clock.Clock
	timeout time.Duration
	started time.Time

	mu         sync.RWMutex
	version    string
	checkers   []Checker
	components map[string]ReportFunc
}

// NewHandler creates a handler whose uptime starts now.
func NewHandler(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	return &Handler{
		clock:      opts.Clock,
		timeout:    opts.CheckTimeout,
		started:    opts.Clock.Now(),
		components: make(map[string]ReportFunc),
	}
}

// SetVersion sets the version reported by Health.
func (h *Handler) SetVersion(v string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = v
}

// RegisterChecker adds a readiness check.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// RegisterComponent adds a component to the /health report, replacing
// any earlier one with the same name.
func (h *Handler) RegisterComponent(name string, fn ReportFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = fn
}

// ComponentStatus is one component's entry in the health report.
type ComponentStatus struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

// CheckResult is one readiness check outcome.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Checks     map[string]CheckResult     `json:"checks,omitempty"`
}

// Health reports process status and every registered component. It always
// answers 200; "degraded" means some component reported a problem.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	version := h.version
	fns := make(map[string]ReportFunc, len(h.components))
	for name, fn := range h.components {
		fns[name] = fn
	}
	h.mu.RUnlock()

	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  h.clock.Now().Sub(h.started).Round(time.Second).String(),
	}
	if len(names) > 0 {
		resp.Components = make(map[string]ComponentStatus, len(names))
	}
	for _, name := range names {
		details, err := fns[name]()
		st := ComponentStatus{Status: "ok", Details: details}
		if err != nil {
			st.Status = "degraded"
			st.Reason = err.Error()
			resp.Status = "degraded"
		}
		resp.Components[name] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// Live answers 200 while the process serves requests.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every readiness check concurrently, each under its own
// timeout, and answers 503 when any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checkers))
		g       errgroup.Group
	)
	for _, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			began := h.clock.Now()
			err := c.Check(ctx)
			res := CheckResult{Status: "ok", Latency: h.clock.Now().Sub(began).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	resp := HealthResponse{Status: "ready", Checks: results}
	code := http.StatusOK
	for _, res := range results {
		if res.Status != "ok" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
