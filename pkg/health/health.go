package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State is one of the coordinator's lifecycle states (spec §4.6).
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
)

// Result is the outcome of one component's status check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// Checker is implemented by anything the registry can poll: the
// coordinator's lifecycle state, the store's open/closed status, or
// anything else worth surfacing on the ops status surface.
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a plain function to a Checker.
type CheckerFunc func(ctx context.Context) Result

func (f CheckerFunc) Check(ctx context.Context) Result { return f(ctx) }

// StateFunc reports the current value of some lifecycle state. Running
// is the only healthy state; Uninitialized and ShuttingDown are reported
// unhealthy-but-expected, Shutdown is terminal.
type StateFunc func() State

// NewLifecycleChecker builds a Checker that considers the service
// healthy only while it is Running.
func NewLifecycleChecker(get StateFunc) Checker {
	return CheckerFunc(func(_ context.Context) Result {
		state := get()
		return Result{
			Healthy:   state == StateRunning,
			Message:   string(state),
			CheckedAt: time.Now(),
		}
	})
}

// NewOpenChecker builds a Checker from a func reporting whether a
// resource (typically the store's underlying database) is open.
func NewOpenChecker(isOpen func() bool) Checker {
	return CheckerFunc(func(_ context.Context) Result {
		open := isOpen()
		msg := "open"
		if !open {
			msg = "closed"
		}
		return Result{Healthy: open, Message: msg, CheckedAt: time.Now()}
	})
}

// Registry tracks named component checkers and renders their combined
// status. It replaces per-container HTTP/TCP/exec health probing with a
// single process-level status surface for the coordinator and store.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for name.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// Snapshot runs every registered checker and returns its latest result.
func (r *Registry) Snapshot(ctx context.Context) map[string]Result {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	for name, c := range checkers {
		results[name] = c.Check(ctx)
	}
	return results
}

// Healthy reports whether every registered checker is currently healthy.
func (r *Registry) Healthy(ctx context.Context) bool {
	for _, result := range r.Snapshot(ctx) {
		if !result.Healthy {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]Result `json:"components"`
}

// Handler serves a JSON snapshot of every registered component. This is
// the ambient ops surface, not the RPC transport the data service leaves
// to its caller — it exists purely so an operator or orchestrator can
// poll process health without a full client.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		snapshot := r.Snapshot(req.Context())
		resp := statusResponse{Healthy: true, Components: snapshot}
		for _, result := range snapshot {
			if !result.Healthy {
				resp.Healthy = false
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
