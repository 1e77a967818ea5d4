// Package health provides HTTP liveness and readiness handlers for the
// conversation loop.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 503 when a required [Checker] fails.
//     Failures of optional checkers (speech output, for instance) report
//     "degraded" with 200 because the loop still answers in text.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map with the result of each checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/resilience"
	"github.com/MrWong99/pivoice/internal/synthesis"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name is the key in the JSON "checks" map (e.g. "recognition").
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional marks a dependency the loop can run without.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers sequentially on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz evaluates every checker with a [checkTimeout] deadline derived from
// the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// evaluate runs the checkers and folds their results into one status.
func (h *Handler) evaluate(ctx context.Context) result {
	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err == nil {
			res.Checks[c.Name] = "ok"
			continue
		}
		res.Checks[c.Name] = "fail: " + err.Error()
		switch {
		case !c.Optional:
			res.Status = StatusFail
		case res.Status == StatusOK:
			res.Status = StatusDegraded
		}
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// ── checkers ─────────────────────────────────────────────────────────────────

// ErrNoModel is reported by [Recognition] while no model is resident.
var ErrNoModel = errors.New("no recognition model loaded")

// ModelReporter is the part of a recognition session the checker needs.
type ModelReporter interface {
	Loaded() bool
}

// Recognition is a required checker that passes once a model is resident.
func Recognition(s ModelReporter) Checker {
	return Checker{
		Name: "recognition",
		Check: func(context.Context) error {
			if !s.Loaded() {
				return ErrNoModel
			}
			return nil
		},
	}
}

// MemorySampler is the part of the memory governor the checker needs.
type MemorySampler interface {
	Sample() memgov.Snapshot
}

// Memory is a required checker that fails when the available memory is
// below what the smallest recognition tier needs. An unknown snapshot
// passes.
func Memory(g MemorySampler) Checker {
	return Checker{
		Name: "memory",
		Check: func(context.Context) error {
			s := g.Sample()
			if !s.Known() {
				return nil
			}
			if _, err := memgov.RecommendTier(s); err != nil {
				return fmt.Errorf("%d MB available: %w", s.AvailableMB, err)
			}
			return nil
		},
	}
}

// SynthesisStater is the part of the synthesis router the checker needs.
type SynthesisStater interface {
	State() synthesis.State
}

// Synthesis is an optional checker that fails when no speech engine could
// be selected. It passes while the router is still unprobed.
func Synthesis(r SynthesisStater) Checker {
	return Checker{
		Name:     "synthesis",
		Optional: true,
		Check: func(context.Context) error {
			if st := r.State(); st == synthesis.StateUnavailable {
				return fmt.Errorf("no speech engine (%s)", st)
			}
			return nil
		},
	}
}

// BreakerReporter is the part of the dialogue client the checker needs.
type BreakerReporter interface {
	BreakerState() resilience.State
}

// Dialogue is an optional checker that fails while the completion
// service's circuit breaker is open. Turns still run; they answer with the
// fallback reply until the breaker lets a probe through.
func Dialogue(c BreakerReporter) Checker {
	return Checker{
		Name:     "dialogue",
		Optional: true,
		Check: func(context.Context) error {
			if st := c.BreakerState(); st == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s", st)
			}
			return nil
		},
	}
}
