// AngelaMos | 2026
// handler.go

package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

// checkTimeout bounds each dependency ping. A refresh request touches the
// token store and the user table, so readiness needs both to answer well
// inside a client's request deadline.
const checkTimeout = 2 * time.Second

const (
	statusOK           = "ok"
	statusDegraded     = "degraded"
	statusNotReady     = "not_ready"
	statusShuttingDown = "shutting_down"
)

type phase int32

const (
	phaseStarting phase = iota
	phaseServing
	phaseDraining
)

type Checker interface {
	Ping(ctx context.Context) error
}

// Check names one dependency pinged by /readyz.
type Check struct {
	Name    string
	Checker Checker
}

// Handler reports liveness and readiness. Draining is terminal: once the
// server starts shutting down, SetReady cannot bring it back.
type Handler struct {
	checks []Check
	phase  atomic.Int32
}

func NewHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Liveness)
	r.Get("/livez", h.Liveness)
	r.Get("/readyz", h.Readiness)
}

func (h *Handler) SetReady(ready bool) {
	if ready {
		h.phase.CompareAndSwap(int32(phaseStarting), int32(phaseServing))
		return
	}
	h.phase.CompareAndSwap(int32(phaseServing), int32(phaseStarting))
}

func (h *Handler) SetShutdown(shutdown bool) {
	if shutdown {
		h.phase.Store(int32(phaseDraining))
	}
}

func (h *Handler) current() phase {
	return phase(h.phase.Load())
}

func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	if h.current() == phaseDraining {
		write(w, http.StatusServiceUnavailable, StatusResponse{Status: statusShuttingDown})
		return
	}
	write(w, http.StatusOK, StatusResponse{Status: statusOK})
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	switch h.current() {
	case phaseDraining:
		write(w, http.StatusServiceUnavailable, StatusResponse{Status: statusShuttingDown})
		return
	case phaseStarting:
		write(w, http.StatusServiceUnavailable, StatusResponse{Status: statusNotReady})
		return
	}

	resp := h.evaluate(r.Context())

	code := http.StatusOK
	if resp.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	write(w, code, resp)
}

func (h *Handler) evaluate(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Status: statusOK,
		Checks: make([]HealthCheck, len(h.checks)),
	}

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp.Checks[i] = ping(ctx, c)
		}()
	}
	wg.Wait()

	for _, c := range resp.Checks {
		if !c.Healthy {
			resp.Status = statusDegraded
			break
		}
	}
	return resp
}

// ping never exposes the driver error; it can carry hostnames and DSNs.
func ping(ctx context.Context, c Check) HealthCheck {
	result := HealthCheck{Name: c.Name}
	if c.Checker == nil {
		result.Message = "not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Checker.Ping(ctx)
	result.Latency = time.Since(start).Round(time.Microsecond).String()

	switch {
	case err == nil:
		result.Healthy = true
	case errors.Is(err, context.DeadlineExceeded):
		result.Message = "timed out"
	default:
		result.Message = "ping failed"
	}
	return result
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Cache-Control", "no-store")
	core.JSON(w, status, body)
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReadinessResponse struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}
