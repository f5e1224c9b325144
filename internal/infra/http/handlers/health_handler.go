package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Dependency is anything /readyz should check.
type Dependency interface {
	Name() string
	Check(ctx context.Context) error
}

type HealthHandler struct {
	Deps      []Dependency
	Version   string
	StartTime time.Time
}

type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{
		Deps:      deps,
		Version:   version,
		StartTime: time.Now(),
	}
}

// Live answers as long as the process serves requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  time.Since(h.StartTime).Round(time.Second).String(),
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.Deps))
	status := "healthy"
	for _, d := range h.Deps {
		if err := d.Check(ctx); err != nil {
			deps[d.Name()] = fmt.Sprintf("unhealthy: %v", err)
			status = "degraded"
			continue
		}
		deps[d.Name()] = "healthy"
	}

	code := http.StatusOK
	if status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:       status,
		Version:      h.Version,
		Uptime:       time.Since(h.StartTime).Round(time.Second).String(),
		Dependencies: deps,
	})
}

// CheckFunc adapts a function to Dependency.
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Label }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
