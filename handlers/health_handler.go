package handlers

import (
	"context"
	"net/http"
	"time"

	"go-tracker/middleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]HealthCheck
	clients func() int
}

func NewHealthHandler(clients func() int) *HealthHandler {
	return &HealthHandler{checks: make(map[string]HealthCheck), clients: clients}
}

// Add registers a named dependency check.
func (h *HealthHandler) Add(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"success": true}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			body[name] = "down"
			body["success"] = false
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "up"
	}
	if h.clients != nil {
		body["clients"] = h.clients()
	}
	middleware.WriteJSON(w, status, body)
}
