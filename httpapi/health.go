package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ops-platform/automation-core/store"
)

// healthHandlers serves the liveness/readiness pair ops tooling expects of
// any long-running service, grounded on the teacher's module/health.go
// HealthChecker — trimmed to this domain's single dependency (the store)
// since there's no analogue here to the teacher's auto-discovered
// HealthCheckable service registry.
type healthHandlers struct {
	store store.Store
}

func newHealthHandlers(st store.Store) *healthHandlers {
	return &healthHandlers{store: st}
}

// Live always reports 200: the process is up and serving requests.
func (h *healthHandlers) Live(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, "alive")
}

// Ready reports 503 if the store can't answer a trivial read within 2s.
func (h *healthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.ListLowStock(ctx, 1); err != nil {
		writeHealth(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeHealth(w, http.StatusOK, "ready")
}

func writeHealth(w http.ResponseWriter, status int, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": state})
}
