package health

import (
	"encoding/json"
	"net/http"
)

// Mount registers /health/live, /health/ready and /health on mux.
func (h *Health) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.LivenessHandler())
	mux.HandleFunc("/health/ready", h.ReadinessHandler())
	mux.HandleFunc("/health", h.HealthHandler())
}

// LivenessHandler returns an HTTP handler that responds to liveness probes.
// This handler always returns 200 OK with no dependency checks.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns an HTTP handler that responds to readiness probes.
// Returns 200 OK while every required component passes (the result may still be
// degraded), 503 Service Unavailable otherwise.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())
		writeJSON(w, statusCode(result), result)
	}
}

// HealthHandler returns both liveness and readiness status in one response.
func (h *Health) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())
		writeJSON(w, statusCode(result), map[string]interface{}{
			"liveness":  "alive",
			"readiness": result,
		})
	}
}

func statusCode(result *HealthResult) int {
	if result.Ready() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Encode response (ignore error - if encoding fails, empty response is sent)
	_ = json.NewEncoder(w).Encode(v)
}
