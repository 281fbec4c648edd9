package cli

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/KafClaw/wsagent/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// newAPIHandler exposes health and workspace lifecycle endpoints.
func newAPIHandler(orch *orchestrator.Orchestrator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h := orch.Health()
		status := http.StatusOK
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})

	mux.HandleFunc("GET /api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"version": version})
	})

	mux.HandleFunc("GET /api/v1/stores", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"stores":   orch.AllMeta(),
			"counters": orch.Counters(),
		})
	})

	mux.HandleFunc("POST /api/v1/stores/{id}/monitor", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "store id is required")
			return
		}
		if err := orch.EnsureMonitored(r.Context(), id); err != nil {
			slog.Warn("Ensure monitored failed", "store_id", id, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		m, _ := orch.Meta(id)
		writeJSON(w, http.StatusOK, m)
	})

	mux.HandleFunc("DELETE /api/v1/stores/{id}/monitor", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if err := orch.StopMonitoring(r.Context(), id); err != nil {
			slog.Warn("Stop monitoring failed", "store_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		m, ok := orch.Meta(id)
		if !ok {
			m = orchestrator.Meta{StoreID: id}
		}
		writeJSON(w, http.StatusOK, m)
	})

	return mux
}
