package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sp00nznet/pontoond/internal/worker"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// healthz is the admin surface's liveness probe.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// getTransferStatus reports whether transferID has a registered
// schedule entry and whether it is enabled, per §4.8's `exists`/
// `is_enabled` operations.
func (s *Server) getTransferStatus(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]

	exists, err := s.scheduler.Exists(transferID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "no schedule entry for transfer "+transferID)
		return
	}

	enabled, err := s.scheduler.IsEnabled(transferID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"transfer_id": transferID,
		"exists":      exists,
		"enabled":     enabled,
	})
}

// runTransfer enqueues an ad-hoc run of transferID's stored command,
// per §4.8's `run(expedited)`. An optional `wait_seconds` query
// parameter blocks the response until the run reaches a terminal
// state or the timeout elapses, mirroring §5's `wait(timeout)` polling
// ceiling (default 300s, capped here to bound request latency).
func (s *Server) runTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := mux.Vars(r)["id"]
	expedited := r.URL.Query().Get("expedited") == "true"

	h, err := s.scheduler.Run(r.Context(), transferID, expedited)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	waitSeconds := 0
	if v := r.URL.Query().Get("wait_seconds"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			waitSeconds = n
			if waitSeconds > 300 {
				waitSeconds = 300
			}
		}
	}

	resp := map[string]any{"transfer_id": transferID, "status": string(h.Status())}
	if waitSeconds > 0 {
		if waitErr := h.Wait(r.Context(), time.Duration(waitSeconds)*time.Second); waitErr != nil {
			resp["status"] = string(h.Status())
			resp["wait_error"] = waitErr.Error()
			respondJSON(w, http.StatusAccepted, resp)
			return
		}
		resp["status"] = string(h.Status())
		resp["output"] = h.Output()
		if h.Status() == worker.StatusFailure && h.Error() != nil {
			resp["error"] = h.Error().Error()
		}
	}

	respondJSON(w, http.StatusAccepted, resp)
}
