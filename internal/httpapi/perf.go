package httpapi

import "net/http"

// handleLatency serves the rolling per-stage latency window.
func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}
