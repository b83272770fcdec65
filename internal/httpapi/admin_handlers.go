package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleAdminDatabaseInfo(w http.ResponseWriter, r *http.Request) {
	nodeCount, err := s.store.CountNodes(r.Context())
	if err != nil {
		s.internalError(w, "admin database info", err)
		return
	}
	gatewayCount, err := s.store.CountGateways(r.Context())
	if err != nil {
		s.internalError(w, "admin database info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_count":    nodeCount,
		"gateway_count": gatewayCount,
	})
}

// handleAdminDatabaseExpire runs the retention sweep on demand. It
// goes through the same Store.Expire archive-then-delete path as the
// scheduler's periodic sweep, with the cutoff taken from the days
// query parameter (default 1) rather than the configured retention.
func (s *Server) handleAdminDatabaseExpire(w http.ResponseWriter, r *http.Request) {
	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			badRequest(w, "days must be a positive integer")
			return
		}
		days = n
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if err := s.store.Expire(r.Context(), cutoff, s.archive); err != nil {
		s.internalError(w, "admin database expire", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cutoff": cutoff})
}
