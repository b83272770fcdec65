package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 365 {
			badRequest(w, "days must be in [1, 365]")
			return
		}
		days = n
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	logs, err := s.store.CommandLogsSince(r.Context(), since)
	if err != nil {
		s.internalError(w, "bot stats", err)
		return
	}

	var rateLimited, responded int
	for _, l := range logs {
		if l.RateLimited {
			rateLimited++
		}
		if l.ResponseSent {
			responded++
		}
	}
	var connected bool
	if s.bot != nil {
		connected = s.bot.Connected()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":          days,
		"command_count": len(logs),
		"rate_limited":  rateLimited,
		"responded":     responded,
		"connected":     connected,
	})
}

func (s *Server) handleBotCommandsRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		badRequest(w, "limit must be in [1, 500]")
		return
	}
	logs, err := s.store.RecentCommandLogs(r.Context(), limit)
	if err != nil {
		s.internalError(w, "bot commands recent", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBotCommandsUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		badRequest(w, "id must be a non-negative integer")
		return
	}
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		badRequest(w, "limit must be in [1, 500]")
		return
	}
	logs, err := s.store.CommandLogsForUser(r.Context(), uint32(id), limit)
	if err != nil {
		s.internalError(w, "bot commands user", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
