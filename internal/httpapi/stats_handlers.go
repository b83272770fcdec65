package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleStatsLast(w http.ResponseWriter, r *http.Request) {
	packets, err := s.store.LastPackets(r.Context(), 1)
	if err != nil {
		s.internalError(w, "stats last", err)
		return
	}
	if len(packets) == 0 {
		notFound(w, "no packets recorded")
		return
	}
	writeJSON(w, http.StatusOK, packets[0])
}

func (s *Server) handleStatsLastN(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n < 1 || n > 100 {
		badRequest(w, "n must be in [1, 100]")
		return
	}
	packets, err := s.store.LastPackets(r.Context(), n)
	if err != nil {
		s.internalError(w, "stats last n", err)
		return
	}
	writeJSON(w, http.StatusOK, packets)
}

func (s *Server) handleStatsToday(detailed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := s.stats.DayStat(r.Context(), time.Now().UTC())
		if err != nil {
			s.internalError(w, "stats today", err)
			return
		}
		if !detailed {
			writeJSON(w, http.StatusOK, day)
			return
		}
		hourly, err := s.stats.HourlyStat(r.Context(), time.Now().UTC())
		if err != nil {
			s.internalError(w, "stats today detailed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"day": day, "hourly": hourly})
	}
}

func (s *Server) handleStatsDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", mux.Vars(r)["date"])
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	day, err := s.stats.DayStat(r.Context(), date)
	if err != nil {
		s.internalError(w, "stats date", err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleStatsComparisons(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.stats.Comparisons(r.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(w, "stats comparisons", err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleStatsRolling(w http.ResponseWriter, r *http.Request) {
	roll, err := s.stats.RollingWindows(r.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(w, "stats rolling", err)
		return
	}
	writeJSON(w, http.StatusOK, roll)
}

func (s *Server) handleStatsUserLast(w http.ResponseWriter, r *http.Request) {
	s.statsUserLastN(w, r, 1)
}

func (s *Server) handleStatsUserLastN(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n < 1 || n > 100 {
		badRequest(w, "n must be in [1, 100]")
		return
	}
	s.statsUserLastN(w, r, n)
}

func (s *Server) statsUserLastN(w http.ResponseWriter, r *http.Request, n int) {
	nodeID, err := parseNodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	packets, err := s.store.PacketsBySender(r.Context(), nodeID, n)
	if err != nil {
		s.internalError(w, "stats user last", err)
		return
	}
	writeJSON(w, http.StatusOK, packets)
}

func (s *Server) handleUserMessages(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseNodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		badRequest(w, "limit must be in [1, 500]")
		return
	}
	packets, err := s.store.PacketsBySender(r.Context(), nodeID, limit)
	if err != nil {
		s.internalError(w, "user messages", err)
		return
	}
	writeJSON(w, http.StatusOK, packets)
}

func (s *Server) handleUserGateways(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseNodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		badRequest(w, "limit must be in [1, 500]")
		return
	}
	packets, err := s.store.PacketsBySender(r.Context(), nodeID, limit)
	if err != nil {
		s.internalError(w, "user gateways", err)
		return
	}
	out := make([]map[string]any, 0, len(packets))
	for _, p := range packets {
		gws, err := s.store.GatewaysForPacket(r.Context(), p.ID)
		if err != nil {
			s.internalError(w, "user gateways lookup", err)
			return
		}
		out = append(out, map[string]any{"packet_id": p.PacketID, "gateways": gws})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUserGatewayPercentiles validates node_id but computes the
// percentiles over the network-wide trailing gateway_count sample; the
// sample is not filtered to that node's packets.
func (s *Server) handleUserGatewayPercentiles(w http.ResponseWriter, r *http.Request) {
	if _, err := parseNodeID(r); err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := queryLimit(r, 500, 5000)
	if err != nil {
		badRequest(w, "limit must be in [1, 5000]")
		return
	}
	pcts, err := s.stats.GatewayPercentiles(r.Context(), limit)
	if err != nil {
		s.internalError(w, "user gateway percentiles", err)
		return
	}
	writeJSON(w, http.StatusOK, pcts)
}

func (s *Server) handleMessagesRecent(detailed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r, 50, 500)
		if err != nil {
			badRequest(w, "limit must be in [1, 500]")
			return
		}
		packets, err := s.store.LastPackets(r.Context(), limit)
		if err != nil {
			s.internalError(w, "messages recent", err)
			return
		}
		if !detailed {
			writeJSON(w, http.StatusOK, packets)
			return
		}
		out := make([]map[string]any, 0, len(packets))
		for _, p := range packets {
			gws, err := s.store.GatewaysForPacket(r.Context(), p.ID)
			if err != nil {
				s.internalError(w, "messages detailed", err)
				return
			}
			out = append(out, map[string]any{"packet": p, "gateways": gws})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	net, err := s.stats.NetworkStats(r.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(w, "network stats", err)
		return
	}
	writeJSON(w, http.StatusOK, net)
}

func parseNodeID(r *http.Request) (uint32, error) {
	raw := mux.Vars(r)["node_id"]
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errBadNodeID
	}
	return uint32(n), nil
}

var errBadNodeID = errors.New("node_id must be a non-negative integer")
