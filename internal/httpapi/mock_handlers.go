package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/meshcommons/meshwatchd/internal/store"
)

// mockMessageRequest mirrors the fields a real grouped packet would
// carry, letting tests exercise the read endpoints without a live
// MQTT broker. It inserts through the same Store write path as every
// other grouped packet.
type mockMessageRequest struct {
	PacketID     int64    `json:"packet_id"`
	SenderNodeID uint32   `json:"sender_node_id"`
	SenderName   string   `json:"sender_name"`
	SentAt       int64    `json:"sent_at"` // unix seconds
	Payload      string   `json:"payload"`
	Gateways     []string `json:"gateways"`
}

func (s *Server) handleMockMessage(w http.ResponseWriter, r *http.Request) {
	var req mockMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.PacketID == 0 || len(req.Gateways) == 0 {
		badRequest(w, "packet_id and at least one gateway are required")
		return
	}

	sentAt := time.Unix(req.SentAt, 0).UTC()
	g := store.GroupedPacket{
		Packet: store.Packet{
			PacketID:     req.PacketID,
			SenderNodeID: req.SenderNodeID,
			SentAt:       sentAt,
			Payload:      req.Payload,
			GatewayCount: len(req.Gateways),
		},
		Gateways: req.Gateways,
	}

	id, err := s.store.InsertGroupedPacket(r.Context(), g, req.SenderName)
	if err != nil {
		s.internalError(w, "mock message", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

type mockUserRequest struct {
	NodeID      uint32 `json:"node_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleMockUser(w http.ResponseWriter, r *http.Request) {
	var req mockUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.DisplayName == "" {
		badRequest(w, "display_name is required")
		return
	}
	if err := s.store.UpsertNode(r.Context(), req.NodeID, req.DisplayName); err != nil {
		s.internalError(w, "mock user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": req.NodeID})
}
