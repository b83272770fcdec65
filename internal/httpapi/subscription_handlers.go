package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meshcommons/meshwatchd/internal/store"
	"github.com/meshcommons/meshwatchd/internal/subscription"
)

func (s *Server) handleSubscriptionsList(w http.ResponseWriter, r *http.Request) {
	var variant store.SubscriptionVariant
	if v := r.URL.Query().Get("subscription_type"); v != "" {
		parsed, err := subscription.ParseVariant(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		variant = parsed
	}
	subs, err := s.subs.List(r.Context(), variant)
	if err != nil {
		s.internalError(w, "subscriptions list", err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleSubscribeCreate(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseNodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	variant, err := subscription.ParseVariant(mux.Vars(r)["variant"])
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.subs.Subscribe(r.Context(), nodeID, variant); err != nil {
		s.internalError(w, "subscribe create", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "variant": variant})
}

func (s *Server) handleSubscribeDelete(w http.ResponseWriter, r *http.Request) {
	nodeID, err := parseNodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.subs.Unsubscribe(r.Context(), nodeID); err != nil {
		s.internalError(w, "subscribe delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
