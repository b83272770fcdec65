// Package httpapi is the read model over StatsEngine and Store, plus
// control endpoints over Scheduler/CommandBot/Store.expire, the live
// WebSocket stream, and the Prometheus exposition endpoint.
//
// Grounded in github.com/gg-glitch-88/meshigo-kore's ydin/api.go for
// the handlers-struct-plus-writeJSON shape, generalised from its
// stdlib ServeMux onto github.com/gorilla/mux (per the rest of the
// retrieval pack's convention) and from gorilla/websocket for the
// live stream, matching ydin/api.go's ping-loop shape.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meshcommons/meshwatchd/internal/eventbus"
	"github.com/meshcommons/meshwatchd/internal/scheduler"
	"github.com/meshcommons/meshwatchd/internal/stats"
	"github.com/meshcommons/meshwatchd/internal/store"
	"github.com/meshcommons/meshwatchd/internal/subscription"
)

// MQTTStatus reports whether the ingest loop currently holds a broker
// session.
type MQTTStatus interface {
	Connected() bool
}

// BotStatus reports the mesh-radio session's liveness.
type BotStatus interface {
	Connected() bool
}

// Server wires every dependency HttpApi's handlers read from.
type Server struct {
	store     *store.DB
	stats     *stats.Engine
	subs      *subscription.Service
	sched     *scheduler.Scheduler
	bot       BotStatus
	bus       *eventbus.Bus
	ingest    MQTTStatus
	staticDir string
	archive   store.ArchiveFunc
	log       *zap.Logger

	started time.Time
}

// Config bundles Server's construction-time dependencies.
type Config struct {
	Store     *store.DB
	Stats     *stats.Engine
	Subs      *subscription.Service
	Scheduler *scheduler.Scheduler
	Bot       BotStatus
	Bus       *eventbus.Bus
	Ingest    MQTTStatus
	StaticDir string          // dashboard bundle root
	Archive   store.ArchiveFunc // optional; nil disables archiving on manual expiry
}

// New constructs a Server. Call Router to obtain the http.Handler.
func New(cfg Config, log *zap.Logger) *Server {
	return &Server{
		store:     cfg.Store,
		stats:     cfg.Stats,
		subs:      cfg.Subs,
		sched:     cfg.Scheduler,
		bot:       cfg.Bot,
		bus:       cfg.Bus,
		ingest:    cfg.Ingest,
		staticDir: cfg.StaticDir,
		archive:   cfg.Archive,
		log:       log,
		started:   time.Now().UTC(),
	}
}

// Router builds the full gorilla/mux route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/stats/last", s.handleStatsLast).Methods(http.MethodGet)
	r.HandleFunc("/stats/last/{n:[0-9]+}", s.handleStatsLastN).Methods(http.MethodGet)
	r.HandleFunc("/stats/today", s.handleStatsToday(false)).Methods(http.MethodGet)
	r.HandleFunc("/stats/today/detailed", s.handleStatsToday(true)).Methods(http.MethodGet)
	r.HandleFunc("/stats/comparisons", s.handleStatsComparisons).Methods(http.MethodGet)
	r.HandleFunc("/stats/rolling", s.handleStatsRolling).Methods(http.MethodGet)
	r.HandleFunc("/stats/{date:[0-9]{4}-[0-9]{2}-[0-9]{2}}", s.handleStatsDate).Methods(http.MethodGet)
	r.HandleFunc("/stats/user/{node_id:[0-9]+}/last", s.handleStatsUserLast).Methods(http.MethodGet)
	r.HandleFunc("/stats/user/{node_id:[0-9]+}/last/{n:[0-9]+}", s.handleStatsUserLastN).Methods(http.MethodGet)

	r.HandleFunc("/users/{node_id:[0-9]+}/messages", s.handleUserMessages).Methods(http.MethodGet)
	r.HandleFunc("/users/{node_id:[0-9]+}/gateways", s.handleUserGateways).Methods(http.MethodGet)
	r.HandleFunc("/users/{node_id:[0-9]+}/gateway_percentiles", s.handleUserGatewayPercentiles).Methods(http.MethodGet)

	r.HandleFunc("/messages/recent", s.handleMessagesRecent(false)).Methods(http.MethodGet)
	r.HandleFunc("/messages/detailed", s.handleMessagesRecent(true)).Methods(http.MethodGet)

	r.HandleFunc("/subscriptions", s.handleSubscriptionsList).Methods(http.MethodGet)
	r.HandleFunc("/subscribe/{node_id:[0-9]+}/{variant}", s.handleSubscribeCreate).Methods(http.MethodPost)
	r.HandleFunc("/subscribe/{node_id:[0-9]+}", s.handleSubscribeDelete).Methods(http.MethodDelete)

	r.HandleFunc("/network/stats", s.handleNetworkStats).Methods(http.MethodGet)

	r.HandleFunc("/bot/stats", s.handleBotStats).Methods(http.MethodGet)
	r.HandleFunc("/bot/commands/recent", s.handleBotCommandsRecent).Methods(http.MethodGet)
	r.HandleFunc("/bot/commands/user/{id:[0-9]+}", s.handleBotCommandsUser).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/admin/database/info", s.handleAdminDatabaseInfo).Methods(http.MethodGet)
	r.HandleFunc("/admin/database/expire", s.handleAdminDatabaseExpire).Methods(http.MethodDelete)

	r.HandleFunc("/mock/message", s.handleMockMessage).Methods(http.MethodPost)
	r.HandleFunc("/mock/user", s.handleMockUser).Methods(http.MethodPost)

	r.HandleFunc("/ws/live", s.handleWSLive).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

var errInvalidLimit = errors.New("invalid limit")

// queryLimit parses the "limit" query parameter, defaulting and
// bounding it per each endpoint's own [1, max] range.
func queryLimit(r *http.Request, def, max int) (int, error) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 1 || n > max {
		return 0, errInvalidLimit
	}
	return n, nil
}
