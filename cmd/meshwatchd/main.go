// Command meshwatchd is the orchestrator: it loads configuration, opens
// the store, and wires Codec, PacketGrouper, Ingest, StatsEngine,
// Scheduler, CommandBot, Archiver, and HttpApi into one process,
// running each as an independently cancellable goroutine under a
// single shutdown signal.
//
// Grounded in ClusterCockpit-cc-backend's cmd/cc-backend/main.go for
// the flag/config/component-wiring/signal-driven-shutdown shape,
// adapted from its single HTTP-server-plus-waitgroup model to this
// program's several long-running components.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meshcommons/meshwatchd/internal/archive"
	"github.com/meshcommons/meshwatchd/internal/codec"
	"github.com/meshcommons/meshwatchd/internal/commandbot"
	"github.com/meshcommons/meshwatchd/internal/config"
	"github.com/meshcommons/meshwatchd/internal/eventbus"
	"github.com/meshcommons/meshwatchd/internal/grouper"
	"github.com/meshcommons/meshwatchd/internal/httpapi"
	"github.com/meshcommons/meshwatchd/internal/ingest"
	"github.com/meshcommons/meshwatchd/internal/scheduler"
	"github.com/meshcommons/meshwatchd/internal/stats"
	"github.com/meshcommons/meshwatchd/internal/store"
	"github.com/meshcommons/meshwatchd/internal/subscription"
)

// shutdownGrace bounds how long main waits for every component to
// stop after a signal before forcing exit.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean, 1 on a configuration or
// startup error, 2 if graceful shutdown did not finish within
// shutdownGrace.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatchd: config: %s\n", err)
		return 1
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatchd: logger init: %s\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	db, err := store.Open(cfg.Database.URL, log)
	if err != nil {
		log.Error("meshwatchd: open store", zap.Error(err))
		return 1
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(ctx)
	cancel()
	if err != nil {
		log.Error("meshwatchd: migrate", zap.Error(err))
		return 1
	}

	ring, err := codec.NewRing(cfg.Mesh.DecryptionKeys, cfg.Mesh.IncludeDefaultKey)
	if err != nil {
		log.Error("meshwatchd: build key ring", zap.Error(err))
		return 1
	}
	cdc := codec.New(ring)

	bus := eventbus.New()
	metrics := grouper.NewMetrics(prometheus.DefaultRegisterer)
	statsEngine := stats.New(db)
	subs := subscription.New(db)

	var archiver *archive.Archiver
	var archiveFn store.ArchiveFunc
	if cfg.Archive.Dir != "" {
		archiver, err = archive.New(archive.Config{Dir: cfg.Archive.Dir, Peers: cfg.Archive.Peers}, log)
		if err != nil {
			log.Error("meshwatchd: open archiver", zap.Error(err))
			return 1
		}
		defer archiver.Close() //nolint:errcheck
		archiveFn = archiver.Archive
	}

	onClose := func(p store.Packet) { bus.Publish(p) }
	grp := grouper.New(db, log, cfg.Grouping.Window(), cfg.Grouping.Quiescence(), cfg.Grouping.LateRetention(), metrics, onClose)

	in := ingest.New(ingest.Config{
		Server:      cfg.MQTT.Server,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		RootTopic:   cfg.MQTT.RootTopic,
		TLSEnabled:  cfg.MQTT.TLSEnabled,
		TLSInsecure: cfg.MQTT.TLSInsecure,
	}, cdc, grp, metrics, log)

	sched, err := scheduler.New(log)
	if err != nil {
		log.Error("meshwatchd: scheduler", zap.Error(err))
		return 1
	}

	var bot *commandbot.Bot
	if cfg.Mesh.CommandsEnabled {
		bot = commandbot.New(commandbot.Config{
			MeshAddr: cfg.Mesh.ConnectionURL,
		}, statsEngine, subs, db, log)
	}

	if err := wireScheduledJobs(sched, statsEngine, subs, bot, db, archiveFn, cfg, log); err != nil {
		log.Error("meshwatchd: wire scheduled jobs", zap.Error(err))
		return 1
	}

	var botStatus httpapi.BotStatus
	if bot != nil {
		botStatus = bot
	}
	api := httpapi.New(httpapi.Config{
		Store:     db,
		Stats:     statsEngine,
		Subs:      subs,
		Scheduler: sched,
		Bot:       botStatus,
		Bus:       bus,
		Ingest:    in,
		Archive:   archiveFn,
	}, log)

	httpSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	runGoroutine := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("meshwatchd: component stopped", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	runGoroutine("grouper", grp.Run)
	runGoroutine("ingest", in.Run)
	if bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()
	}

	sched.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("meshwatchd: http listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("meshwatchd: http server", zap.Error(err))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("meshwatchd: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if err := sched.Shutdown(); err != nil {
		log.Warn("meshwatchd: scheduler shutdown", zap.Error(err))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("meshwatchd: graceful shutdown complete")
		return 0
	case <-time.After(shutdownGrace):
		log.Warn("meshwatchd: shutdown grace period exceeded, forcing exit")
		return 2
	}
}

// wireScheduledJobs registers the fixed cron jobs: per-subscriber
// daily DMs, an optional channel-wide daily broadcast, a rolling-window
// and network-stats cache warm, and (when archiving is enabled) the
// nightly expiry sweep.
func wireScheduledJobs(
	sched *scheduler.Scheduler,
	statsEngine *stats.Engine,
	subs *subscription.Service,
	bot *commandbot.Bot,
	db *store.DB,
	archiveFn store.ArchiveFunc,
	cfg *config.Config,
	log *zap.Logger,
) error {
	if err := sched.AddDaily("daily_subscriber_summary", cfg.Mesh.SubscriptionHour, cfg.Mesh.SubscriptionMinute, func(ctx context.Context) error {
		if bot == nil {
			return nil
		}
		day, err := statsEngine.DayStat(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("day stat: %w", err)
		}
		list, err := subs.List(ctx, "")
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		for _, sub := range list {
			bot.Enqueue(sub.UserNodeID, false, subscription.Format(sub.Variant, day))
		}
		return nil
	}); err != nil {
		return err
	}

	if cfg.Mesh.BroadcastEnabled {
		if err := sched.AddDaily("daily_broadcast", cfg.Mesh.BroadcastHour, cfg.Mesh.BroadcastMinute, func(ctx context.Context) error {
			if bot == nil {
				return nil
			}
			day, err := statsEngine.DayStat(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("day stat: %w", err)
			}
			bot.Enqueue(0, true, subscription.Format(store.VariantAvg, day))
			return nil
		}); err != nil {
			return err
		}
	}

	if err := sched.AddEvery("rolling_cache_warm", 60*time.Second, func(ctx context.Context) error {
		now := time.Now().UTC()
		if _, err := statsEngine.RollingWindows(ctx, now); err != nil {
			return fmt.Errorf("rolling windows: %w", err)
		}
		if _, err := statsEngine.NetworkStats(ctx, now); err != nil {
			return fmt.Errorf("network stats: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if archiveFn != nil {
		if err := sched.AddDaily("expire_sweep", 3, 0, func(ctx context.Context) error {
			cutoff := time.Now().UTC().Add(-cfg.Archive.Retention())
			if err := db.Expire(ctx, cutoff, archiveFn); err != nil {
				return fmt.Errorf("expire: %w", err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

func newLogger(logLevel string) (*zap.Logger, error) {
	level := zap.InfoLevel
	if parsed, err := zap.ParseAtomicLevel(logLevel); err == nil {
		level = parsed.Level()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
