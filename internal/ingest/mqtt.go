// Package ingest holds the MQTT broker connection, subscribes the
// configured topic tree, and hands each envelope to Codec then
// PacketGrouper.
//
// Grounded in github.com/pico-cs/mqtt-gateway's gateway package (the
// only eclipse/paho.mqtt.golang user in the retrieval pack) for the
// client-options/connect-handler shape, generalised from its v3.1
// command-station domain to meshwatchd's envelope-ingest domain.
package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/meshcommons/meshwatchd/internal/codec"
	"github.com/meshcommons/meshwatchd/internal/grouper"
)

// Observer receives decoded observations, decoupling
// Ingest from PacketGrouper's concrete type for testing.
type Observer interface {
	Observe(ctx context.Context, envelopeHash []byte, obs *codec.Observation) error
}

// Config configures the broker connection.
type Config struct {
	Server      string
	Username    string
	Password    string
	RootTopic   string
	TLSEnabled  bool
	TLSInsecure bool
}

// Ingest owns the MQTT client and ingestion loop.
type Ingest struct {
	cfg     Config
	codec   *codec.Codec
	grouper Observer
	metrics *grouper.Metrics
	log     *zap.Logger

	mu        sync.Mutex
	client    MQTT.Client
	connected atomic.Bool
}

// Connected reports whether the MQTT client currently has a live
// session.
func (in *Ingest) Connected() bool {
	return in.connected.Load()
}

// New constructs an Ingest. Call Run to connect and subscribe.
func New(cfg Config, c *codec.Codec, g Observer, metrics *grouper.Metrics, log *zap.Logger) *Ingest {
	return &Ingest{cfg: cfg, codec: c, grouper: g, metrics: metrics, log: log}
}

// Run connects to the broker, subscribes the configured topic subtree,
// and blocks until ctx is cancelled, at which point it disconnects
// gracefully.
func (in *Ingest) Run(ctx context.Context) error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(in.cfg.Server)
	opts.SetUsername(in.cfg.Username)
	opts.SetPassword(in.cfg.Password)
	opts.SetClientID(fmt.Sprintf("meshwatchd-%d", time.Now().UnixNano()))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		in.connected.Store(false)
		in.log.Warn("ingest: mqtt connection lost", zap.Error(err))
	})

	if in.cfg.TLSEnabled {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: in.cfg.TLSInsecure}) //nolint:gosec
	}

	topic := in.cfg.RootTopic + "/#"
	opts.SetOnConnectHandler(func(c MQTT.Client) {
		in.log.Info("ingest: mqtt connected", zap.String("server", in.cfg.Server))
		tok := c.Subscribe(topic, 1, in.handle)
		tok.Wait()
		if err := tok.Error(); err != nil {
			in.log.Error("ingest: subscribe failed", zap.String("topic", topic), zap.Error(err))
			return
		}
		in.connected.Store(true)
		in.log.Info("ingest: subscribed", zap.String("topic", topic))
	})

	in.mu.Lock()
	in.client = MQTT.NewClient(opts)
	client := in.client
	in.mu.Unlock()

	tok := client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("ingest: connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(250)
	in.connected.Store(false)
	in.log.Info("ingest: disconnected")
	return nil
}

// handle is paho's message callback: decode, gate on privacy, and feed
// the grouper. Decrypt failures and private drops are counted;
// malformed envelopes are only logged at debug, and unsupported-port
// packets are dropped without being counted.
func (in *Ingest) handle(_ MQTT.Client, msg MQTT.Message) {
	result := in.codec.Decode(msg.Payload())

	switch result.Reason {
	case codec.ReasonCannotDecrypt:
		in.metrics.DecryptFailed.Inc()
		return
	case codec.ReasonMalformed:
		in.log.Debug("ingest: malformed envelope", zap.String("topic", msg.Topic()))
		return
	case codec.ReasonPrivateDrop:
		in.metrics.PrivateDropped.Inc()
		return
	case codec.ReasonUnsupportedPort:
		return
	}

	if result.Observation == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hash := result.EnvelopeHash
	if err := in.grouper.Observe(ctx, hash[:], result.Observation); err != nil {
		in.log.Warn("ingest: grouper observe failed", zap.Error(err))
	}
}
