// Package commandbot implements the mesh chat command service: it owns
// the radio's TCP session, parses `!`-prefixed text, rate-limits and
// audits every command, and dispatches to StatsEngine and
// SubscriptionSvc.
//
// Grounded in github.com/gg-glitch-88/meshigo-kore's ydin/meshtastic.go
// for the FromRadio/MeshPacket decode shape (here replaced with the
// real generated Meshtastic protobufs, mirroring internal/codec's use
// of the same buf.build package) and ydin/state.go for the worker-loop
// shape that turns inbound frames into dispatched work. The FromRadio/
// ToRadio PayloadVariant oneof wrapping follows rabarar's meshtool-go:
// "FromRadio{PayloadVariant: &FromRadio_Packet{...}}".
package commandbot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	meshtastic "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/meshcommons/meshwatchd/internal/meshtransport"
	"github.com/meshcommons/meshwatchd/internal/stats"
	"github.com/meshcommons/meshwatchd/internal/store"
	"github.com/meshcommons/meshwatchd/internal/subscription"
)

const (
	defaultRateLimit  = 5
	defaultRateWindow = 60 * time.Second
	defaultChunkCap   = 200
	defaultChunkDelay = 5 * time.Second
	outboundQueueCap  = 128
)

// Store is the subset of *store.DB the bot needs.
type Store interface {
	LastPackets(ctx context.Context, n int) ([]store.Packet, error)
	AppendCommandLog(ctx context.Context, l store.CommandLog) (int64, error)
}

// outboundMsg is one queued message, either a DM or a channel broadcast.
type outboundMsg struct {
	nodeID    uint32 // 0 for broadcast
	broadcast bool
	text      string
}

// Config configures chunking and rate limiting.
type Config struct {
	MeshAddr    string
	RateLimit   int
	RateWindow  time.Duration
	ChunkCap    int
	ChunkDelay  time.Duration
	OwnNodeID   uint32
}

// Bot is the command bot: one TCP session, one dispatch loop, one
// bounded outbound queue.
type Bot struct {
	cfg     Config
	session *meshtransport.TCPSession
	stats   *stats.Engine
	subs    *subscription.Service
	store   Store
	log     *zap.Logger

	limiter *slidingWindowLimiter
	outbox  chan outboundMsg
}

// New constructs a Bot. Call Run to connect and start dispatching.
func New(cfg Config, st *stats.Engine, subs *subscription.Service, store Store, log *zap.Logger) *Bot {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if cfg.ChunkCap == 0 {
		cfg.ChunkCap = defaultChunkCap
	}
	if cfg.ChunkDelay == 0 {
		cfg.ChunkDelay = defaultChunkDelay
	}
	return &Bot{
		cfg:     cfg,
		session: meshtransport.NewTCPSession(cfg.MeshAddr, log),
		stats:   st,
		subs:    subs,
		store:   store,
		log:     log,
		limiter: newSlidingWindowLimiter(cfg.RateLimit, cfg.RateWindow),
		outbox:  make(chan outboundMsg, outboundQueueCap),
	}
}

// Run drives the TCP session and the inbound-frame dispatch loop until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	go b.session.Run(ctx)
	b.session.MarkSubscribed()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-b.session.Receive():
			if !ok {
				return
			}
			b.handleFrame(ctx, frame)
		case msg := <-b.outbox:
			b.deliver(ctx, msg)
		}
	}
}

// Enqueue queues a DM or broadcast for delivery, dropping the oldest
// queued message if the queue is full (capacity 128).
func (b *Bot) Enqueue(nodeID uint32, broadcast bool, text string) {
	msg := outboundMsg{nodeID: nodeID, broadcast: broadcast, text: text}
	select {
	case b.outbox <- msg:
	default:
		select {
		case <-b.outbox:
		default:
		}
		select {
		case b.outbox <- msg:
		default:
			b.log.Warn("commandbot: outbound queue full, dropped message")
		}
	}
}

// Connected reports whether the radio session is usable.
func (b *Bot) Connected() bool {
	switch b.session.State() {
	case meshtransport.StateConnected, meshtransport.StateSubscribed:
		return true
	default:
		return false
	}
}

func (b *Bot) handleFrame(ctx context.Context, frame meshtransport.Frame) {
	var fromRadio meshtastic.FromRadio
	if err := proto.Unmarshal(frame.Data, &fromRadio); err != nil {
		b.log.Debug("commandbot: malformed inbound frame", zap.Error(err))
		return
	}
	packet := fromRadio.GetPacket()
	if packet == nil {
		return // MyInfo/NodeInfo/Config frames etc. carry no MeshPacket
	}
	data := packet.GetDecoded()
	if data == nil {
		return // device only forwards already-decrypted packets over this link
	}
	if data.GetPortnum() != meshtastic.PortNum_TEXT_MESSAGE_APP {
		return
	}

	text := string(data.GetPayload())
	if len(text) == 0 || text[0] != '!' {
		return
	}

	b.dispatch(ctx, packet.GetFrom(), text)
}

func (b *Bot) dispatch(ctx context.Context, senderNodeID uint32, text string) {
	now := time.Now().UTC()
	allowed, shouldWarn := b.limiter.allow(senderNodeID, now)

	entry := store.CommandLog{
		UserNodeID:   senderNodeID,
		RawText:      text,
		RateLimited:  !allowed,
		Timestamp:    now,
	}

	var reply string
	switch {
	case !allowed:
		if shouldWarn {
			reply = "Please slow down — you've hit the command rate limit."
		}
	default:
		reply = b.execute(ctx, senderNodeID, parseCommand(text))
	}

	entry.ResponseSent = reply != ""
	if _, err := b.store.AppendCommandLog(ctx, entry); err != nil {
		b.log.Warn("commandbot: append command log failed", zap.Error(err))
	}

	if reply != "" {
		b.Enqueue(senderNodeID, false, reply)
	}
}

func (b *Bot) execute(ctx context.Context, senderNodeID uint32, c command) string {
	switch c.verb {
	case verbHelp:
		return helpText
	case verbAbout:
		return "meshwatchd command bot: mesh-wide delivery stats and daily summaries."
	case verbStatsLastMessage:
		return b.replyLastMessages(ctx, senderNodeID, 1)
	case verbStatsLastN:
		return b.replyLastMessages(ctx, senderNodeID, c.n)
	case verbStatsToday:
		return b.replyToday(ctx, false)
	case verbStatsTodayDetailed:
		return b.replyToday(ctx, true)
	case verbStatsStatus:
		return b.replyStatus(ctx)
	case verbSubscribe:
		return b.replySubscribe(ctx, senderNodeID, c.variant)
	case verbUnsubscribe:
		if err := b.subs.Unsubscribe(ctx, senderNodeID); err != nil {
			return "Could not unsubscribe right now."
		}
		return "Unsubscribed from daily summaries."
	case verbMySubscriptions:
		return b.replyMySubscriptions(ctx, senderNodeID)
	default:
		return unknownVerbReply(c)
	}
}

func (b *Bot) replyLastMessages(ctx context.Context, senderNodeID uint32, n int) string {
	packets, err := b.store.LastPackets(ctx, n)
	if err != nil || len(packets) == 0 {
		return "No messages recorded yet."
	}
	out := fmt.Sprintf("Last %d message(s):\n", len(packets))
	for _, p := range packets {
		out += fmt.Sprintf("#%d from %s at %s, %d gateway(s)\n",
			p.PacketID, p.SenderName, p.SentAt.Format(time.RFC3339), p.GatewayCount)
	}
	return out
}

func (b *Bot) replyToday(ctx context.Context, detailed bool) string {
	day, err := b.stats.DayStat(ctx, time.Now().UTC())
	if err != nil {
		return "Could not compute today's stats right now."
	}
	if !detailed {
		return subscription.Format(store.VariantAvg, day)
	}
	p95 := "n/a"
	if day.P95 != nil {
		p95 = fmt.Sprintf("%.1f", *day.P95)
	}
	return fmt.Sprintf(
		"Today: %d messages, avg %.1f gw/msg, min %d, max %d, p50/p95 %s/%s gw/msg.",
		day.Count, day.AvgGateways, day.MinGateways, day.MaxGateways,
		fmtPtr(day.P50), p95,
	)
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *v)
}

func (b *Bot) replyStatus(ctx context.Context) string {
	net, err := b.stats.NetworkStats(ctx, time.Now().UTC())
	if err != nil {
		return "Could not compute network status right now."
	}
	return fmt.Sprintf(
		"Network: %d nodes (%d active 24h), %d gateways (%d active 24h).",
		net.TotalNodes, net.ActiveNodes24h, net.TotalGateways, net.ActiveGateways24h,
	)
}

func (b *Bot) replySubscribe(ctx context.Context, senderNodeID uint32, variantStr string) string {
	variant, err := subscription.ParseVariant(variantStr)
	if err != nil {
		return "Usage: subscribe {low|avg|high}"
	}
	if err := b.subs.Subscribe(ctx, senderNodeID, variant); err != nil {
		return "Could not subscribe right now."
	}
	return fmt.Sprintf("Subscribed to %s daily summaries.", variant)
}

func (b *Bot) replyMySubscriptions(ctx context.Context, senderNodeID uint32) string {
	sub, err := b.subs.Get(ctx, senderNodeID)
	if err != nil || sub == nil || !sub.Active {
		return "You have no active subscription."
	}
	return fmt.Sprintf("Active subscription: %s.", sub.Variant)
}

// deliver chunks and sends a queued message, respecting the configured
// inter-chunk delay, abandoning the remainder on the first send
// failure.
func (b *Bot) deliver(ctx context.Context, msg outboundMsg) {
	chunks := chunkReply(msg.text, b.cfg.ChunkCap)
	for i, chunk := range chunks {
		frame, err := encodeTextMessage(msg.nodeID, msg.broadcast, b.cfg.OwnNodeID, chunk)
		if err != nil {
			b.log.Warn("commandbot: encode reply failed", zap.Error(err))
			return
		}
		if err := b.session.Send(meshtransport.Frame{Data: frame, Timestamp: time.Now().UTC()}); err != nil {
			b.log.Warn("commandbot: send failed, abandoning remaining chunks",
				zap.Int("sent", i), zap.Int("total", len(chunks)), zap.Error(err))
			return
		}
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.ChunkDelay):
			}
		}
	}
}

func encodeTextMessage(toNodeID uint32, broadcast bool, fromNodeID uint32, text string) ([]byte, error) {
	data := &meshtastic.Data{
		Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte(text),
	}

	to := toNodeID
	if broadcast {
		to = 0xFFFFFFFF
	}
	packet := &meshtastic.MeshPacket{
		From:     fromNodeID,
		To:       to,
		HopLimit: 3,
		PayloadVariant: &meshtastic.MeshPacket_Decoded{Decoded: data},
	}
	toRadio := &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: packet},
	}
	return proto.Marshal(toRadio)
}
