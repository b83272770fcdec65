// Package meshtransport owns the long-lived TCP session to a physical
// mesh radio: a 4-byte-length-prefixed protobuf frame stream, a
// reconnect backoff, and an explicit connection-state machine.
//
// Adapted from github.com/gg-glitch-88/meshigo-kore's ydin/transport.go
// and ydin/tcp.go: the TransportManager interface and stream-framing
// read loop are carried over, generalized from the teacher's BLE/TCP
// device link to CommandBot's radio session and extended with the
// Subscribed/Draining states CommandBot's command grammar needs.
package meshtransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ConnectionState is the session's place in its connect/disconnect
// lifecycle: Disconnected, Connecting, Connected, Subscribed, Draining.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateDraining
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDraining:
		return "draining"
	default:
		return "disconnected"
	}
}

// Frame is one inbound or outbound protobuf payload.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	dialTimeout    = 5 * time.Second
	frameChanSize  = 256
	maxFrameBytes  = 512 * 1024
)

// TCPSession is the sole owner of the mesh-radio TCP socket; CommandBot
// is its only caller.
type TCPSession struct {
	addr string
	log  *zap.Logger

	frames chan Frame
	state  atomic.Int32

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPSession constructs a session. Call Run to begin connecting.
func NewTCPSession(addr string, log *zap.Logger) *TCPSession {
	t := &TCPSession{addr: addr, log: log, frames: make(chan Frame, frameChanSize)}
	t.state.Store(int32(StateDisconnected))
	return t
}

// Run drives the connect/read loop until ctx is cancelled, at which
// point it enters Draining and closes the socket.
func (t *TCPSession) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.connectLoop(runCtx)

	<-ctx.Done()
	t.state.Store(int32(StateDraining))
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
	t.state.Store(int32(StateDisconnected))
}

// MarkSubscribed records that packet-event registration completed,
// advancing Connected to Subscribed.
func (t *TCPSession) MarkSubscribed() {
	if ConnectionState(t.state.Load()) == StateConnected {
		t.state.Store(int32(StateSubscribed))
	}
}

// Send writes one length-prefixed frame. It does not touch the
// reconnect backoff, which connectLoop resets only after a successful
// dial.
func (t *TCPSession) Send(frame Frame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("meshtransport: not connected")
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(frame.Data)))
	if _, err := conn.Write(append(hdr, frame.Data...)); err != nil {
		return fmt.Errorf("meshtransport: send: %w", err)
	}
	return nil
}

// Receive returns the channel of inbound frames.
func (t *TCPSession) Receive() <-chan Frame { return t.frames }

// State reports the current connection state.
func (t *TCPSession) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

func (t *TCPSession) connectLoop(ctx context.Context) {
	defer t.wg.Done()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		t.state.Store(int32(StateConnecting))
		conn, err := net.DialTimeout("tcp", t.addr, dialTimeout)
		if err != nil {
			t.log.Warn("meshtransport: dial failed",
				zap.String("addr", t.addr),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			t.state.Store(int32(StateDisconnected))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff = minDuration(backoff*2, maxBackoff)
				continue
			}
		}

		backoff = initialBackoff
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.state.Store(int32(StateConnected))
		t.log.Info("meshtransport: connected", zap.String("addr", t.addr))

		t.readFrames(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.state.Store(int32(StateDisconnected))
		t.log.Info("meshtransport: connection lost, reconnecting", zap.Duration("backoff", backoff))
	}
}

func (t *TCPSession) readFrames(ctx context.Context, conn net.Conn) {
	hdr := make([]byte, 4)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if ctx.Err() == nil {
				t.log.Debug("meshtransport: read header", zap.Error(err))
			}
			return
		}
		n := binary.BigEndian.Uint32(hdr)
		if n == 0 || n > maxFrameBytes {
			t.log.Warn("meshtransport: invalid frame size", zap.Uint32("size", n))
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			if ctx.Err() == nil {
				t.log.Debug("meshtransport: read payload", zap.Error(err))
			}
			return
		}
		select {
		case t.frames <- Frame{Data: payload, Timestamp: time.Now().UTC()}:
		case <-ctx.Done():
			return
		default:
			t.log.Warn("meshtransport: frame channel full, dropping frame")
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
