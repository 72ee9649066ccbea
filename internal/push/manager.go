// Package push maintains the persistent binary-protocol connection to
// the platform's broadcast endpoint, drives its auth/heartbeat/reconnect
// lifecycle, and routes decoded frames into normalized events.
//
// Architecture: a reader goroutine feeds inboundCh with raw WebSocket
// messages. A single event loop goroutine per connection processes
// inbound frames and heartbeat ticks; all writes after the initial Auth
// frame happen from that loop, so no write mutex is needed.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/alexjbarnes/dmclient/internal/events"
	"github.com/alexjbarnes/dmclient/internal/wire"
	"github.com/alexjbarnes/dmclient/platform"
)

const (
	// heartbeatEvery is the send-only keepalive interval. Absence of a
	// heartbeat ack is not a failure signal; dead connections surface
	// through the transport's own close/error path.
	heartbeatEvery = 20 * time.Second

	// reconnectAfter is the fixed delay before a reconnect attempt. At
	// most one reconnect timer is pending at a time.
	reconnectAfter = 5 * time.Second

	readLimit   = 4 * 1024 * 1024
	subProtocol = "proto"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuthAck
	StateAuthenticated
	StateDegraded // connection lost, reconnect pending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuthAck:
		return "awaiting_auth_ack"
	case StateAuthenticated:
		return "authenticated"
	case StateDegraded:
		return "degraded"
	default:
		return "invalid"
	}
}

// inboundMsg wraps a message read from the WebSocket by the reader
// goroutine.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// wsConn abstracts the WebSocket connection so Manager can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context, creds platform.Credentials) (wsConn, error)

// Config holds the parameters for a push connection manager.
type Config struct {
	// Host is the broadcast endpoint host.
	Host string

	// Creds supplies the active account's credentials, read at every
	// (re)connect so account switches take effect on the next cycle.
	Creds platform.CredentialSource
}

// Manager owns the single push connection for the process. Construct
// one per process; a second live connection is never valid.
type Manager struct {
	logger *slog.Logger
	host   string
	creds  platform.CredentialSource
	dial   dialFunc

	// guid is the per-process connection identity, generated once at
	// construction and reused across reconnects.
	guid string

	mu              sync.Mutex
	conn            wsConn
	connCancel      context.CancelFunc
	state           State
	seq             int64
	shouldReconnect bool
	reconnectTimer  *time.Timer
	runCtx          context.Context

	onConnected    *events.Hub[struct{}]
	onDisconnected *events.Hub[error]
	onEvent        *events.Hub[Event]
}

// NewManager creates a push connection manager. It does not connect.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{
		logger:         logger,
		host:           cfg.Host,
		creds:          cfg.Creds,
		guid:           uuid.NewString(),
		onConnected:    events.NewHub[struct{}](),
		onDisconnected: events.NewHub[error](),
		onEvent:        events.NewHub[Event](),
	}
	m.dial = m.defaultDial
	return m
}

// OnConnected registers a listener for successful authentication.
func (m *Manager) OnConnected(fn func()) func() {
	return m.onConnected.Subscribe(func(struct{}) { fn() })
}

// OnDisconnected registers a listener for connection loss. The error is
// nil on explicit disconnect.
func (m *Manager) OnDisconnected(fn func(error)) func() {
	return m.onDisconnected.Subscribe(fn)
}

// OnEvent registers a listener for normalized push events.
func (m *Manager) OnEvent(fn func(Event)) func() {
	return m.onEvent.Subscribe(fn)
}

// Status returns the current lifecycle state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// nextSeq returns the next outbound sequence number. Sequence numbers
// start at 1 per connection and reset on reconnect.
func (m *Manager) nextSeq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// Connect opens the push connection and starts its event loop. Returns
// without scheduling a reconnect when no credentials are available; the
// caller decides whether to retry. Transport failures schedule a
// reconnect and are also returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.shouldReconnect = true
	m.runCtx = ctx
	m.mu.Unlock()

	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	creds, err := m.creds.Active()
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("reading credentials: %w", err)
	}

	m.setState(StateConnecting)
	m.logger.Debug("connecting", slog.String("host", m.host))

	conn, err := m.dial(ctx, creds)
	if err != nil {
		m.setState(StateDisconnected)
		m.scheduleReconnect()
		return fmt.Errorf("dialing push endpoint: %w", err)
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.conn = conn
	m.connCancel = cancel
	m.seq = 0
	m.mu.Unlock()

	auth := &wire.AuthReq{GUID: m.guid}
	if err := m.sendFrame(connCtx, conn, wire.TargetAuth, wire.TypeURLAuthReq, auth.Marshal()); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "auth send failed")
		m.setState(StateDisconnected)
		m.scheduleReconnect()
		return fmt.Errorf("sending auth frame: %w", err)
	}
	m.setState(StateAwaitingAuthAck)

	ch := m.startReader(connCtx, conn)
	go m.run(connCtx, conn, ch)

	return nil
}

// endpoint is the broadcast subscribe URL. The platform query token
// identifies the client family to the server.
func (m *Manager) endpoint() string {
	return "wss://" + m.host + "/sub?platform=web"
}

func (m *Manager) defaultDial(ctx context.Context, creds platform.Credentials) (wsConn, error) {
	header := http.Header{}
	header.Set("Cookie", creds.CookieHeader())
	header.Set("User-Agent", "dmclient/1.0")

	conn, _, err := websocket.Dial(ctx, m.endpoint(), &websocket.DialOptions{
		Subprotocols: []string{subProtocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// startReader launches a goroutine that reads from the WebSocket and
// feeds the returned channel. Exits when connCtx is cancelled or a read
// error occurs; the error is delivered as the final message.
func (m *Manager) startReader(connCtx context.Context, conn wsConn) chan inboundMsg {
	ch := make(chan inboundMsg, 64)
	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// run is the event loop for one connection. It owns all writes after
// the Auth frame. Returns on read error, heartbeat write error, or
// context cancellation.
func (m *Manager) run(ctx context.Context, conn wsConn, ch chan inboundMsg) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-ch:
			if msg.err != nil {
				m.handleConnLost(fmt.Errorf("reading frame: %w", msg.err))
				return
			}
			if msg.typ != websocket.MessageBinary {
				m.logger.Debug("ignoring non-binary frame", slog.Int("bytes", len(msg.data)))
				continue
			}
			m.handleFrame(ctx, conn, msg.data)

		case <-ticker.C:
			if m.Status() != StateAuthenticated {
				continue
			}
			hb := &wire.HeartbeatReq{}
			if err := m.sendFrame(ctx, conn, wire.TargetHeartbeat, wire.TypeURLHeartbeatReq, hb.Marshal()); err != nil {
				m.handleConnLost(fmt.Errorf("sending heartbeat: %w", err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleFrame decodes and dispatches one inbound frame. Malformed
// frames are logged and dropped; the connection stays up.
func (m *Manager) handleFrame(ctx context.Context, conn wsConn, data []byte) {
	frame, err := wire.UnmarshalFrame(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	class := classify(frame.TargetPath)
	switch class {
	case ClassAuthAck:
		m.handleAuthAck(ctx, conn, frame)

	case ClassHeartbeatAck, ClassSubscribeAck:
		m.logger.Debug("ack",
			slog.String("class", class.String()),
			slog.String("target_path", frame.TargetPath),
		)

	case ClassNotification:
		evs, err := normalize(frame.Body)
		if err != nil {
			m.logger.Warn("dropping malformed notification", slog.String("error", err.Error()))
			return
		}
		for _, ev := range evs {
			m.onEvent.Publish(ev)
		}

	default:
		m.logger.Debug("frame for unknown target", slog.String("target_path", frame.TargetPath))
	}
}

// handleAuthAck completes the handshake: subscribe to the notification
// channel, let the heartbeat ticker take over, announce connected.
func (m *Manager) handleAuthAck(ctx context.Context, conn wsConn, frame *wire.Frame) {
	if m.Status() != StateAwaitingAuthAck {
		m.logger.Debug("ignoring duplicate auth ack")
		return
	}

	if st := frame.Options.Status; st != nil && st.Code != 0 {
		m.logger.Warn("auth rejected",
			slog.Int("code", int(st.Code)),
			slog.String("message", st.Message),
		)
		// Closing the socket surfaces a read error, which drives the
		// normal close-then-reconnect path.
		conn.Close(websocket.StatusNormalClosure, "auth rejected")
		return
	}

	m.setState(StateAuthenticated)

	sub := &wire.SubscribeReq{TargetPaths: []string{wire.TargetNotify}}
	if err := m.sendFrame(ctx, conn, wire.TargetSubscribe, wire.TypeURLSubscribeReq, sub.Marshal()); err != nil {
		// A dead socket will also fail the reader, which reconnects.
		m.logger.Warn("sending subscribe frame", slog.String("error", err.Error()))
		return
	}

	m.logger.Info("push connection authenticated", slog.String("guid", m.guid))
	m.onConnected.Publish(struct{}{})
}

func (m *Manager) sendFrame(ctx context.Context, conn wsConn, targetPath, typeURL string, body []byte) error {
	f := &wire.Frame{
		Options: wire.FrameOptions{
			Seq:       m.nextSeq(),
			Timestamp: time.Now().UnixMilli(),
		},
		TargetPath: targetPath,
		Body:       wire.TypedBox{TypeURL: typeURL, Value: body},
	}
	return conn.Write(ctx, websocket.MessageBinary, f.Marshal())
}

// handleConnLost tears down the current connection and schedules a
// reconnect (unless the disconnect was explicit). Idempotent: only the
// first notifier for a given connection does the work.
func (m *Manager) handleConnLost(err error) {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateDegraded {
		m.mu.Unlock()
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	conn := m.conn
	m.conn = nil
	if m.shouldReconnect {
		m.state = StateDegraded
	} else {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "connection lost")
	}

	m.logger.Warn("push connection lost", slog.String("error", err.Error()))
	m.onDisconnected.Publish(err)
	m.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer. No-op while a timer is
// already pending or after an explicit disconnect. Reports whether a
// timer was armed.
func (m *Manager) scheduleReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldReconnect || m.reconnectTimer != nil {
		return false
	}

	ctx := m.runCtx
	m.reconnectTimer = time.AfterFunc(reconnectAfter, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		should := m.shouldReconnect
		m.mu.Unlock()

		if !should || ctx == nil || ctx.Err() != nil {
			return
		}

		m.logger.Info("reconnecting")
		// connect re-reads credentials (the account may have switched)
		// and resets the sequence counter.
		if err := m.connect(ctx); err != nil {
			m.logger.Warn("reconnect failed", slog.String("error", err.Error()))
		}
	})

	m.logger.Debug("reconnect scheduled", slog.Duration("after", reconnectAfter))
	return true
}

// Disconnect closes the connection and cancels the heartbeat and any
// pending reconnect timer. Terminal until the next Connect call.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	conn := m.conn
	m.conn = nil
	wasLive := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}

	if wasLive {
		m.logger.Info("push connection closed")
		m.onDisconnected.Publish(nil)
	}
}
