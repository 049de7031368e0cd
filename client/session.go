// Package client is the Go SDK for the Myzymo realtime relay: one
// Session per chat context, with heartbeat, reconnect-with-backoff and a
// per-session call state machine.
package client

import (
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/myzymo/realtime/internal/protocol"
)

const writeWait = 10 * time.Second

// Session owns exactly one websocket connection with an explicit
// lifecycle: created by the chat UI on mount, closed on unmount, never
// shared across unrelated components.
type Session struct {
	cfg        Config
	log        *log.Logger
	dispatcher Dispatcher
	call       *CallSession

	mu             sync.Mutex
	state          SessionState
	conn           *websocket.Conn
	attempts       int
	lastPong       time.Time
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	// writeMu serializes frames; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

func NewSession(cfg Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Session{
		cfg:   cfg,
		log:   logger,
		state: StateClosed,
	}
	s.call = newCallSession(s.Send, logger)
	return s
}

func (s *Session) OnMessage(fn func(MessageEvent))   { s.dispatcher.SetOnMessage(fn) }
func (s *Session) OnPresence(fn func(PresenceEvent)) { s.dispatcher.SetOnPresence(fn) }
func (s *Session) OnError(fn func(error))            { s.dispatcher.SetOnError(fn) }

// Call returns the session's call state machine.
func (s *Session) Call() *CallSession {
	return s.call
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSeen is the time of the last pong from the relay. Diagnostics
// only; liveness is decided by socket closes, not by pong age.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// Connect dials the relay and joins the configured room. Connecting
// with no event id is a no-op, mirroring a chat widget mounted without
// an active chat context.
func (s *Session) Connect() error {
	if s.cfg.EventId == "" {
		s.log.Println("connect skipped: no event id")
		return nil
	}
	if s.cfg.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return NewError(ErrorInvalidState, "session already "+s.state.String())
	}
	s.state = StateConnecting
	s.attempts = 0
	s.mu.Unlock()

	if err := s.dial(); err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return WrapError(ErrorConnection, "dial failed", err)
	}

	return nil
}

func (s *Session) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, _, err := dialer.Dial(s.cfg.URL, header)
	if err != nil {
		return err
	}

	join := &protocol.Envelope{
		Type:     protocol.TypeJoin,
		EventId:  s.cfg.EventId,
		UserId:   s.cfg.UserId,
		UserName: s.cfg.UserName,
	}
	if err := s.writeEnvelope(conn, join); err != nil {
		conn.Close()
		return err
	}

	hbStop := make(chan struct{})
	s.mu.Lock()
	// Close may have landed while the handshake was in flight; the close
	// wins, and the fresh socket is discarded without ever going live
	if s.state != StateConnecting {
		s.mu.Unlock()
		s.log.Println("discarding dial completed after close")
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.heartbeatStop = hbStop
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.heartbeat(hbStop)
	return nil
}

// Send writes one envelope. It requires an open session: envelopes sent
// while disconnected are dropped with ErrorNotConnected rather than
// queued, so the caller can disable its send affordances.
func (s *Session) Send(env *protocol.Envelope) error {
	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return NewError(ErrorNotConnected, "session is not open")
	}
	conn := s.conn
	s.mu.Unlock()

	if err := s.writeEnvelope(conn, env); err != nil {
		return WrapError(ErrorConnection, "write failed", err)
	}
	return nil
}

// SendMessage publishes a text message to the joined room.
func (s *Session) SendMessage(content string) error {
	return s.Send(&protocol.Envelope{Type: protocol.TypeMessage, Content: content})
}

// SendFile publishes a message referencing an already-uploaded file.
func (s *Session) SendFile(fileUrl, fileName, fileType string, fileSize int64) error {
	return s.Send(&protocol.Envelope{
		Type:     protocol.TypeMessage,
		FileUrl:  fileUrl,
		FileName: fileName,
		FileType: fileType,
		FileSize: fileSize,
	})
}

func (s *Session) writeEnvelope(conn *websocket.Conn, env *protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// Close shuts the session down and suppresses any pending or future
// reconnect. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	// flip the state before touching the socket so the close event the
	// read loop is about to see never schedules a reconnect
	s.state = StateClosing
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client close"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = conn.Close()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.call.reset()
	return err
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			s.log.Println("discarding malformed envelope:", err)
			s.dispatcher.fireError(WrapError(ErrorSerialization, "malformed envelope", err))
			continue
		}

		s.route(env)
	}
}

func (s *Session) route(env *protocol.Envelope) {
	switch {
	case env.Type == protocol.TypePong:
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
	case env.Type.IsCallSignal():
		s.call.handleSignal(env)
	case env.Type == protocol.TypeError:
		s.call.handleRelayError(env.Message)
		s.dispatcher.dispatch(env)
	default:
		s.dispatcher.dispatch(env)
	}
}

func (s *Session) heartbeat(stop chan struct{}) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig().HeartbeatInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Send(&protocol.Envelope{Type: protocol.TypePing}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// handleDisconnect reacts to a read failure on conn. Stale loops from a
// previous connection are ignored; explicit closes never reconnect.
func (s *Session) handleDisconnect(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	if s.state == StateClosing || s.state == StateClosed {
		s.state = StateClosed
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.log.Println("connection lost:", err)
	s.dispatcher.fireError(WrapError(ErrorConnection, "connection lost", err))
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	maxAttempts := s.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxReconnectAttempts
	}

	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	if attempt > maxAttempts {
		s.state = StateClosed
		s.mu.Unlock()
		s.log.Printf("giving up after %d reconnect attempts", maxAttempts)
		s.dispatcher.fireError(NewError(ErrorReconnectExhausted, "reconnect attempts exhausted"))
		return
	}

	delay := s.backoffDelay(attempt)
	s.reconnectTimer = time.AfterFunc(delay, s.retry)
	s.mu.Unlock()

	s.log.Printf("reconnect attempt %d in %s", attempt, delay)
}

func (s *Session) retry() {
	s.mu.Lock()
	if s.state != StateConnecting {
		// Close won the race with the timer
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.dial(); err != nil {
		s.log.Println("reconnect failed:", err)
		s.scheduleReconnect()
	}
}

// backoffDelay is the delay before reconnect attempt n (1-based): the
// base delay doubled per attempt, capped at the configured max.
func (s *Session) backoffDelay(attempt int) time.Duration {
	base := s.cfg.ReconnectBaseDelay
	if base <= 0 {
		base = DefaultConfig().ReconnectBaseDelay
	}
	max := s.cfg.ReconnectMaxDelay
	if max <= 0 {
		max = DefaultConfig().ReconnectMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
