package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/myzymo/realtime/internal/protocol"
	"github.com/myzymo/realtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayStub is a bare websocket endpoint recording every connection and
// decoded frame it receives.
type relayStub struct {
	srv    *httptest.Server
	url    string
	dials  atomic.Int32
	conns  chan *websocket.Conn
	frames chan *protocol.Envelope
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()

	rs := &relayStub{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan *protocol.Envelope, 16),
	}

	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.dials.Add(1)
		rs.conns <- conn

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			rs.frames <- env
		}
	}))
	rs.url = "ws" + strings.TrimPrefix(rs.srv.URL, "http")

	t.Cleanup(func() {
		rs.srv.CloseClientConnections()
		rs.srv.Close()
	})
	return rs
}

func (rs *relayStub) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-rs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func (rs *relayStub) recv(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-rs.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.EventId = "evt_1"
	cfg.UserId = "u1"
	cfg.UserName = "alice"
	return cfg
}

func Test_backoffDelay(t *testing.T) {
	t.Run("doubles from the base up to the cap", func(t *testing.T) {
		s := NewSession(DefaultConfig(), testutil.TestLogger(t))

		want := []time.Duration{
			time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}
		for i, exp := range want {
			assert.Equal(t, exp, s.backoffDelay(i+1), "attempt %d", i+1)
		}
	})

	t.Run("honors a custom base and cap", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReconnectBaseDelay = 100 * time.Millisecond
		cfg.ReconnectMaxDelay = 250 * time.Millisecond
		s := NewSession(cfg, testutil.TestLogger(t))

		assert.Equal(t, 100*time.Millisecond, s.backoffDelay(1))
		assert.Equal(t, 200*time.Millisecond, s.backoffDelay(2))
		assert.Equal(t, 250*time.Millisecond, s.backoffDelay(3))
		assert.Equal(t, 250*time.Millisecond, s.backoffDelay(4))
	})
}

func TestConnect(t *testing.T) {
	t.Run("no event id is a no-op", func(t *testing.T) {
		cfg := testConfig("ws://example.invalid/ws")
		cfg.EventId = ""
		s := NewSession(cfg, testutil.TestLogger(t))

		assert.NoError(t, s.Connect())
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("empty url is rejected", func(t *testing.T) {
		cfg := testConfig("")
		s := NewSession(cfg, testutil.TestLogger(t))

		assert.ErrorIs(t, s.Connect(), NewError(ErrorInvalidConfig, ""))
	})

	t.Run("unreachable relay returns a connection error", func(t *testing.T) {
		cfg := testConfig("ws://127.0.0.1:1/ws")
		cfg.HandshakeTimeout = 500 * time.Millisecond
		s := NewSession(cfg, testutil.TestLogger(t))

		assert.ErrorIs(t, s.Connect(), NewError(ErrorConnection, ""))
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("joins the room on connect", func(t *testing.T) {
		rs := newRelayStub(t)
		s := NewSession(testConfig(rs.url), testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		defer s.Close()

		join := rs.recv(t)
		assert.Equal(t, protocol.TypeJoin, join.Type)
		assert.Equal(t, "evt_1", join.EventId)
		assert.Equal(t, "u1", join.UserId)
		assert.Equal(t, "alice", join.UserName)
		assert.Equal(t, StateOpen, s.State())
	})

	t.Run("second connect on an open session is rejected", func(t *testing.T) {
		rs := newRelayStub(t)
		s := NewSession(testConfig(rs.url), testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		defer s.Close()

		assert.ErrorIs(t, s.Connect(), NewError(ErrorInvalidState, ""))
	})
}

func TestSend(t *testing.T) {
	t.Run("closed session drops the envelope", func(t *testing.T) {
		s := NewSession(testConfig("ws://example.invalid/ws"), testutil.TestLogger(t))

		err := s.SendMessage("hello")
		assert.ErrorIs(t, err, NewError(ErrorNotConnected, ""))
	})

	t.Run("messages reach the relay", func(t *testing.T) {
		rs := newRelayStub(t)
		s := NewSession(testConfig(rs.url), testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		defer s.Close()
		rs.recv(t) // join

		require.NoError(t, s.SendMessage("hello"))
		msg := rs.recv(t)
		assert.Equal(t, protocol.TypeMessage, msg.Type)
		assert.Equal(t, "hello", msg.Content)

		require.NoError(t, s.SendFile("https://files.myzymo.app/a.pdf", "a.pdf", "application/pdf", 1024))
		file := rs.recv(t)
		assert.Equal(t, protocol.TypeMessage, file.Type)
		assert.Equal(t, "a.pdf", file.FileName)
		assert.Equal(t, int64(1024), file.FileSize)
	})
}

func TestSessionCallbacks(t *testing.T) {
	rs := newRelayStub(t)
	s := NewSession(testConfig(rs.url), testutil.TestLogger(t))

	messages := make(chan MessageEvent, 1)
	presence := make(chan PresenceEvent, 1)
	s.OnMessage(func(ev MessageEvent) { messages <- ev })
	s.OnPresence(func(ev PresenceEvent) { presence <- ev })

	require.NoError(t, s.Connect())
	defer s.Close()
	rs.recv(t) // join
	conn := rs.conn(t)

	require.NoError(t, conn.WriteJSON(protocol.Presence([]string{"u1", "u2"})))
	select {
	case ev := <-presence:
		assert.Equal(t, []string{"u1", "u2"}, ev.ActiveUsers)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence")
	}

	require.NoError(t, conn.WriteJSON(&protocol.Envelope{
		Type:     protocol.TypeMessage,
		Id:       "m1",
		SenderId: "u2",
		Content:  "hi",
	}))
	select {
	case ev := <-messages:
		assert.Equal(t, "m1", ev.Id)
		assert.Equal(t, "u2", ev.SenderId)
		assert.Equal(t, "hi", ev.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestHeartbeat(t *testing.T) {
	rs := newRelayStub(t)
	cfg := testConfig(rs.url)
	cfg.HeartbeatInterval = 20 * time.Millisecond
	s := NewSession(cfg, testutil.TestLogger(t))

	require.NoError(t, s.Connect())
	defer s.Close()
	rs.recv(t) // join
	conn := rs.conn(t)

	ping := rs.recv(t)
	assert.Equal(t, protocol.TypePing, ping.Type)

	require.NoError(t, conn.WriteJSON(protocol.Pong()))
	assert.Eventually(t, func() bool {
		return !s.LastSeen().IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	t.Run("close is idempotent", func(t *testing.T) {
		rs := newRelayStub(t)
		s := NewSession(testConfig(rs.url), testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("close during an in-flight dial wins", func(t *testing.T) {
		release := make(chan struct{})
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// hold the handshake until the test has closed the session
			<-release
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.ReadMessage()
			conn.Close()
		}))
		t.Cleanup(func() {
			srv.CloseClientConnections()
			srv.Close()
		})

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		s := NewSession(testConfig(url), testutil.TestLogger(t))

		connectDone := make(chan error, 1)
		go func() { connectDone <- s.Connect() }()

		assert.Eventually(t, func() bool {
			return s.State() == StateConnecting
		}, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, s.Close())
		assert.Equal(t, StateClosed, s.State())

		// let the handshake complete now; the session must stay closed
		close(release)
		assert.NoError(t, <-connectDone)
		assert.Never(t, func() bool {
			return s.State() != StateClosed
		}, 300*time.Millisecond, 20*time.Millisecond)
	})

	t.Run("close suppresses reconnect", func(t *testing.T) {
		rs := newRelayStub(t)
		cfg := testConfig(rs.url)
		cfg.ReconnectBaseDelay = 10 * time.Millisecond
		s := NewSession(cfg, testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		require.NoError(t, s.Close())

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), rs.dials.Load())
		assert.Equal(t, StateClosed, s.State())
	})
}

func TestReconnect(t *testing.T) {
	t.Run("rejoins the room after a dropped connection", func(t *testing.T) {
		rs := newRelayStub(t)
		cfg := testConfig(rs.url)
		cfg.ReconnectBaseDelay = 10 * time.Millisecond
		s := NewSession(cfg, testutil.TestLogger(t))

		require.NoError(t, s.Connect())
		defer s.Close()

		first := rs.recv(t)
		assert.Equal(t, protocol.TypeJoin, first.Type)

		// drop the connection server side
		rs.conn(t).Close()

		rejoin := rs.recv(t)
		assert.Equal(t, protocol.TypeJoin, rejoin.Type)
		assert.Equal(t, "evt_1", rejoin.EventId)
		assert.Equal(t, int32(2), rs.dials.Load())
		assert.Eventually(t, func() bool {
			return s.State() == StateOpen
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		rs := newRelayStub(t)
		cfg := testConfig(rs.url)
		cfg.ReconnectBaseDelay = 5 * time.Millisecond
		cfg.MaxReconnectAttempts = 2
		s := NewSession(cfg, testutil.TestLogger(t))

		sessionErrs := make(chan error, 16)
		s.OnError(func(err error) { sessionErrs <- err })

		require.NoError(t, s.Connect())
		rs.recv(t) // join

		// take the relay away entirely
		rs.srv.CloseClientConnections()
		rs.srv.Close()

		deadline := time.After(5 * time.Second)
		for {
			select {
			case err := <-sessionErrs:
				if errors.Is(err, NewError(ErrorReconnectExhausted, "")) {
					assert.Equal(t, StateClosed, s.State())
					return
				}
			case <-deadline:
				t.Fatal("never saw the reconnect exhausted error")
			}
		}
	})
}
