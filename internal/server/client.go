package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/myzymo/realtime/internal/protocol"
	"github.com/myzymo/realtime/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufSize    = 256
)

// Client is the server side of one websocket connection. The relay run
// loop owns the room field; the pumps never touch it.
type Client struct {
	sid      string
	conn     *websocket.Conn
	relay    *RelayServer
	log      *log.Logger
	user     types.User
	send     chan *protocol.Envelope
	room     *Room
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, rs *RelayServer, l *log.Logger) *Client {
	sid, err := shortid.Generate()
	if err != nil {
		sid = "conn-" + user.Id
	}

	return &Client{
		sid:   sid,
		conn:  conn,
		relay: rs,
		log:   l,
		user:  user,
		send:  make(chan *protocol.Envelope, sendBufSize),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for %s", c.sid)
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(env)
			if err != nil {
				c.log.Println("failed to serialize envelope:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for %s", c.sid)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Printf("error parsing envelope from %s: %v", c.sid, err)
			c.queueEnvelope(protocol.Errorf("invalid message format"))
			continue
		}

		c.forward(env)
	}
}

// forward hands an envelope to the relay run loop. One connection's
// backpressure is reported to that connection only.
func (c *Client) forward(env *protocol.Envelope) {
	select {
	case c.relay.inboundChan <- &inboundReq{client: c, env: env}:
	default:
		c.log.Printf("inbound channel full, dropping %s envelope from %s", env.Type, c.sid)
		c.queueEnvelope(protocol.Errorf("service unavailable"))
	}
}

func (c *Client) queueEnvelope(env *protocol.Envelope) bool {
	select {
	case c.send <- env:
	default:
		c.log.Printf("send buffer full for %s", c.sid)
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	select {
	case c.relay.deregisterChan <- c:
	case <-c.relay.done:
	}
	c.stopClient()
}
