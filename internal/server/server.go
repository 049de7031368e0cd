package server

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/myzymo/realtime/internal/protocol"
	"github.com/myzymo/realtime/internal/stats"
	"github.com/myzymo/realtime/internal/store"
	"github.com/myzymo/realtime/internal/types"
)

type inboundReq struct {
	client *Client
	env    *protocol.Envelope
}

type stopReq struct {
	done chan struct{}
}

// RelayServer fans envelopes out to room members and couriers call
// signals between users. A single run loop owns all membership state, so
// a mutation is never interleaved with a fan-out: a pruned connection can
// never receive a later broadcast.
type RelayServer struct {
	log   *log.Logger
	store store.MessageStore
	stats stats.StatsProvider

	RegisterChan   chan *Client
	deregisterChan chan *Client
	inboundChan    chan *inboundReq
	stop           chan stopReq
	done           chan struct{}

	rooms   map[string]*Room
	users   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

func NewRelayServer(logger *log.Logger, ms store.MessageStore, su stats.StatsProvider) (*RelayServer, error) {
	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.ActiveRooms)
	su.RegisterMetric(stats.MessagesRelayed)
	su.RegisterMetric(stats.CallSignalsRelayed)

	return &RelayServer{
		log:            logger,
		store:          ms,
		stats:          su,
		RegisterChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		inboundChan:    make(chan *inboundReq, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		rooms:          make(map[string]*Room),
		users:          make(map[string]map[*Client]struct{}),
		clients:        make(map[*Client]struct{}),
	}, nil
}

// Run is the relay's event loop. When it returns, the done channel is
// closed so read pumps deregistering late do not block forever.
func (rs *RelayServer) Run() {
	defer close(rs.done)

	for {
		select {
		case c := <-rs.RegisterChan:
			rs.addClient(c)
		case c := <-rs.deregisterChan:
			rs.removeClient(c)
		case req := <-rs.inboundChan:
			rs.dispatch(req.client, req.env)
		case req := <-rs.stop:
			rs.log.Println("stopping relay, closing connections")
			for c := range rs.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

func (rs *RelayServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case rs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rs *RelayServer) addClient(c *Client) {
	rs.log.Printf("adding connection %s for user %q", c.sid, c.user.Id)
	rs.clients[c] = struct{}{}
	if rs.users[c.user.Id] == nil {
		rs.users[c.user.Id] = make(map[*Client]struct{})
	}
	rs.users[c.user.Id][c] = struct{}{}
	rs.stats.Incr(stats.ActiveConnections)
}

func (rs *RelayServer) removeClient(c *Client) {
	if _, ok := rs.clients[c]; !ok {
		return
	}

	rs.log.Printf("removing connection %s for user %q", c.sid, c.user.Id)
	delete(rs.clients, c)

	if conns, ok := rs.users[c.user.Id]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(rs.users, c.user.Id)
		}
	}

	rs.leaveRoom(c)
	rs.stats.Decr(stats.ActiveConnections)
}

// dispatch routes one inbound envelope. Every envelope kind a client may
// send is handled here; anything else is a protocol error back to the
// sender only.
func (rs *RelayServer) dispatch(c *Client, env *protocol.Envelope) {
	switch {
	case env.Type == protocol.TypeJoin:
		rs.handleJoin(c, env)
	case env.Type == protocol.TypeMessage:
		rs.handleMessage(c, env)
	case env.Type == protocol.TypePing:
		c.queueEnvelope(protocol.Pong())
	case env.Type.IsCallSignal():
		rs.handleSignal(c, env)
	default:
		c.queueEnvelope(protocol.Errorf("unsupported envelope type %q", env.Type))
	}
}

func (rs *RelayServer) handleJoin(c *Client, env *protocol.Envelope) {
	if env.EventId == "" {
		c.queueEnvelope(protocol.Errorf("join requires an event id"))
		return
	}

	if c.room != nil {
		if c.room.eventId == env.EventId {
			// already joined, just refresh this client's view
			c.queueEnvelope(protocol.Presence(c.room.activeUsers()))
			return
		}
		rs.leaveRoom(c)
	}

	room, ok := rs.rooms[env.EventId]
	if !ok {
		rs.log.Printf("creating room %q", env.EventId)
		room = newRoom(env.EventId, rs.log)
		rs.rooms[env.EventId] = room
		rs.stats.Incr(stats.ActiveRooms)
	}

	room.addMember(c)
	c.room = room

	rs.broadcast(room, protocol.Presence(room.activeUsers()))
}

// leaveRoom removes c from its room, if any, and tells the remaining
// members. Empty rooms are discarded immediately; presence lives only as
// long as its sockets.
func (rs *RelayServer) leaveRoom(c *Client) {
	room := c.room
	if room == nil {
		return
	}

	room.removeMember(c)
	c.room = nil

	if room.empty() {
		rs.log.Printf("removing empty room %q", room.eventId)
		delete(rs.rooms, room.eventId)
		rs.stats.Decr(stats.ActiveRooms)
		return
	}

	rs.broadcast(room, protocol.Presence(room.activeUsers()))
}

func (rs *RelayServer) handleMessage(c *Client, env *protocol.Envelope) {
	room := c.room
	if room == nil {
		c.queueEnvelope(protocol.Errorf("join a room before sending messages"))
		return
	}

	if !env.HasBody() {
		c.queueEnvelope(protocol.Errorf("message requires content or a file"))
		return
	}

	msg := types.Message{
		Id:         uuid.NewString(),
		EventId:    room.eventId,
		SenderId:   c.user.Id,
		SenderName: c.user.Name,
		Content:    env.Content,
		FileUrl:    env.FileUrl,
		FileName:   env.FileName,
		FileSize:   env.FileSize,
		FileType:   env.FileType,
		CreatedAt:  Now(),
	}

	if err := rs.store.SaveMessage(msg); err != nil {
		rs.log.Println("error saving message:", err)
		c.queueEnvelope(protocol.Errorf("failed to save message"))
		return
	}

	rs.stats.Incr(stats.MessagesRelayed)

	// the sender is echoed the stored copy too, so every client renders
	// the same server-assigned id and timestamp
	rs.broadcast(room, &protocol.Envelope{
		Type:       protocol.TypeMessage,
		Id:         msg.Id,
		SenderId:   msg.SenderId,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		FileUrl:    msg.FileUrl,
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		FileType:   msg.FileType,
		CreatedAt:  &msg.CreatedAt,
	})
}

// broadcast fans env out to room and prunes members whose send buffers
// are full, treating each as an implicit leave. Pruning re-broadcasts
// presence; membership strictly shrinks, so this settles.
func (rs *RelayServer) broadcast(room *Room, env *protocol.Envelope) {
	for _, failed := range room.broadcast(env) {
		rs.log.Printf("pruning unresponsive connection %s (user %q) from room %q", failed.sid, failed.user.Id, room.eventId)
		failed.stopClient()
		rs.leaveRoom(failed)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
