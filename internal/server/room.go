package server

import (
	"log"
	"slices"

	"github.com/myzymo/realtime/internal/protocol"
)

// Room is the set of live connections joined to one event's chat context.
// It is created lazily on first join and discarded when the last member
// leaves; nothing about it is persisted. All access happens on the relay
// run loop.
type Room struct {
	eventId string
	members map[*Client]struct{}
	log     *log.Logger
}

func newRoom(eventId string, log *log.Logger) *Room {
	return &Room{
		eventId: eventId,
		members: make(map[*Client]struct{}),
		log:     log,
	}
}

func (r *Room) addMember(c *Client) {
	r.members[c] = struct{}{}
}

func (r *Room) removeMember(c *Client) {
	delete(r.members, c)
}

func (r *Room) hasMember(c *Client) bool {
	_, ok := r.members[c]
	return ok
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

// activeUsers recomputes the live user id set from membership. The result
// is sorted and de-duplicated so two connections from one user count once.
func (r *Room) activeUsers() []string {
	ids := make([]string, 0, len(r.members))
	for c := range r.members {
		if !slices.Contains(ids, c.user.Id) {
			ids = append(ids, c.user.Id)
		}
	}
	slices.Sort(ids)

	return ids
}

// broadcast queues env to every member, the sender included, and returns
// the members whose send buffers rejected it. The caller decides how to
// prune; a single slow connection must not abort the fan-out.
func (r *Room) broadcast(env *protocol.Envelope) []*Client {
	var failed []*Client
	for c := range r.members {
		if !c.queueEnvelope(env) {
			failed = append(failed, c)
		}
	}

	return failed
}
