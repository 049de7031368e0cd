package server

import (
	"github.com/myzymo/realtime/internal/protocol"
	"github.com/myzymo/realtime/internal/stats"
)

// handleSignal couriers a call-control envelope to the recipient's live
// connections. Delivery is keyed by user id and is independent of room
// membership. The payload is never inspected; the two endpoints validate
// call type and concurrency themselves.
func (rs *RelayServer) handleSignal(c *Client, env *protocol.Envelope) {
	if env.RecipientId == "" {
		c.queueEnvelope(protocol.Errorf("call signal requires a recipient"))
		return
	}

	conns := rs.users[env.RecipientId]
	if len(conns) == 0 {
		c.queueEnvelope(protocol.Errorf(protocol.RecipientUnavailable))
		return
	}

	out := &protocol.Envelope{
		Type:     env.Type,
		SenderId: c.user.Id,
		CallType: env.CallType,
		Payload:  env.Payload,
	}

	for conn := range conns {
		if !conn.queueEnvelope(out) {
			rs.log.Printf("dropping %s signal for saturated connection %s", env.Type, conn.sid)
		}
	}

	rs.stats.Incr(stats.CallSignalsRelayed)
}
