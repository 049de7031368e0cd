package server

import (
	"encoding/json"
	"testing"

	"github.com/myzymo/realtime/internal/protocol"
	"github.com/myzymo/realtime/internal/stats"
	"github.com/myzymo/realtime/internal/store"
	"github.com/stretchr/testify/assert"
)

func Test_handleSignal(t *testing.T) {
	t.Run("forwards to every connection of the recipient", func(t *testing.T) {
		rs := newTestRelayServer(t, &store.MockMessageStore{}, &stats.MockStatsUpdater{})
		caller := newTestClient(t, rs, "u1", "alice")
		callee1 := newTestClient(t, rs, "u2", "bob")
		callee2 := newTestClient(t, rs, "u2", "bob")
		rs.addClient(caller)
		rs.addClient(callee1)
		rs.addClient(callee2)

		rs.handleSignal(caller, &protocol.Envelope{
			Type:        protocol.TypeCallOffer,
			RecipientId: "u2",
			CallType:    "audio",
			Payload:     json.RawMessage(`{"sdp":"v=0"}`),
		})

		for _, callee := range []*Client{callee1, callee2} {
			envs := drain(callee)
			assert.Len(t, envs, 1, "expected the signal on connection %s", callee.sid)
			env := envs[0]
			assert.Equal(t, protocol.TypeCallOffer, env.Type, "expected the offer type to be preserved")
			assert.Equal(t, "u1", env.SenderId, "expected the relay to stamp the sender")
			assert.Empty(t, env.RecipientId, "expected the recipient field to be stripped")
			assert.Equal(t, "audio", env.CallType, "expected the call type to be preserved")
			assert.JSONEq(t, `{"sdp":"v=0"}`, string(env.Payload), "expected the payload verbatim")
		}
		assert.Empty(t, drain(caller), "expected nothing echoed to the caller")
	})

	t.Run("delivery is independent of room membership", func(t *testing.T) {
		rs := newTestRelayServer(t, &store.MockMessageStore{}, &stats.MockStatsUpdater{})
		caller := newTestClient(t, rs, "u1", "alice")
		callee := newTestClient(t, rs, "u2", "bob")
		rs.addClient(caller)
		rs.addClient(callee)
		// caller is in a room, callee is not
		rs.handleJoin(caller, &protocol.Envelope{Type: protocol.TypeJoin, EventId: "E1"})
		drain(caller)

		rs.handleSignal(caller, &protocol.Envelope{Type: protocol.TypeCallEnd, RecipientId: "u2"})

		envs := drain(callee)
		assert.Len(t, envs, 1, "expected the hang-up to reach the callee")
		assert.Equal(t, protocol.TypeCallEnd, envs[0].Type, "expected a call-end envelope")
	})

	t.Run("unreachable recipient bounces an error to the sender", func(t *testing.T) {
		rs := newTestRelayServer(t, &store.MockMessageStore{}, &stats.MockStatsUpdater{})
		caller := newTestClient(t, rs, "u1", "alice")
		rs.addClient(caller)

		rs.handleSignal(caller, &protocol.Envelope{Type: protocol.TypeCallOffer, RecipientId: "u9"})

		envs := drain(caller)
		assert.Len(t, envs, 1, "expected a single envelope back")
		assert.Equal(t, protocol.TypeError, envs[0].Type, "expected an error envelope")
		assert.Equal(t, "recipient unavailable", envs[0].Message, "expected the unreachable recipient error")
	})

	t.Run("missing recipient is a protocol error", func(t *testing.T) {
		rs := newTestRelayServer(t, &store.MockMessageStore{}, &stats.MockStatsUpdater{})
		caller := newTestClient(t, rs, "u1", "alice")

		rs.handleSignal(caller, &protocol.Envelope{Type: protocol.TypeICECandidate})

		envs := drain(caller)
		assert.Len(t, envs, 1, "expected a single envelope back")
		assert.Equal(t, protocol.TypeError, envs[0].Type, "expected an error envelope")
	})
}
