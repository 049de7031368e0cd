package client

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/myzymo/realtime/internal/protocol"
)

// CallState is the lifecycle of the session's single call slot.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallRinging
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

// IncomingCall describes a call-offer received while idle.
type IncomingCall struct {
	CallerId string
	CallType string
	Payload  json.RawMessage
}

// CallSession tracks at most one call per session. A second outgoing
// call while one is in flight is rejected, and a second incoming offer
// is answered with an automatic busy reject.
type CallSession struct {
	mu       sync.Mutex
	state    CallState
	peerId   string
	callType string

	send func(*protocol.Envelope) error
	log  *log.Logger

	onIncoming func(IncomingCall)
	onState    func(CallState)
	onSignal   func(SignalEvent)
}

func newCallSession(send func(*protocol.Envelope) error, logger *log.Logger) *CallSession {
	return &CallSession{
		state: CallIdle,
		send:  send,
		log:   logger,
	}
}

func (c *CallSession) OnIncomingCall(fn func(IncomingCall)) { c.onIncoming = fn }
func (c *CallSession) OnStateChange(fn func(CallState))     { c.onState = fn }
func (c *CallSession) OnSignal(fn func(SignalEvent))        { c.onSignal = fn }

func (c *CallSession) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer is the user id on the other side of the current call, empty when
// idle.
func (c *CallSession) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerId
}

// StartCall offers a call to recipientId. The call slot is claimed
// before any network write, so a double tap or a racing inbound offer
// cannot also observe the idle state.
func (c *CallSession) StartCall(callType, recipientId string, payload json.RawMessage) error {
	if recipientId == "" {
		return NewError(ErrorInvalidConfig, "empty recipient id")
	}

	c.mu.Lock()
	if c.state != CallIdle {
		c.mu.Unlock()
		return NewError(ErrorInvalidState, "call already in progress")
	}
	c.state = CallCalling
	c.peerId = recipientId
	c.callType = callType
	c.mu.Unlock()

	c.fireState(CallCalling)

	err := c.send(&protocol.Envelope{
		Type:        protocol.TypeCallOffer,
		RecipientId: recipientId,
		CallType:    callType,
		Payload:     payload,
	})
	if err != nil {
		c.reset()
		return err
	}
	return nil
}

// AnswerCall accepts the ringing call with the local SDP answer.
func (c *CallSession) AnswerCall(payload json.RawMessage) error {
	c.mu.Lock()
	if c.state != CallRinging {
		c.mu.Unlock()
		return NewError(ErrorInvalidState, "no ringing call to answer")
	}
	c.state = CallActive
	peer := c.peerId
	c.mu.Unlock()

	c.fireState(CallActive)

	err := c.send(&protocol.Envelope{
		Type:        protocol.TypeCallAnswer,
		RecipientId: peer,
		Payload:     payload,
	})
	if err != nil {
		c.reset()
		return err
	}
	return nil
}

// RejectCall declines the ringing call.
func (c *CallSession) RejectCall() error {
	c.mu.Lock()
	if c.state != CallRinging {
		c.mu.Unlock()
		return NewError(ErrorInvalidState, "no ringing call to reject")
	}
	peer := c.peerId
	c.mu.Unlock()

	err := c.send(&protocol.Envelope{
		Type:        protocol.TypeCallReject,
		RecipientId: peer,
	})
	c.reset()
	return err
}

// EndCall hangs up the current call at any post-idle stage.
func (c *CallSession) EndCall() error {
	c.mu.Lock()
	if c.state == CallIdle {
		c.mu.Unlock()
		return NewError(ErrorInvalidState, "no call to end")
	}
	peer := c.peerId
	c.mu.Unlock()

	err := c.send(&protocol.Envelope{
		Type:        protocol.TypeCallEnd,
		RecipientId: peer,
	})
	c.reset()
	return err
}

// SendCandidate forwards a local ICE candidate to the call peer.
func (c *CallSession) SendCandidate(payload json.RawMessage) error {
	c.mu.Lock()
	if c.state == CallIdle {
		c.mu.Unlock()
		return NewError(ErrorInvalidState, "no call in progress")
	}
	peer := c.peerId
	c.mu.Unlock()

	return c.send(&protocol.Envelope{
		Type:        protocol.TypeICECandidate,
		RecipientId: peer,
		Payload:     payload,
	})
}

// handleSignal applies an inbound call-control envelope from the relay.
func (c *CallSession) handleSignal(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeCallOffer:
		c.handleOffer(env)
	case protocol.TypeCallAnswer:
		c.handleAnswer(env)
	case protocol.TypeICECandidate:
		c.handleCandidate(env)
	case protocol.TypeCallReject, protocol.TypeCallEnd:
		c.handleTeardown(env)
	}
}

func (c *CallSession) handleOffer(env *protocol.Envelope) {
	c.mu.Lock()
	if c.state != CallIdle {
		c.mu.Unlock()
		// busy: decline without disturbing the call in progress
		c.log.Printf("auto-rejecting offer from %s: call in progress", env.SenderId)
		c.send(&protocol.Envelope{
			Type:        protocol.TypeCallReject,
			RecipientId: env.SenderId,
		})
		return
	}
	c.state = CallRinging
	c.peerId = env.SenderId
	c.callType = env.CallType
	c.mu.Unlock()

	c.fireState(CallRinging)
	if c.onIncoming != nil {
		c.onIncoming(IncomingCall{
			CallerId: env.SenderId,
			CallType: env.CallType,
			Payload:  env.Payload,
		})
	}
}

func (c *CallSession) handleAnswer(env *protocol.Envelope) {
	c.mu.Lock()
	if c.state != CallCalling || env.SenderId != c.peerId {
		st := c.state
		c.mu.Unlock()
		c.log.Printf("ignoring answer from %s in state %s", env.SenderId, st)
		return
	}
	c.state = CallActive
	c.mu.Unlock()

	c.fireState(CallActive)
	c.fireSignal(env)
}

func (c *CallSession) handleCandidate(env *protocol.Envelope) {
	c.mu.Lock()
	if c.state == CallIdle || env.SenderId != c.peerId {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.fireSignal(env)
}

// handleTeardown tears down on a peer reject or end. The remote always
// wins: a hangup crossing a local answer on the wire still ends the
// call on both sides.
func (c *CallSession) handleTeardown(env *protocol.Envelope) {
	c.mu.Lock()
	if c.state == CallIdle || env.SenderId != c.peerId {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.fireSignal(env)
	c.reset()
}

// handleRelayError abandons a pending offer when the relay reports the
// recipient unreachable. Any other relay error, such as a failed message
// save, is unrelated to call setup and leaves the slot alone.
func (c *CallSession) handleRelayError(message string) {
	if message != protocol.RecipientUnavailable {
		return
	}

	c.mu.Lock()
	pending := c.state == CallCalling
	c.mu.Unlock()

	if pending {
		c.reset()
	}
}

func (c *CallSession) reset() {
	c.mu.Lock()
	changed := c.state != CallIdle
	c.state = CallIdle
	c.peerId = ""
	c.callType = ""
	c.mu.Unlock()

	if changed {
		c.fireState(CallIdle)
	}
}

func (c *CallSession) fireState(s CallState) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *CallSession) fireSignal(env *protocol.Envelope) {
	if c.onSignal != nil {
		c.onSignal(SignalEvent{
			Kind:     env.Type,
			SenderId: env.SenderId,
			CallType: env.CallType,
			Payload:  env.Payload,
		})
	}
}
