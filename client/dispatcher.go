package client

import (
	"github.com/myzymo/realtime/internal/protocol"
)

// Dispatcher routes server envelopes to registered callbacks. Register
// callbacks before Connect; they are invoked from the read loop.
type Dispatcher struct {
	onMessage  func(MessageEvent)
	onPresence func(PresenceEvent)
	onError    func(error)
}

func (d *Dispatcher) SetOnMessage(fn func(MessageEvent))   { d.onMessage = fn }
func (d *Dispatcher) SetOnPresence(fn func(PresenceEvent)) { d.onPresence = fn }
func (d *Dispatcher) SetOnError(fn func(error))            { d.onError = fn }

func (d *Dispatcher) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMessage:
		if d.onMessage == nil {
			return
		}
		ev := MessageEvent{
			Id:         env.Id,
			SenderId:   env.SenderId,
			SenderName: env.SenderName,
			Content:    env.Content,
			FileUrl:    env.FileUrl,
			FileName:   env.FileName,
			FileSize:   env.FileSize,
			FileType:   env.FileType,
		}
		if env.CreatedAt != nil {
			ev.CreatedAt = *env.CreatedAt
		}
		d.onMessage(ev)
	case protocol.TypePresence:
		if d.onPresence == nil {
			return
		}
		d.onPresence(PresenceEvent{ActiveUsers: env.ActiveUsers})
	case protocol.TypeError:
		d.fireError(NewError(ErrorServer, env.Message))
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
