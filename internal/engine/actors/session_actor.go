package actors

import (
	"context"
	"log/slog"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/session"

	"github.com/asynkron/protoactor-go/actor"
)

// Message types for SessionActor
type (
	// InboundMsg carries a raw envelope read from the connection. A request
	// is answered with the identities bound once the event has run.
	InboundMsg struct {
		Envelope api.Envelope
	}

	// DisconnectMsg releases the connection's identities and stops the actor.
	DisconnectMsg struct{}
)

// SessionActor owns one connection. Its mailbox serialises that connection's
// events while sessions for other connections run concurrently.
type SessionActor struct {
	session *session.Session
	timeout time.Duration
	logger  *slog.Logger
}

func NewSessionActor(s *session.Session, timeout time.Duration, logger *slog.Logger) actor.Actor {
	return &SessionActor{
		session: s,
		timeout: timeout,
		logger:  logger.With("component", "session_actor", "conn", s.Conn().ID()),
	}
}

func (a *SessionActor) Receive(actx actor.Context) {
	switch msg := actx.Message().(type) {
	case *actor.Started:
		a.logger.Debug("session started")

	case *actor.Stopping:
		// The connection may have vanished without a disconnect event.
		a.session.Disconnect()

	case *InboundMsg:
		ctx, cancel := a.requestContext()
		defer cancel()
		err := a.session.Dispatch(ctx, msg.Envelope)
		respond(actx, a.session.Identities(), err)
		if api.CanonicalEvent(msg.Envelope.Event) == api.EventDisconnect {
			actx.Stop(actx.Self())
		}

	case *DisconnectMsg:
		removed := a.session.Disconnect()
		respond(actx, removed, nil)
		actx.Stop(actx.Self())
	}
}

func (a *SessionActor) requestContext() (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), a.timeout)
}

// respond answers only when the message came through a request; fire and
// forget events from the read pump have no one waiting.
func respond(actx actor.Context, result any, err error) {
	if actx.Sender() == nil {
		return
	}
	if err != nil {
		actx.Respond(err)
		return
	}
	actx.Respond(result)
}
