// Package router dispatches events to the single connection bound to an
// identity. It never broadcasts.
package router

import (
	"log/slog"

	"gator-chat/internal/presence"
)

// Resolver looks up the connection for an identity.
type Resolver interface {
	Resolve(identity string) (presence.Conn, bool)
}

type Router struct {
	resolver Resolver
	logger   *slog.Logger
}

func New(resolver Resolver, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{resolver: resolver, logger: logger.With("component", "router")}
}

// Notify dispatches event to identity's connection. It returns false when the
// identity is offline or the connection refused the event; neither is an error.
func (r *Router) Notify(identity, event string, payload any) bool {
	conn, ok := r.resolver.Resolve(identity)
	if !ok {
		r.logger.Debug("recipient offline", "identity", identity, "event", event)
		return false
	}
	if err := conn.Send(event, payload); err != nil {
		r.logger.Debug("dispatch rejected", "identity", identity, "event", event, "conn", conn.ID(), "error", err)
		return false
	}
	return true
}
