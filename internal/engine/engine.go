// Package engine wires the actor system: one user actor for authentication,
// one history actor for reads, and one session actor per live connection.
package engine

import (
	"log/slog"
	"time"

	"gator-chat/internal/database"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/session"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Options tune the engine's actors.
type Options struct {
	StoreTimeout   time.Duration
	RequestTimeout time.Duration
	BcryptCost     int
}

// Engine coordinates communication between actors
type Engine struct {
	system       *actor.ActorSystem
	userActor    *actor.PID
	historyActor *actor.PID
	sessions     *session.Handler
	opts         Options
	logger       *slog.Logger
}

func NewEngine(system *actor.ActorSystem, store database.Store, tokens actors.TokenIssuer, sessions *session.Handler, opts Options, metrics *utils.MetricsCollector, logger *slog.Logger) *Engine {
	root := system.Root

	userProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewUserActor(store, tokens, opts.StoreTimeout, opts.BcryptCost, metrics, logger)
	})
	userPID := root.Spawn(userProps)

	historyProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewHistoryActor(store, opts.StoreTimeout, metrics, logger)
	})
	historyPID := root.Spawn(historyProps)

	return &Engine{
		system:       system,
		userActor:    userPID,
		historyActor: historyPID,
		sessions:     sessions,
		opts:         opts,
		logger:       logger.With("component", "engine"),
	}
}

// GetUserActor returns the PID of the user actor
func (e *Engine) GetUserActor() *actor.PID {
	return e.userActor
}

// GetHistoryActor returns the PID of the history actor
func (e *Engine) GetHistoryActor() *actor.PID {
	return e.historyActor
}

// Root is the root context used to talk to the engine's actors.
func (e *Engine) Root() *actor.RootContext {
	return e.system.Root
}

// SpawnSession starts the actor owning conn. authUser is the username proven
// by the connection's token, or empty.
func (e *Engine) SpawnSession(conn session.Connection, authUser string) *actor.PID {
	s := e.sessions.Open(conn, authUser)
	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewSessionActor(s, e.opts.RequestTimeout, e.logger)
	})
	pid := e.system.Root.Spawn(props)
	e.logger.Debug("session spawned", "conn", conn.ID(), "pid", pid.Id)
	return pid
}

// Shutdown stops the long-lived actors.
func (e *Engine) Shutdown() {
	for _, pid := range []*actor.PID{e.userActor, e.historyActor} {
		if err := e.system.Root.StopFuture(pid).Wait(); err != nil {
			e.logger.Warn("actor stop failed", "pid", pid.Id, "error", err)
		}
	}
	e.system.Shutdown()
}
