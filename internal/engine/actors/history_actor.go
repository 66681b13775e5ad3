package actors

import (
	"context"
	"log/slog"
	"time"

	"gator-chat/internal/database"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// GetConversationMsg asks for every message between two identities, oldest first.
type GetConversationMsg struct {
	UserA string
	UserB string
}

// HistoryActor serves message history reads.
type HistoryActor struct {
	store   database.MessageStore
	timeout time.Duration
	metrics *utils.MetricsCollector
	logger  *slog.Logger
}

func NewHistoryActor(store database.MessageStore, timeout time.Duration, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &HistoryActor{
		store:   store,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With("component", "history_actor"),
	}
}

func (a *HistoryActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *GetConversationMsg:
		a.handleGetConversation(context, msg)
	}
}

func (a *HistoryActor) handleGetConversation(actx actor.Context, msg *GetConversationMsg) {
	startTime := time.Now()
	defer func() { a.metrics.AddOperationLatency("get_conversation", time.Since(startTime)) }()

	if msg.UserA == "" || msg.UserB == "" {
		actx.Respond(utils.NewValidationError("sender and receiver are required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	messages, err := a.store.FindConversation(ctx, msg.UserA, msg.UserB)
	if err != nil {
		a.logger.Error("conversation lookup failed", "a", msg.UserA, "b", msg.UserB, "error", err)
		actx.Respond(err)
		return
	}
	actx.Respond(messages)
}
