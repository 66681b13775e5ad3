// Package database holds the durable stores for messages and users.
package database

import (
	"context"
	"sync"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"
)

// MessageStore persists direct messages. Status changes go through
// compare-and-swap style methods so concurrent transitions can never regress
// a message.
type MessageStore interface {
	// InsertMessage assigns the ID and timestamps, defaults the status to
	// sent, and persists the message.
	InsertMessage(ctx context.Context, msg *models.Message) error

	// GetMessage returns a NOT_FOUND AppError for unknown ids.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// FindConversation returns every message exchanged between a and b in
	// either direction, oldest first.
	FindConversation(ctx context.Context, a, b string) ([]*models.Message, error)

	// TransitionStatus moves one message from -> to only if it is currently
	// in from. It reports whether the record changed.
	TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error)

	// TransitionConversation moves every sender->receiver message currently
	// in from to to, returning the ids that changed.
	TransitionConversation(ctx context.Context, sender, receiver string, from, to models.MessageStatus) ([]string, error)
}

// UserStore persists registered identities.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsersExcept(ctx context.Context, username string) ([]*models.User, error)
}

// Store is a complete backend.
type Store interface {
	MessageStore
	UserStore
	Close(ctx context.Context) error
}

// checkTransition rejects status changes that skip or reverse a step.
func checkTransition(from, to models.MessageStatus) error {
	if !from.CanAdvanceTo(to) {
		return utils.NewValidationError("invalid status transition " + string(from) + " -> " + string(to))
	}
	return nil
}

// stamper hands out creation timestamps that strictly increase within a
// process, truncated to the millisecond precision every backend can keep.
// Conversation ordering relies on createdAt alone.
type stamper struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newStamper() *stamper {
	return &stamper{now: time.Now}
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) && !s.last.IsZero() {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}
