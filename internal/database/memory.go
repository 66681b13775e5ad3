package database

import (
	"context"
	"sort"
	"sync"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryStore is a process-local Store used by tests and the simulator's
// self-contained mode. Records are copied on the way in and out so callers
// never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	order    []string
	users    map[string]*models.User

	clock   *stamper
	failure error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		users:    make(map[string]*models.User),
		clock:    newStamper(),
	}
}

// FailWith makes every later operation return err wrapped as a store error,
// simulating an unreachable backend. A nil err restores normal service.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemoryStore) fail(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return utils.NewStoreError(operation, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return utils.NewStoreError(operation, s.failure)
	}
	return nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.fail(ctx, "insert message"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.next()
	msg.ID = uuid.NewString()
	msg.Status = models.StatusSent
	msg.CreatedAt = now
	msg.UpdatedAt = now

	stored := *msg
	s.messages[msg.ID] = &stored
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := s.fail(ctx, "get message"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrNotFound, "message not found", nil)
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) FindConversation(ctx context.Context, a, b string) ([]*models.Message, error) {
	if err := s.fail(ctx, "find conversation"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]*models.Message, 0)
	for _, id := range s.order {
		if msg := s.messages[id]; msg.InConversation(a, b) {
			cp := *msg
			messages = append(messages, &cp)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	if err := s.fail(ctx, "transition message"); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionLocked(id, from, to), nil
}

func (s *MemoryStore) transitionLocked(id string, from, to models.MessageStatus) bool {
	msg, ok := s.messages[id]
	if !ok || msg.Status != from {
		return false
	}
	msg.Status = to
	msg.UpdatedAt = s.clock.next()
	return true
}

func (s *MemoryStore) TransitionConversation(ctx context.Context, sender, receiver string, from, to models.MessageStatus) ([]string, error) {
	if err := checkTransition(from, to); err != nil {
		return nil, err
	}
	if err := s.fail(ctx, "transition conversation"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := lo.Filter(s.order, func(id string, _ int) bool {
		msg := s.messages[id]
		return msg.Sender == sender && msg.Receiver == receiver
	})
	return lo.Filter(candidates, func(id string, _ int) bool {
		return s.transitionLocked(id, from, to)
	}), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.fail(ctx, "insert user"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return utils.NewAppError(utils.ErrUserAlreadyExists, "User already exists. Please Login", nil)
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.clock.next()
	}
	cp := *user
	s.users[user.Username] = &cp
	return nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := s.fail(ctx, "get user"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, utils.NewUserNotFoundError(username)
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryStore) ListUsersExcept(ctx context.Context, username string) ([]*models.User, error) {
	if err := s.fail(ctx, "list users"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for name, user := range s.users {
		if name == username {
			continue
		}
		cp := *user
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return ctx.Err()
}
