package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/database"
	"gator-chat/internal/logging"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"
	"gator-chat/internal/router"
	"gator-chat/internal/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	name    string
	payload any
}

type recordingConn struct {
	id     string
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, sentEvent{name, payload})
	return nil
}

func (c *recordingConn) named(name string) []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentEvent
	for _, e := range c.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *database.MemoryStore
	registry *presence.Registry
	metrics  *utils.MetricsCollector
	machine  *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	metrics := utils.NewMetricsCollector()
	registry := presence.NewRegistry(metrics, logging.Discard())
	r := router.New(registry, logging.Discard())
	return &fixture{
		store:    store,
		registry: registry,
		metrics:  metrics,
		machine:  NewMachine(store, r, time.Second, metrics, logging.Discard()),
	}
}

func (f *fixture) online(identity string) *recordingConn {
	conn := &recordingConn{id: identity + "-conn"}
	f.registry.Register(identity, conn)
	return conn
}

func (f *fixture) status(t *testing.T, id string) models.MessageStatus {
	t.Helper()
	msg, err := f.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg.Status
}

// deliver submits a message and attempts delivery, asserting both succeed.
func (f *fixture) deliver(t *testing.T, sender, receiver, body string) *models.Message {
	t.Helper()
	msg, err := f.machine.Submit(context.Background(), sender, receiver, body)
	require.NoError(t, err)
	_, err = f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	return msg
}

func TestSubmitPersistsSent(t *testing.T) {
	f := newFixture(t)

	msg, err := f.machine.Submit(context.Background(), "alice", "bob", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, models.StatusSent, f.status(t, msg.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transitions().WithLabelValues("sent")))
}

func TestSubmitRejectsEmptyFields(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		sender, receiver, body string
		field                  string
	}{
		{"", "bob", "hi", "sender"},
		{"alice", "", "hi", "receiver"},
		{"alice", "bob", "", "message"},
	}
	for _, tc := range cases {
		_, err := f.machine.Submit(context.Background(), tc.sender, tc.receiver, tc.body)
		require.Error(t, err)
		assert.True(t, utils.IsErrorCode(err, utils.ErrValidation))
		assert.Contains(t, err.Error(), tc.field)
	}

	conversation, err := f.store.FindConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, conversation)
}

func TestSubmitStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(errors.New("connection refused"))

	_, err := f.machine.Submit(context.Background(), "alice", "bob", "hi")
	assert.True(t, utils.IsErrorCode(err, utils.ErrStore))
}

func TestAttemptDeliveryOnline(t *testing.T) {
	f := newFixture(t)
	bob := f.online("bob")

	msg, err := f.machine.Submit(context.Background(), "alice", "bob", "hi")
	require.NoError(t, err)

	outcome, err := f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.Equal(t, models.StatusDelivered, f.status(t, msg.ID))

	received := bob.named(api.EventReceiveMessage)
	require.Len(t, received, 1)
	payload := received[0].payload.(*models.Message)
	assert.Equal(t, msg.ID, payload.ID)
	assert.Equal(t, "hi", payload.Body)
	assert.Equal(t, models.StatusDelivered, payload.Status)
}

func TestAttemptDeliveryOffline(t *testing.T) {
	f := newFixture(t)

	msg, err := f.machine.Submit(context.Background(), "alice", "bob", "hi")
	require.NoError(t, err)

	outcome, err := f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, NotDelivered, outcome)
	assert.Equal(t, models.StatusSent, f.status(t, msg.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries().WithLabelValues("not_delivered")))
}

func TestAttemptDeliveryRejectedByConnection(t *testing.T) {
	f := newFixture(t)
	bob := f.online("bob")
	bob.err = errors.New("send buffer full")

	msg, err := f.machine.Submit(context.Background(), "alice", "bob", "hi")
	require.NoError(t, err)

	outcome, err := f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, NotDelivered, outcome)
	assert.Equal(t, models.StatusSent, f.status(t, msg.ID))
}

// flakyStore fails status transitions while leaving reads and inserts alone.
type flakyStore struct {
	*database.MemoryStore
	failTransitions bool
	partial         int
}

func (s *flakyStore) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	if s.failTransitions {
		return false, utils.NewStoreError("transition message", context.DeadlineExceeded)
	}
	return s.MemoryStore.TransitionStatus(ctx, id, from, to)
}

func (s *flakyStore) TransitionConversation(ctx context.Context, sender, receiver string, from, to models.MessageStatus) ([]string, error) {
	if s.partial == 0 {
		return s.MemoryStore.TransitionConversation(ctx, sender, receiver, from, to)
	}
	conversation, _ := s.MemoryStore.FindConversation(ctx, sender, receiver)
	var affected []string
	for _, msg := range conversation {
		if len(affected) == s.partial {
			return affected, utils.NewStoreError("transition conversation", errors.New("connection reset"))
		}
		if msg.Sender != sender {
			continue
		}
		if ok, _ := s.MemoryStore.TransitionStatus(ctx, msg.ID, from, to); ok {
			affected = append(affected, msg.ID)
		}
	}
	return affected, nil
}

func TestAttemptDeliveryStoreFailureAfterDispatch(t *testing.T) {
	mem := database.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, failTransitions: true}
	registry := presence.NewRegistry(nil, logging.Discard())
	bob := &recordingConn{id: "bob-conn"}
	registry.Register("bob", bob)
	machine := NewMachine(store, router.New(registry, logging.Discard()), time.Second, nil, logging.Discard())

	msg, err := machine.Submit(context.Background(), "alice", "bob", "hi")
	require.NoError(t, err)

	outcome, err := machine.AttemptDelivery(context.Background(), msg)
	assert.Equal(t, NotDelivered, outcome)
	assert.True(t, utils.IsErrorCode(err, utils.ErrStore))

	// The receiver already has it; the record stays sent for a later history fetch.
	assert.Len(t, bob.named(api.EventReceiveMessage), 1)
	stored, err := mem.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, stored.Status)
}

func TestAttemptDeliveryIgnoresAdvancedMessage(t *testing.T) {
	f := newFixture(t)
	bob := f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	outcome, err := f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, NotDelivered, outcome)
	assert.Len(t, bob.named(api.EventReceiveMessage), 1)
}

func TestAcknowledgeReadNotifiesSender(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	result, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, result.IDs)
	assert.True(t, result.Notified)
	assert.Equal(t, models.StatusRead, f.status(t, msg.ID))

	updates := alice.named(api.EventReadUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, api.ReadUpdate{IDs: []string{msg.ID}, Status: "read"}, updates[0].payload)
}

func TestAcknowledgeReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	_, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
	require.NoError(t, err)

	result, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, result.IDs)
	assert.False(t, result.Notified)
	assert.Len(t, alice.named(api.EventReadUpdate), 1)
	assert.Equal(t, models.StatusRead, f.status(t, msg.ID))
}

func TestAcknowledgeReadBeforeDelivered(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")

	// bob is offline so the message stays sent.
	msg := f.deliver(t, "alice", "bob", "hi")

	result, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, result.IDs)
	assert.Equal(t, models.StatusSent, f.status(t, msg.ID))
	assert.Empty(t, alice.named(api.EventReadUpdate))
}

func TestAcknowledgeReadByWrongReader(t *testing.T) {
	f := newFixture(t)
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	result, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "mallory")
	require.NoError(t, err)
	assert.Empty(t, result.IDs)
	assert.Equal(t, models.StatusDelivered, f.status(t, msg.ID))
}

func TestAcknowledgeReadUnknownMessage(t *testing.T) {
	f := newFixture(t)
	result, err := f.machine.AcknowledgeRead(context.Background(), "does-not-exist", "bob")
	require.NoError(t, err)
	assert.Empty(t, result.IDs)
}

func TestAcknowledgeConversationSkipsSent(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")
	bob := f.online("bob")
	first := f.deliver(t, "alice", "bob", "one")
	second := f.deliver(t, "alice", "bob", "two")

	f.registry.Unregister(bob)
	pending := f.deliver(t, "alice", "bob", "three")
	reverse := f.deliver(t, "bob", "alice", "reply")
	f.registry.Register("bob", bob)

	result, err := f.machine.AcknowledgeConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, result.IDs)
	assert.True(t, result.Notified)

	assert.Equal(t, models.StatusSent, f.status(t, pending.ID))
	assert.Equal(t, models.StatusDelivered, f.status(t, reverse.ID))

	updates := alice.named(api.EventReadUpdate)
	require.Len(t, updates, 1)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, updates[0].payload.(api.ReadUpdate).IDs)

	// Nothing left to move: no notification, no error.
	result, err = f.machine.AcknowledgeConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, result.IDs)
	assert.Len(t, alice.named(api.EventReadUpdate), 1)
}

func TestAcknowledgeConversationSenderOffline(t *testing.T) {
	f := newFixture(t)
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	result, err := f.machine.AcknowledgeConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, result.IDs)
	assert.False(t, result.Notified)
	assert.Equal(t, models.StatusRead, f.status(t, msg.ID))
}

func TestAcknowledgeConversationPartialFailure(t *testing.T) {
	mem := database.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem}
	registry := presence.NewRegistry(nil, logging.Discard())
	alice := &recordingConn{id: "alice-conn"}
	bob := &recordingConn{id: "bob-conn"}
	registry.Register("alice", alice)
	registry.Register("bob", bob)
	machine := NewMachine(store, router.New(registry, logging.Discard()), time.Second, nil, logging.Discard())

	for _, body := range []string{"one", "two", "three"} {
		msg, err := machine.Submit(context.Background(), "alice", "bob", body)
		require.NoError(t, err)
		_, err = machine.AttemptDelivery(context.Background(), msg)
		require.NoError(t, err)
	}

	store.partial = 2
	result, err := machine.AcknowledgeConversation(context.Background(), "alice", "bob")
	assert.True(t, utils.IsErrorCode(err, utils.ErrStore))
	assert.Len(t, result.IDs, 2)

	updates := alice.named(api.EventReadUpdate)
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].payload.(api.ReadUpdate).IDs, 2)
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	f.online("alice")
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	_, err := f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
	require.NoError(t, err)

	changed, err := f.store.TransitionStatus(context.Background(), msg.ID, models.StatusSent, models.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)

	stale := msg.WithStatus(models.StatusSent)
	_, err = f.machine.AttemptDelivery(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, f.status(t, msg.ID))
}

func TestConcurrentReadAcksMoveOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")
	f.online("bob")
	msg := f.deliver(t, "alice", "bob", "hi")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.machine.AcknowledgeRead(context.Background(), msg.ID, "bob")
		}()
	}
	wg.Wait()

	assert.Len(t, alice.named(api.EventReadUpdate), 1)
	assert.Equal(t, models.StatusRead, f.status(t, msg.ID))
}

// Alice messages bob while he is online, bob reads it, and alice sees the
// read update.
func TestAliceAndBobConversation(t *testing.T) {
	f := newFixture(t)
	alice := f.online("alice")
	bob := f.online("bob")

	msg, err := f.machine.Submit(context.Background(), "alice", "bob", "hello bob")
	require.NoError(t, err)
	outcome, err := f.machine.AttemptDelivery(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, Delivered, outcome)
	require.Len(t, bob.named(api.EventReceiveMessage), 1)

	result, err := f.machine.AcknowledgeConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, []string{msg.ID}, result.IDs)

	updates := alice.named(api.EventReadUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{msg.ID}, updates[0].payload.(api.ReadUpdate).IDs)
	assert.Empty(t, alice.named(api.EventReceiveMessage))
	assert.Empty(t, bob.named(api.EventReadUpdate))
}
