package actors

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/database"
	"gator-chat/internal/delivery"
	"gator-chat/internal/logging"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"
	"gator-chat/internal/router"
	"gator-chat/internal/session"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const requestTimeout = 5 * time.Second

type staticTokens struct{}

func (staticTokens) GenerateToken(username string) (string, error) { return "token-" + username, nil }

func request(t *testing.T, system *actor.ActorSystem, pid *actor.PID, msg any) any {
	t.Helper()
	result, err := system.Root.RequestFuture(pid, msg, requestTimeout).Result()
	require.NoError(t, err)
	return result
}

func TestUserAuthentication(t *testing.T) {
	system := actor.NewActorSystem()
	store := database.NewMemoryStore()
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewUserActor(store, staticTokens{}, time.Second, bcrypt.MinCost, utils.NewMetricsCollector(), logging.Discard())
	}))

	// Step 1: Register a new user
	regResult := request(t, system, pid, &RegisterUserMsg{Username: "testuser", Password: "password123"})
	registered, ok := regResult.(*api.AuthResponse)
	require.True(t, ok, "unexpected result %T", regResult)
	assert.Equal(t, "testuser", registered.Username)
	assert.Equal(t, "token-testuser", registered.Token)

	stored, err := store.GetUserByUsername(context.Background(), "testuser")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.HashedPassword)

	// Step 2: Registering again is rejected
	dupResult := request(t, system, pid, &RegisterUserMsg{Username: "testuser", Password: "other"})
	assert.True(t, utils.IsErrorCode(dupResult.(error), utils.ErrUserAlreadyExists))

	// Step 3: Try logging in
	loginResult := request(t, system, pid, &LoginMsg{Username: "testuser", Password: "password123"})
	loggedIn, ok := loginResult.(*api.AuthResponse)
	require.True(t, ok, "unexpected result %T", loginResult)
	assert.NotEmpty(t, loggedIn.Token)

	// Step 4: Test invalid login
	badResult := request(t, system, pid, &LoginMsg{Username: "testuser", Password: "wrongpassword"})
	assert.True(t, utils.IsErrorCode(badResult.(error), utils.ErrInvalidCredentials))

	unknownResult := request(t, system, pid, &LoginMsg{Username: "ghost", Password: "x"})
	assert.True(t, utils.IsErrorCode(unknownResult.(error), utils.ErrUserNotFound))
}

func TestListUsersExcludesCaller(t *testing.T) {
	system := actor.NewActorSystem()
	store := database.NewMemoryStore()
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewUserActor(store, staticTokens{}, time.Second, bcrypt.MinCost, utils.NewMetricsCollector(), logging.Discard())
	}))

	for _, name := range []string{"alice", "bob", "carol"} {
		request(t, system, pid, &RegisterUserMsg{Username: name, Password: "pw"})
	}

	users, ok := request(t, system, pid, &ListUsersMsg{Except: "bob"}).([]*models.User)
	require.True(t, ok)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "carol", users[1].Username)
}

func TestHistoryActorConversation(t *testing.T) {
	system := actor.NewActorSystem()
	store := database.NewMemoryStore()
	for _, msg := range []*models.Message{
		{Sender: "alice", Receiver: "bob", Body: "one"},
		{Sender: "bob", Receiver: "alice", Body: "two"},
		{Sender: "alice", Receiver: "carol", Body: "other"},
	} {
		require.NoError(t, store.InsertMessage(context.Background(), msg))
	}
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHistoryActor(store, time.Second, utils.NewMetricsCollector(), logging.Discard())
	}))

	messages, ok := request(t, system, pid, &GetConversationMsg{UserA: "bob", UserB: "alice"}).([]*models.Message)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].Body)
	assert.Equal(t, "two", messages[1].Body)

	result := request(t, system, pid, &GetConversationMsg{UserA: "bob"})
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrValidation))
}

type recordingConn struct {
	id     string
	mu     sync.Mutex
	events []string
	closed bool
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func newSessionHandler() (*session.Handler, *presence.Registry, *database.MemoryStore) {
	store := database.NewMemoryStore()
	metrics := utils.NewMetricsCollector()
	registry := presence.NewRegistry(metrics, logging.Discard())
	r := router.New(registry, logging.Discard())
	machine := delivery.NewMachine(store, r, time.Second, metrics, logging.Discard())
	return session.NewHandler(registry, r, machine, metrics, logging.Discard()), registry, store
}

func spawnSession(system *actor.ActorSystem, h *session.Handler, conn *recordingConn) *actor.PID {
	s := h.Open(conn, "")
	return system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewSessionActor(s, time.Second, logging.Discard())
	}))
}

func inbound(t *testing.T, event string, payload any) *InboundMsg {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &InboundMsg{Envelope: api.Envelope{Event: event, Data: data}}
}

func TestSessionActorFlow(t *testing.T) {
	system := actor.NewActorSystem()
	handler, registry, store := newSessionHandler()
	aliceConn := &recordingConn{id: "a"}
	bobConn := &recordingConn{id: "b"}
	alice := spawnSession(system, handler, aliceConn)
	bob := spawnSession(system, handler, bobConn)

	// The reply lists the identities bound after the event ran.
	assert.Equal(t, []string{"alice"}, request(t, system, alice, inbound(t, api.EventRegister, "alice")))
	assert.Equal(t, []string{"bob"}, request(t, system, bob, inbound(t, "join", api.RegisterPayload{Identity: "bob"})))

	request(t, system, alice, inbound(t, api.EventSend, api.SendPayload{Sender: "alice", Receiver: "bob", Message: "hi"}))
	request(t, system, alice, inbound(t, api.EventTyping, api.TypingPayload{Sender: "alice", Receiver: "bob"}))

	conversation, err := store.FindConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, conversation, 1)
	assert.Equal(t, models.StatusDelivered, conversation[0].Status)

	request(t, system, bob, inbound(t, api.EventReadAck, api.ReadAckPayload{MessageID: conversation[0].ID}))

	stored, err := store.GetMessage(context.Background(), conversation[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, stored.Status)

	assert.Equal(t, []string{api.EventReceiveMessage, api.EventUserTyping}, bobConn.snapshot())
	assert.Equal(t, []string{api.EventMessageAccepted, api.EventReadUpdate}, aliceConn.snapshot())

	assert.Equal(t, []string{"bob"}, request(t, system, bob, &DisconnectMsg{}))
	_, online := registry.Resolve("bob")
	assert.False(t, online)
	assert.True(t, bobConn.closed)
}

func TestSessionActorReplyFollowsRebind(t *testing.T) {
	system := actor.NewActorSystem()
	handler, _, _ := newSessionHandler()
	first := spawnSession(system, handler, &recordingConn{id: "first"})
	second := spawnSession(system, handler, &recordingConn{id: "second"})

	assert.Equal(t, []string{"erin"}, request(t, system, first, inbound(t, api.EventRegister, "erin")))
	assert.Equal(t, []string{"erin"}, request(t, system, second, inbound(t, api.EventRegister, "erin")))
	assert.Equal(t, []string{"frank"}, request(t, system, first, inbound(t, api.EventRegister, "frank")))
}

func TestSessionActorErrorsReachCaller(t *testing.T) {
	system := actor.NewActorSystem()
	handler, _, _ := newSessionHandler()
	conn := &recordingConn{id: "c"}
	pid := spawnSession(system, handler, conn)

	result := request(t, system, pid, inbound(t, api.EventSend, api.SendPayload{Sender: "alice", Receiver: "bob"}))
	err, ok := result.(error)
	require.True(t, ok)
	assert.True(t, utils.IsErrorCode(err, utils.ErrValidation))
	assert.Equal(t, []string{api.EventError}, conn.snapshot())
}

func TestSessionActorInboundDisconnectStops(t *testing.T) {
	system := actor.NewActorSystem()
	handler, registry, _ := newSessionHandler()
	conn := &recordingConn{id: "c"}
	pid := spawnSession(system, handler, conn)

	data, err := json.Marshal("carol")
	require.NoError(t, err)
	system.Root.Send(pid, &InboundMsg{Envelope: api.Envelope{Event: "join", Data: data}})
	system.Root.Send(pid, &InboundMsg{Envelope: api.Envelope{Event: api.EventDisconnect}})

	require.Eventually(t, func() bool {
		_, online := registry.Resolve("carol")
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return !online && conn.closed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionActorStopReleasesConnection(t *testing.T) {
	system := actor.NewActorSystem()
	handler, registry, _ := newSessionHandler()
	conn := &recordingConn{id: "c"}
	pid := spawnSession(system, handler, conn)
	request(t, system, pid, inbound(t, api.EventRegister, "dave"))

	require.NoError(t, system.Root.StopFuture(pid).Wait())
	_, online := registry.Resolve("dave")
	assert.False(t, online)
}
