package actors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the salt rounds existing accounts were hashed with.
const DefaultBcryptCost = 10

// Message types for UserActor
type (
	RegisterUserMsg struct {
		Username string
		Password string
	}

	LoginMsg struct {
		Username string
		Password string
	}

	// ListUsersMsg lists every registered user except Except.
	ListUsersMsg struct {
		Except string
	}
)

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	GenerateToken(username string) (string, error)
}

// UserActor owns registration and login. Password hashing happens inside the
// actor so a burst of logins queues here instead of on the HTTP goroutines.
type UserActor struct {
	store      database.UserStore
	tokens     TokenIssuer
	timeout    time.Duration
	bcryptCost int
	metrics    *utils.MetricsCollector
	logger     *slog.Logger
}

func NewUserActor(store database.UserStore, tokens TokenIssuer, timeout time.Duration, bcryptCost int, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	if bcryptCost == 0 {
		bcryptCost = DefaultBcryptCost
	}
	return &UserActor{
		store:      store,
		tokens:     tokens,
		timeout:    timeout,
		bcryptCost: bcryptCost,
		metrics:    metrics,
		logger:     logger.With("component", "user_actor"),
	}
}

func (a *UserActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *RegisterUserMsg:
		a.handleRegister(context, msg)
	case *LoginMsg:
		a.handleLogin(context, msg)
	case *ListUsersMsg:
		a.handleListUsers(context, msg)
	}
}

func (a *UserActor) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *UserActor) handleRegister(context actor.Context, msg *RegisterUserMsg) {
	startTime := time.Now()
	defer func() { a.metrics.AddOperationLatency("register_user", time.Since(startTime)) }()

	username := strings.TrimSpace(msg.Username)
	if username == "" || msg.Password == "" {
		context.Respond(utils.NewValidationError("username and password are required"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(msg.Password), a.bcryptCost)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrValidation, "password cannot be hashed", err))
		return
	}

	ctx, cancel := a.storeContext()
	defer cancel()

	user := &models.User{
		Username:       username,
		HashedPassword: string(hashedPassword),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		a.logger.Debug("registration rejected", "username", username, "error", err)
		context.Respond(err)
		return
	}

	token, err := a.tokens.GenerateToken(username)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrStore, "token generation failed", err))
		return
	}

	a.logger.Info("user registered", "username", username)
	context.Respond(&api.AuthResponse{
		Message:  "User registered successfully.",
		Token:    token,
		Username: username,
	})
}

func (a *UserActor) handleLogin(context actor.Context, msg *LoginMsg) {
	startTime := time.Now()
	defer func() { a.metrics.AddOperationLatency("login", time.Since(startTime)) }()

	ctx, cancel := a.storeContext()
	defer cancel()

	user, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(msg.Username))
	if err != nil {
		context.Respond(err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(msg.Password)); err != nil {
		context.Respond(utils.NewAppError(utils.ErrInvalidCredentials, "Invalid Credentials", nil))
		return
	}

	token, err := a.tokens.GenerateToken(user.Username)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrStore, "token generation failed", err))
		return
	}

	a.logger.Debug("user logged in", "username", user.Username)
	context.Respond(&api.AuthResponse{
		Message:  "Login successfully",
		Token:    token,
		Username: user.Username,
	})
}

func (a *UserActor) handleListUsers(context actor.Context, msg *ListUsersMsg) {
	ctx, cancel := a.storeContext()
	defer cancel()

	users, err := a.store.ListUsersExcept(ctx, msg.Except)
	if err != nil {
		context.Respond(err)
		return
	}
	context.Respond(users)
}
