// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB *sqlx.DB

	clock  *stamper
	logger *slog.Logger
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, connectionString string, logger *slog.Logger) (*PostgresDB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")

	p := &PostgresDB{DB: db, clock: newStamper(), logger: logger}
	if err := p.InitializeTables(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	p.logger.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			sender VARCHAR(50) NOT NULL,
			receiver VARCHAR(50) NOT NULL,
			message TEXT NOT NULL CHECK (message <> ''),
			status VARCHAR(16) NOT NULL DEFAULT 'sent',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	_, err = p.DB.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender, receiver, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_pair_status ON messages (sender, receiver, status);
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}
	return nil
}

// --- Message methods ---

func (p *PostgresDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	now := p.clock.next()
	row := *msg
	row.ID = uuid.NewString()
	row.Status = models.StatusSent
	row.CreatedAt = now
	row.UpdatedAt = now

	query := `
		INSERT INTO messages (id, sender, receiver, message, status, created_at, updated_at)
		VALUES (:id, :sender, :receiver, :message, :status, :created_at, :updated_at)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, row); err != nil {
		return utils.NewStoreError("insert message", err)
	}

	*msg = row
	return nil
}

func (p *PostgresDB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, utils.NewAppError(utils.ErrNotFound, "message not found", err)
	}

	var msg models.Message
	err := p.DB.GetContext(ctx, &msg, `
		SELECT id, sender, receiver, message, status, created_at, updated_at
		FROM messages WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrNotFound, "message not found", err)
	}
	if err != nil {
		return nil, utils.NewStoreError("get message", err)
	}
	normalize(&msg)
	return &msg, nil
}

func (p *PostgresDB) FindConversation(ctx context.Context, a, b string) ([]*models.Message, error) {
	query := `
		SELECT id, sender, receiver, message, status, created_at, updated_at
		FROM messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY created_at ASC, id ASC
	`
	messages := make([]*models.Message, 0)
	if err := p.DB.SelectContext(ctx, &messages, query, a, b); err != nil {
		return nil, utils.NewStoreError("find conversation", err)
	}
	for _, msg := range messages {
		normalize(msg)
	}
	return messages, nil
}

func (p *PostgresDB) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	result, err := p.DB.ExecContext(ctx,
		`UPDATE messages SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, utils.NewStoreError("transition message", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, utils.NewStoreError("transition message", err)
	}
	return rowsAffected == 1, nil
}

func (p *PostgresDB) TransitionConversation(ctx context.Context, sender, receiver string, from, to models.MessageStatus) ([]string, error) {
	if err := checkTransition(from, to); err != nil {
		return nil, err
	}
	affected := make([]string, 0)
	err := p.DB.SelectContext(ctx, &affected, `
		UPDATE messages SET status = $1, updated_at = NOW()
		WHERE sender = $2 AND receiver = $3 AND status = $4
		RETURNING id
	`, string(to), sender, receiver, string(from))
	if err != nil {
		return nil, utils.NewStoreError("transition conversation", err)
	}
	return affected, nil
}

// --- User methods ---

func (p *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = p.clock.next()
	}

	_, err := p.DB.NamedExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (:id, :username, :password_hash, :created_at)
	`, user)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return utils.NewAppError(utils.ErrUserAlreadyExists, "User already exists. Please Login", err)
	}
	if err != nil {
		return utils.NewStoreError("insert user", err)
	}
	return nil
}

func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := p.DB.GetContext(ctx, &user,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewUserNotFoundError(username)
	}
	if err != nil {
		return nil, utils.NewStoreError("get user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (p *PostgresDB) ListUsersExcept(ctx context.Context, username string) ([]*models.User, error) {
	users := make([]*models.User, 0)
	err := p.DB.SelectContext(ctx, &users,
		`SELECT id, username, password_hash, created_at FROM users WHERE username <> $1 ORDER BY username`, username)
	if err != nil {
		return nil, utils.NewStoreError("list users", err)
	}
	return users, nil
}

func normalize(msg *models.Message) {
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.UpdatedAt.UTC()
}
