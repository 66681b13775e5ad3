// internal/database/user_repository.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDocument represents the MongoDB schema for a user
type UserDocument struct {
	ID             string    `bson:"_id"`            // MongoDB primary key
	Username       string    `bson:"username"`       // Unique login name
	HashedPassword string    `bson:"hashedPassword"` // bcrypt hash
	CreatedAt      time.Time `bson:"createdAt"`      // Account creation timestamp
}

func (d *UserDocument) toModel() (*models.User, error) {
	userID, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in database: %w", err)
	}
	return &models.User{
		ID:             userID,
		Username:       d.Username,
		HashedPassword: d.HashedPassword,
		CreatedAt:      d.CreatedAt.UTC(),
	}, nil
}

// CreateUser inserts a user; the unique username index turns races into duplicates
func (m *MongoDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.clock.next()
	}

	doc := UserDocument{
		ID:             user.ID.String(),
		Username:       user.Username,
		HashedPassword: user.HashedPassword,
		CreatedAt:      user.CreatedAt,
	}

	_, err := m.Users.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(utils.ErrUserAlreadyExists, "User already exists. Please Login", err)
	}
	if err != nil {
		return utils.NewStoreError("insert user", err)
	}
	return nil
}

// GetUserByUsername retrieves a user from MongoDB by their username
func (m *MongoDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var doc UserDocument

	err := m.Users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewUserNotFoundError(username)
	}
	if err != nil {
		return nil, utils.NewStoreError("get user", err)
	}
	return doc.toModel()
}

// ListUsersExcept returns every known user other than username, sorted by name
func (m *MongoDB) ListUsersExcept(ctx context.Context, username string) ([]*models.User, error) {
	cursor, err := m.Users.Find(ctx,
		bson.M{"username": bson.M{"$ne": username}},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}),
	)
	if err != nil {
		return nil, utils.NewStoreError("list users", err)
	}
	defer cursor.Close(ctx)

	users := make([]*models.User, 0)
	for cursor.Next(ctx) {
		var doc UserDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewStoreError("decode user", err)
		}
		user, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, cursor.Err()
}
