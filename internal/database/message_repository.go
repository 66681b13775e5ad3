package database

import (
	"context"
	"errors"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageDocument represents the MongoDB document structure for direct messages
type MessageDocument struct {
	ID        string    `bson:"_id"`
	Sender    string    `bson:"sender"`
	Receiver  string    `bson:"receiver"`
	Message   string    `bson:"message"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d *MessageDocument) toModel() *models.Message {
	return &models.Message{
		ID:        d.ID,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Body:      d.Message,
		Status:    models.MessageStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// InsertMessage saves a new direct message to MongoDB
func (m *MongoDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	now := m.clock.next()
	doc := MessageDocument{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Message:   msg.Body,
		Status:    string(models.StatusSent),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := m.Messages.InsertOne(ctx, doc); err != nil {
		return utils.NewStoreError("insert message", err)
	}

	msg.ID = doc.ID
	msg.Status = models.StatusSent
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

// GetMessage loads a single message by id
func (m *MongoDB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var doc MessageDocument
	err := m.Messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewAppError(utils.ErrNotFound, "message not found", err)
	}
	if err != nil {
		return nil, utils.NewStoreError("get message", err)
	}
	return doc.toModel(), nil
}

// FindConversation retrieves the messages between two users, oldest first
func (m *MongoDB) FindConversation(ctx context.Context, a, b string) ([]*models.Message, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"sender": a, "receiver": b},
			{"sender": b, "receiver": a},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewStoreError("find conversation", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewStoreError("decode message", err)
		}
		messages = append(messages, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewStoreError("iterate conversation", err)
	}
	return messages, nil
}

// TransitionStatus updates the status of a message only if it still holds from
func (m *MongoDB) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	filter := bson.M{"_id": id, "status": string(from)}
	update := bson.M{"$set": bson.M{"status": string(to), "updatedAt": time.Now().UTC()}}

	result, err := m.Messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, utils.NewStoreError("transition message", err)
	}
	return result.ModifiedCount == 1, nil
}

// TransitionConversation moves every matching message with its own
// compare-and-swap. UpdateMany only reports a count, and a concurrent ack may
// move a candidate between the find and the update; per-id updates keep the
// returned ids exactly those this call changed.
func (m *MongoDB) TransitionConversation(ctx context.Context, sender, receiver string, from, to models.MessageStatus) ([]string, error) {
	if err := checkTransition(from, to); err != nil {
		return nil, err
	}
	filter := bson.M{"sender": sender, "receiver": receiver, "status": string(from)}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetProjection(bson.M{"_id": 1})

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewStoreError("find conversation candidates", err)
	}
	var candidates []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, utils.NewStoreError("decode conversation candidates", err)
	}

	affected := make([]string, 0, len(candidates))
	for _, c := range candidates {
		changed, err := m.TransitionStatus(ctx, c.ID, from, to)
		if err != nil {
			return affected, err
		}
		if changed {
			affected = append(affected, c.ID)
		}
	}
	return affected, nil
}
