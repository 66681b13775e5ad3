// Package delivery implements the message lifecycle: sent -> delivered -> read.
//
// A message is persisted as sent before anything else happens. It becomes
// delivered only after the router handed it to the receiver's connection,
// and read only when the receiver acknowledges it while delivered. Every
// transition is a compare-and-swap against the store, so racing or repeated
// events can never move a message backwards.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/go-playground/validator/v10"
)

// Outcome is the result of a delivery attempt.
type Outcome string

const (
	Delivered    Outcome = "delivered"
	NotDelivered Outcome = "not_delivered"
)

// Notifier dispatches an event to the connection bound to identity.
type Notifier interface {
	Notify(identity, event string, payload any) bool
}

// ReadResult describes a read acknowledgment. Zero IDs means the
// acknowledgment changed nothing.
type ReadResult struct {
	IDs      []string
	Notified bool
}

type Machine struct {
	store    database.MessageStore
	notifier Notifier
	validate *validator.Validate
	timeout  time.Duration
	metrics  *utils.MetricsCollector
	logger   *slog.Logger
}

func NewMachine(store database.MessageStore, notifier Notifier, timeout time.Duration, metrics *utils.MetricsCollector, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	return &Machine{
		store:    store,
		notifier: notifier,
		validate: newValidator(),
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.With("component", "delivery"),
	}
}

func (m *Machine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// Submit validates and persists a new message in status sent.
func (m *Machine) Submit(ctx context.Context, sender, receiver, body string) (*models.Message, error) {
	start := time.Now()
	defer func() { m.metrics.AddOperationLatency("submit", time.Since(start)) }()

	msg := &models.Message{Sender: sender, Receiver: receiver, Body: body}
	if err := m.validate.Struct(msg); err != nil {
		return nil, validationError(err)
	}

	sctx, cancel := m.storeContext(ctx)
	defer cancel()
	if err := m.store.InsertMessage(sctx, msg); err != nil {
		return nil, asStoreError("insert message", err)
	}

	m.metrics.RecordTransition(string(models.StatusSent), 1)
	m.logger.Debug("message submitted", "id", msg.ID, "sender", sender, "receiver", receiver)
	return msg, nil
}

// AttemptDelivery pushes msg to the receiver if they are online. The stored
// record only becomes delivered after the connection accepted the event. On
// success msg.Status is updated in place.
func (m *Machine) AttemptDelivery(ctx context.Context, msg *models.Message) (Outcome, error) {
	start := time.Now()
	defer func() { m.metrics.AddOperationLatency("deliver", time.Since(start)) }()

	if !msg.Status.CanAdvanceTo(models.StatusDelivered) {
		m.logger.Debug("delivery skipped", "id", msg.ID, "status", msg.Status)
		return NotDelivered, nil
	}

	if !m.notifier.Notify(msg.Receiver, api.EventReceiveMessage, msg.WithStatus(models.StatusDelivered)) {
		m.metrics.RecordDelivery(string(NotDelivered))
		m.logger.Debug("receiver unreachable", "id", msg.ID, "receiver", msg.Receiver)
		return NotDelivered, nil
	}

	sctx, cancel := m.storeContext(ctx)
	defer cancel()
	changed, err := m.store.TransitionStatus(sctx, msg.ID, models.StatusSent, models.StatusDelivered)
	if err != nil {
		m.metrics.RecordDelivery("store_error")
		return NotDelivered, asStoreError("mark delivered", err)
	}

	m.metrics.RecordDelivery(string(Delivered))
	if changed {
		m.metrics.RecordTransition(string(models.StatusDelivered), 1)
	} else {
		m.logger.Debug("stale delivered transition", "id", msg.ID)
	}
	msg.Status = models.StatusDelivered
	return Delivered, nil
}

// AcknowledgeRead marks one message read on behalf of reader. Unknown ids,
// readers other than the receiver, and messages not currently delivered are
// silently ignored.
func (m *Machine) AcknowledgeRead(ctx context.Context, messageID, reader string) (ReadResult, error) {
	if messageID == "" || reader == "" {
		return ReadResult{}, utils.NewValidationError("messageId and reader are required")
	}

	sctx, cancel := m.storeContext(ctx)
	defer cancel()

	msg, err := m.store.GetMessage(sctx, messageID)
	if utils.IsErrorCode(err, utils.ErrNotFound) {
		m.logger.Debug("read ack for unknown message", "id", messageID)
		return ReadResult{}, nil
	}
	if err != nil {
		return ReadResult{}, asStoreError("get message", err)
	}
	if msg.Receiver != reader || !msg.Status.CanAdvanceTo(models.StatusRead) {
		m.logger.Debug("read ack ignored", "id", messageID, "reader", reader, "status", msg.Status)
		return ReadResult{}, nil
	}

	changed, err := m.store.TransitionStatus(sctx, messageID, models.StatusDelivered, models.StatusRead)
	if err != nil {
		return ReadResult{}, asStoreError("mark read", err)
	}
	if !changed {
		return ReadResult{}, nil
	}
	return m.announceRead(msg.Sender, []string{messageID}), nil
}

// AcknowledgeConversation marks every delivered sender->reader message read.
// Messages still in sent are left alone. If the store fails part way the ids
// already moved are still announced and returned with the error.
func (m *Machine) AcknowledgeConversation(ctx context.Context, sender, reader string) (ReadResult, error) {
	if sender == "" || reader == "" {
		return ReadResult{}, utils.NewValidationError("sender and reader are required")
	}

	sctx, cancel := m.storeContext(ctx)
	defer cancel()

	ids, err := m.store.TransitionConversation(sctx, sender, reader, models.StatusDelivered, models.StatusRead)
	var result ReadResult
	if len(ids) > 0 {
		result = m.announceRead(sender, ids)
	}
	if err != nil {
		return result, asStoreError("mark conversation read", err)
	}
	return result, nil
}

func (m *Machine) announceRead(sender string, ids []string) ReadResult {
	m.metrics.RecordTransition(string(models.StatusRead), len(ids))
	notified := m.notifier.Notify(sender, api.EventReadUpdate, api.ReadUpdate{
		IDs:    ids,
		Status: string(models.StatusRead),
	})
	m.logger.Debug("messages read", "sender", sender, "count", len(ids), "notified", notified)
	return ReadResult{IDs: ids, Notified: notified}
}

// newValidator reports fields by their wire names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) *utils.AppError {
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
	}
	if len(fields) == 0 {
		return utils.NewValidationError(err.Error())
	}
	return utils.NewValidationError(fmt.Sprintf("missing required field(s): %s", strings.Join(fields, ", ")))
}

// asStoreError keeps an AppError produced by the store and wraps anything else.
func asStoreError(operation string, err error) error {
	if _, ok := utils.AsAppError(err); ok {
		return err
	}
	return utils.NewStoreError(operation, err)
}
