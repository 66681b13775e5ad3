// Package session binds the inbound events of one connection to presence,
// routing and the delivery state machine.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/delivery"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"
)

// Connection is a presence handle that can also be closed.
type Connection interface {
	presence.Conn
	Close() error
}

// Notifier dispatches an event to whichever connection is bound to identity.
type Notifier interface {
	Notify(identity, event string, payload any) bool
}

// Handler holds the collaborators shared by every session.
type Handler struct {
	registry *presence.Registry
	router   Notifier
	machine  *delivery.Machine
	metrics  *utils.MetricsCollector
	logger   *slog.Logger
}

func NewHandler(registry *presence.Registry, router Notifier, machine *delivery.Machine, metrics *utils.MetricsCollector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	return &Handler{
		registry: registry,
		router:   router,
		machine:  machine,
		metrics:  metrics,
		logger:   logger.With("component", "session"),
	}
}

// Session is the state of one connection. It is not safe for concurrent use;
// the owning actor serialises calls.
type Session struct {
	h          *Handler
	conn       Connection
	authUser   string
	identities map[string]struct{}
	registered bool
	closed     bool
	logger     *slog.Logger
}

// Open starts a session for conn. authUser is the username proven by the
// connection's token, or empty for anonymous connections.
func (h *Handler) Open(conn Connection, authUser string) *Session {
	return &Session{
		h:          h,
		conn:       conn,
		authUser:   authUser,
		identities: make(map[string]struct{}),
		logger:     h.logger.With("conn", conn.ID()),
	}
}

// Identities returns the identities still bound to this connection, sorted.
func (s *Session) Identities() []string {
	s.prune()
	ids := make([]string, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) Conn() Connection { return s.conn }

func (s *Session) owns(identity string) bool {
	_, ok := s.identities[identity]
	return ok
}

// prune forgets identities another connection has since registered.
func (s *Session) prune() {
	for identity := range s.identities {
		if conn, ok := s.h.registry.Resolve(identity); !ok || conn != presence.Conn(s.conn) {
			delete(s.identities, identity)
			s.logger.Debug("identity taken over", "identity", identity)
		}
	}
}

// Register binds identity to this connection.
func (s *Session) Register(identity string) error {
	s.h.metrics.IncrementRequests(api.EventRegister)
	if identity == "" {
		return s.fail(api.EventRegister, utils.NewValidationError("identity is required"))
	}
	if s.authUser != "" && identity != s.authUser {
		return s.fail(api.EventRegister, utils.NewValidationError("identity does not match the authenticated user"))
	}

	s.h.registry.Register(identity, s.conn)
	s.identities[identity] = struct{}{}
	s.registered = true
	s.logger.Info("registered", "identity", identity)
	return nil
}

// SendResult is what the sender learns about a submitted message.
type SendResult struct {
	Message *models.Message
	Outcome delivery.Outcome
}

// Send submits a message, attempts delivery, and acknowledges the sender
// with message_accepted.
func (s *Session) Send(ctx context.Context, p api.SendPayload) (SendResult, error) {
	s.h.metrics.IncrementRequests(api.EventSend)
	if err := s.checkSender(p.Sender); err != nil {
		return SendResult{}, s.fail(api.EventSend, err)
	}

	msg, err := s.h.machine.Submit(ctx, p.Sender, p.Receiver, p.Message)
	if err != nil {
		return SendResult{}, s.fail(api.EventSend, err)
	}

	outcome, deliverErr := s.h.machine.AttemptDelivery(ctx, msg)
	result := SendResult{Message: msg, Outcome: outcome}

	// The message is persisted either way, so the sender always learns its id.
	s.emit(api.EventMessageAccepted, api.MessageAccepted{
		ID:      msg.ID,
		Status:  string(msg.Status),
		Outcome: string(outcome),
	})
	if deliverErr != nil {
		return result, s.fail(api.EventSend, deliverErr)
	}

	s.logger.Debug("message accepted", "id", msg.ID, "outcome", outcome)
	return result, nil
}

// Typing relays a typing or stop_typing indicator. It reports whether the
// receiver was reached; indicators for offline receivers are dropped.
func (s *Session) Typing(p api.TypingPayload, stop bool) (bool, error) {
	event, outbound := api.EventTyping, api.EventUserTyping
	if stop {
		event, outbound = api.EventStopTyping, api.EventUserStopTyping
	}
	s.h.metrics.IncrementRequests(event)

	if err := s.checkSender(p.Sender); err != nil {
		return false, s.fail(event, err)
	}
	if p.Sender == "" || p.Receiver == "" {
		return false, s.fail(event, utils.NewValidationError("sender and receiver are required"))
	}

	relayed := s.h.router.Notify(p.Receiver, outbound, api.TypingNotice{Sender: p.Sender})
	s.h.metrics.RecordTyping(relayed)
	return relayed, nil
}

// ReadAck acknowledges one message or a whole conversation on behalf of the
// session's registered identity.
func (s *Session) ReadAck(ctx context.Context, p api.ReadAckPayload) (delivery.ReadResult, error) {
	s.h.metrics.IncrementRequests(api.EventReadAck)

	reader, err := s.reader(p.Receiver)
	if err != nil {
		return delivery.ReadResult{}, s.fail(api.EventReadAck, err)
	}
	if reader == "" {
		s.logger.Debug("read ack for another identity ignored", "receiver", p.Receiver)
		return delivery.ReadResult{}, nil
	}

	var result delivery.ReadResult
	switch {
	case p.MessageID != "":
		result, err = s.h.machine.AcknowledgeRead(ctx, p.MessageID, reader)
	case p.Sender != "":
		result, err = s.h.machine.AcknowledgeConversation(ctx, p.Sender, reader)
	default:
		err = utils.NewValidationError("messageId or sender is required")
	}
	if err != nil {
		return result, s.fail(api.EventReadAck, err)
	}
	return result, nil
}

// Disconnect releases every identity still bound to this connection and
// closes it. Calling it twice is harmless.
func (s *Session) Disconnect() []string {
	if s.closed {
		return nil
	}
	s.closed = true
	s.h.metrics.IncrementRequests(api.EventDisconnect)

	removed := s.h.registry.Unregister(s.conn)
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close failed", "error", err)
	}
	s.logger.Info("disconnected", "identities", removed)
	return removed
}

// Dispatch decodes one inbound envelope and runs the matching operation.
// Failures have already been reported to the connection when it returns.
func (s *Session) Dispatch(ctx context.Context, env api.Envelope) error {
	start := time.Now()
	event := api.CanonicalEvent(env.Event)
	defer func() { s.h.metrics.AddOperationLatency("event_"+event, time.Since(start)) }()

	var err error
	switch event {
	case api.EventRegister:
		var p api.RegisterPayload
		if err = decode(env.Data, &p); err == nil {
			return s.Register(p.Identity)
		}
	case api.EventSend:
		var p api.SendPayload
		if err = decode(env.Data, &p); err == nil {
			_, err = s.Send(ctx, p)
			return err
		}
	case api.EventTyping, api.EventStopTyping:
		var p api.TypingPayload
		if err = decode(env.Data, &p); err == nil {
			_, err = s.Typing(p, event == api.EventStopTyping)
			return err
		}
	case api.EventReadAck:
		var p api.ReadAckPayload
		if err = decode(env.Data, &p); err == nil {
			_, err = s.ReadAck(ctx, p)
			return err
		}
	case api.EventDisconnect:
		s.Disconnect()
		return nil
	default:
		err = utils.NewValidationError("unknown event " + env.Event)
	}
	return s.fail(env.Event, err)
}

// checkSender rejects a sender field that does not belong to this session.
func (s *Session) checkSender(sender string) error {
	s.prune()
	if s.registered && !s.owns(sender) {
		return utils.NewValidationError("sender does not match the registered identity")
	}
	if len(s.identities) == 0 && s.authUser != "" && sender != s.authUser {
		return utils.NewValidationError("sender does not match the authenticated user")
	}
	return nil
}

// reader picks the identity acknowledging on this connection. It returns ""
// when the payload names a receiver this session does not own.
func (s *Session) reader(receiver string) (string, error) {
	s.prune()
	if len(s.identities) == 0 {
		if s.registered {
			return "", utils.NewValidationError("identity is registered on another connection")
		}
		return "", utils.NewValidationError("register before acknowledging messages")
	}
	if receiver != "" {
		if s.owns(receiver) {
			return receiver, nil
		}
		return "", nil
	}
	if len(s.identities) > 1 {
		return "", utils.NewValidationError("receiver is required when several identities are registered")
	}
	return s.Identities()[0], nil
}

func (s *Session) emit(event string, payload any) {
	if err := s.conn.Send(event, payload); err != nil {
		s.logger.Debug("emit failed", "event", event, "error", err)
	}
}

// fail reports err to this connection as an error event and returns it.
func (s *Session) fail(event string, err error) error {
	code := utils.ErrorCode(err)
	message := err.Error()
	if appErr, ok := utils.AsAppError(err); ok {
		message = appErr.Message
	}
	s.h.metrics.IncrementErrors(code)
	if code == utils.ErrStore {
		s.logger.Error("store failure", "event", event, "error", err)
	} else {
		s.logger.Debug("event rejected", "event", event, "code", code, "error", err)
	}
	s.emit(api.EventError, api.ErrorPayload{Event: event, Code: code, Message: message})
	return err
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return utils.NewValidationError("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return utils.NewAppError(utils.ErrValidation, "malformed event data", err)
	}
	return nil
}
