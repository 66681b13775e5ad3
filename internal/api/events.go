package api

import (
	"bytes"
	"encoding/json"
)

// Inbound websocket events.
const (
	EventRegister   = "register"
	EventSend       = "send"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventReadAck    = "read_ack"
	EventDisconnect = "disconnect"
)

// Legacy event names still sent by older clients.
var legacyEvents = map[string]string{
	"join":         EventRegister,
	"send_message": EventSend,
	"message_read": EventReadAck,
}

// CanonicalEvent maps a legacy inbound event name to its current name.
func CanonicalEvent(name string) string {
	if canonical, ok := legacyEvents[name]; ok {
		return canonical
	}
	return name
}

// Outbound websocket events.
const (
	EventReceiveMessage  = "receive_message"
	EventMessageAccepted = "message_accepted"
	EventReadUpdate      = "message_read_update"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventError           = "error"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RegisterPayload struct {
	Identity string `json:"identity"`
}

// UnmarshalJSON accepts either {"identity": "..."} or a bare string.
func (p *RegisterPayload) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &p.Identity)
	}
	type plain RegisterPayload
	return json.Unmarshal(data, (*plain)(p))
}

type SendPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

// TypingPayload is used for both typing and stop_typing.
type TypingPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// ReadAckPayload acknowledges either one message or a whole conversation.
type ReadAckPayload struct {
	MessageID string `json:"messageId,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
}

type MessageAccepted struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

type ReadUpdate struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

// TypingNotice is delivered to the receiver of a typing indicator.
type TypingNotice struct {
	Sender string `json:"sender"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
