package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// Client is a middleman between the websocket connection and its session
// actor. It implements the presence connection handle.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "ws_client", "conn", id),
	}
}

func (c *Client) ID() string { return c.id }

// Send frames event and payload as an envelope and queues it without
// blocking. A full queue means the peer is not keeping up, and the event is
// refused rather than stalling the caller.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrValidation, "payload cannot be encoded", err)
	}
	frame, err := json.Marshal(api.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Close stops both pumps. Queued frames are dropped.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// ReadPump pumps envelopes from the websocket connection to handle. It
// returns when the peer goes away or the client is closed.
func (c *Client) ReadPump(handle func(api.Envelope)) {
	defer func() {
		c.Close()
		c.conn.Close()
		c.logger.Debug("read pump stopped")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}

		var env api.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.Send(api.EventError, api.ErrorPayload{Code: utils.ErrValidation, Message: "malformed envelope"})
			continue
		}
		handle(env)
	}
}

// WritePump pumps queued frames to the websocket connection, one frame per
// envelope.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write pump stopped")
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write error", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping error", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
