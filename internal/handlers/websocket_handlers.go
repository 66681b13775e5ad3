package handlers

import (
	"net/http"

	"gator-chat/internal/api"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/middleware"
	"gator-chat/internal/websocket"

	ws "github.com/gorilla/websocket"
)

func (s *Server) upgrader() *ws.Upgrader {
	return &ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.CORS.OriginAllowed(origin)
		},
	}
}

// authenticate returns the username proven by the request's token. A missing
// token is only an error when authentication is required.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		return "", !s.RequireAuth
	}
	claims, err := s.Auth.ValidateToken(token)
	if err != nil {
		s.logger.Debug("websocket token rejected", "error", err)
		return "", false
	}
	return claims.Username, true
}

// HandleWebSocket upgrades the connection and hands it to a new session actor.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	upgrader := s.upgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.authenticate(r)
		if !ok {
			http.Error(w, "Invalid or missing authentication token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error.
			s.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		s.Metrics.IncrementRequests("ws_connect")

		client := websocket.NewClient(conn, s.SendBuffer, s.logger)
		pid := s.Engine.SpawnSession(client, username)
		s.logger.Info("websocket connected", "conn", client.ID(), "user", username)

		go client.WritePump()
		go func() {
			client.ReadPump(func(env api.Envelope) {
				s.Context.Send(pid, &actors.InboundMsg{Envelope: env})
			})
			s.Context.Send(pid, &actors.DisconnectMsg{})
		}()
	}
}
