package handlers

import (
	"net/http"

	"gator-chat/internal/engine/actors"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"
)

// HandleGetConversation returns the messages between sender and receiver in
// either direction, oldest first.
func (s *Server) HandleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		s.Metrics.IncrementRequests("http_messages")

		query := r.URL.Query()
		sender, receiver := query.Get("sender"), query.Get("receiver")
		if sender == "" || receiver == "" {
			s.writeError(w, r, utils.NewValidationError("sender and receiver are required"))
			return
		}

		// Authenticated callers may only read their own conversations.
		if username, ok := middleware.GetUsernameFromContext(r.Context()); ok && username != sender && username != receiver {
			s.writeError(w, r, utils.NewUnauthorizedError("not a participant in this conversation"))
			return
		}

		result, err := s.ask(s.Engine.GetHistoryActor(), &actors.GetConversationMsg{UserA: sender, UserB: receiver}, "history")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result.([]*models.Message))
	}
}
