package handlers

import (
	"encoding/json"
	"net/http"

	"gator-chat/internal/api"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"
)

func (s *Server) decodeAuthRequest(r *http.Request) (*api.AuthRequest, error) {
	var req api.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, utils.NewAppError(utils.ErrValidation, "Invalid request", err)
	}
	if err := s.validate.Struct(&req); err != nil {
		return nil, utils.NewAppError(utils.ErrValidation, "username and password are required", err)
	}
	return &req, nil
}

// HandleUserRegistration handles requests to register a new user
func (s *Server) HandleUserRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		s.Metrics.IncrementRequests("http_register")

		req, err := s.decodeAuthRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.ask(s.Engine.GetUserActor(), &actors.RegisterUserMsg{
			Username: req.Username,
			Password: req.Password,
		}, "user")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// HandleUserLogin handles requests to log in a user
func (s *Server) HandleUserLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		s.Metrics.IncrementRequests("http_login")

		req, err := s.decodeAuthRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.ask(s.Engine.GetUserActor(), &actors.LoginMsg{
			Username: req.Username,
			Password: req.Password,
		}, "user")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleListUsers lists every user except currentUser.
func (s *Server) HandleListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		s.Metrics.IncrementRequests("http_users")

		currentUser := r.URL.Query().Get("currentUser")
		if currentUser == "" {
			currentUser, _ = middleware.GetUsernameFromContext(r.Context())
		}

		result, err := s.ask(s.Engine.GetUserActor(), &actors.ListUsersMsg{Except: currentUser}, "user")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result.([]*models.User))
	}
}
