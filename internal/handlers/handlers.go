package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/engine"
	"gator-chat/internal/middleware"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-playground/validator/v10"
)

// Server holds all HTTP dependencies, including the actor engine
type Server struct {
	Context        *actor.RootContext
	Engine         *engine.Engine
	Registry       *presence.Registry
	Metrics        *utils.MetricsCollector
	Auth           *middleware.JWTAuth
	CORS           *middleware.CORSConfig
	RequireAuth    bool
	SendBuffer     int
	RequestTimeout time.Duration

	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates a new Server instance with the given components
func NewServer(
	eng *engine.Engine,
	registry *presence.Registry,
	metrics *utils.MetricsCollector,
	auth *middleware.JWTAuth,
	cors *middleware.CORSConfig,
	logger *slog.Logger,
) *Server {
	return &Server{
		Context:        eng.Root(),
		Engine:         eng,
		Registry:       registry,
		Metrics:        metrics,
		Auth:           auth,
		CORS:           cors,
		SendBuffer:     256,
		RequestTimeout: 5 * time.Second, // Default timeout for actor requests
		validate:       validator.New(),
		logger:         logger.With("component", "http"),
	}
}

// Routes registers every endpoint and wraps the mux with CORS.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/register", s.HandleUserRegistration())
	mux.HandleFunc("/auth/login", s.HandleUserLogin())
	mux.HandleFunc("/messages", s.protect(s.HandleGetConversation()))
	mux.HandleFunc("/users", s.protect(s.HandleListUsers()))
	mux.HandleFunc("/ws", s.HandleWebSocket())
	mux.HandleFunc("/health", s.HandleHealth())
	mux.Handle("/metrics", s.Metrics.Handler())
	return middleware.CORSMiddleware(s.CORS)(mux)
}

func (s *Server) protect(handler http.HandlerFunc) http.HandlerFunc {
	if !s.RequireAuth {
		return handler
	}
	return s.Auth.Protect(handler)
}

// ask sends msg to pid and unwraps error replies.
func (s *Server) ask(pid *actor.PID, msg any, name string) (any, error) {
	result, err := s.Context.RequestFuture(pid, msg, s.RequestTimeout).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrActorTimeout, "Actor communication timeout: "+name, err)
	}
	if replyErr, ok := result.(error); ok {
		return nil, replyErr
	}
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := utils.ErrorCode(err)
	message := "internal server error"
	var appErr *utils.AppError
	if errors.As(err, &appErr) && code != utils.ErrStore && code != utils.ErrActorTimeout {
		message = appErr.Message
	}
	status := utils.AppErrorToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.Metrics.IncrementErrors(code)
	writeJSON(w, status, api.ErrorResponse{Code: code, Message: message})
}

func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
