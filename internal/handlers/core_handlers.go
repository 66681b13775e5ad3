package handlers

import (
	"net/http"
	"time"
)

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}

		online := s.Registry.Online()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "healthy",
			"online_count": len(online),
			"online":       online,
			"uptime":       s.Metrics.Uptime().Round(time.Second).String(),
			"server_time":  time.Now().UTC(),
		})
	}
}
