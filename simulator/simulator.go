// Package simulator drives a running chat engine with synthetic users: it
// registers them over HTTP, connects them over websockets and exchanges
// messages, typing indicators and read acknowledgments.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"gator-chat/internal/api"

	ws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type SimConfig struct {
	NumUsers          int
	SimulationTime    time.Duration
	MessageFrequency  float64 // messages per user per minute
	TypingProbability float64
	ReadProbability   float64
	DisconnectRate    float64
	ReconnectRate     float64
	ZipfS             float64
	RegisterInterval  time.Duration
	MetricsInterval   time.Duration
	EngineURL         string
	Password          string
}

// DefaultSimConfig returns a small, gentle simulation.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumUsers:          10,
		SimulationTime:    time.Minute,
		MessageFrequency:  30,
		TypingProbability: 0.5,
		ReadProbability:   0.8,
		DisconnectRate:    0.01,
		ReconnectRate:     0.05,
		ZipfS:             1.07,
		RegisterInterval:  200 * time.Millisecond,
		MetricsInterval:   10 * time.Second,
		EngineURL:         "http://localhost:5000",
		Password:          "testpass123",
	}
}

type SimulationStats struct {
	mu                sync.RWMutex
	StartTime         time.Time
	TotalRequests     int64
	SuccessRequests   int64
	FailedRequests    int64
	AverageLatency    time.Duration
	MessagesSent      int
	MessagesAccepted  int
	MessagesDelivered int
	MessagesReceived  int
	ReadUpdates       int
	TypingSent        int
	TypingReceived    int
	ErrorEvents       int
}

// SimulatedUser is one synthetic account and its websocket.
type SimulatedUser struct {
	Username  string
	Token     string
	connected bool

	mu      sync.Mutex
	conn    *ws.Conn
	pending []time.Time // send times awaiting message_accepted, in order
}

type EnhancedSimulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	dialer *ws.Dialer
	rng    *rand.Rand
	rngMu  sync.Mutex
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewEnhancedSimulator(config SimConfig, logger *slog.Logger) *EnhancedSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancedSimulator{
		config: config,
		stats: &SimulationStats{
			StartTime: time.Now(),
		},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		dialer: &ws.Dialer{HandshakeTimeout: 5 * time.Second},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With("component", "simulator"),
	}
}

func (s *EnhancedSimulator) Run(ctx context.Context) error {
	s.logger.Info("starting simulation", "users", s.config.NumUsers, "duration", s.config.SimulationTime)

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer s.disconnectAll()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.SimulateActivities(gctx) })
	g.Go(func() error {
		s.simulateConnectivity(gctx)
		return nil
	})
	g.Go(func() error {
		s.collectMetrics(gctx)
		return nil
	})
	return g.Wait()
}

func (s *EnhancedSimulator) initialize(ctx context.Context) error {
	s.logger.Info("phase 1: registering users", "count", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create initial users: %w", err)
	}

	s.logger.Info("phase 2: connecting users")
	for _, user := range s.users {
		if err := s.connect(ctx, user); err != nil {
			return fmt.Errorf("failed to connect %s: %w", user.Username, err)
		}
	}
	return nil
}

func (s *EnhancedSimulator) createInitialUsers(ctx context.Context) error {
	users := make([]*SimulatedUser, s.config.NumUsers)

	// A few workers share one rate limiter so the engine is not overwhelmed.
	numWorkers := 5
	rateLimiter := time.NewTicker(s.config.RegisterInterval)
	defer rateLimiter.Stop()

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		workerID := i
		g.Go(func() error {
			for userNum := range jobs {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-rateLimiter.C:
				}

				user := &SimulatedUser{Username: fmt.Sprintf("user_%d", userNum)}
				var err error
				for retries := 0; retries < 3; retries++ {
					if err = s.registerUser(gctx, user); err == nil {
						break
					}
					backoff := time.Duration(math.Pow(2, float64(retries))) * 100 * time.Millisecond
					s.logger.Debug("registration retry", "worker", workerID, "user", user.Username, "attempt", retries+1, "backoff", backoff)
					time.Sleep(backoff)
				}
				if err != nil {
					return fmt.Errorf("user %s: %w", user.Username, err)
				}
				users[userNum] = user
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < s.config.NumUsers; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// registerUser registers the account, falling back to login when it already
// exists from an earlier run.
func (s *EnhancedSimulator) registerUser(ctx context.Context, user *SimulatedUser) error {
	creds := api.AuthRequest{Username: user.Username, Password: s.config.Password}

	body, status, err := s.makeRequest(ctx, http.MethodPost, "/auth/register", creds)
	if err == nil && status == http.StatusBadRequest {
		body, status, err = s.makeRequest(ctx, http.MethodPost, "/auth/login", creds)
	}
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("request failed with status: %d", status)
	}

	var resp api.AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	user.Token = resp.Token
	return nil
}

// makeRequest sends a JSON request and returns the body and status code.
func (s *EnhancedSimulator) makeRequest(ctx context.Context, method, endpoint string, data interface{}) ([]byte, int, error) {
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	s.recordRequestMetrics(start, err)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return respBody, resp.StatusCode, err
}

func (s *EnhancedSimulator) wsURL(token string) string {
	base := "ws" + strings.TrimPrefix(s.config.EngineURL, "http")
	return base + "/ws?token=" + token
}

// connect opens the user's websocket, registers the identity and starts
// listening for events.
func (s *EnhancedSimulator) connect(ctx context.Context, user *SimulatedUser) error {
	start := time.Now()
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL(user.Token), nil)
	s.recordRequestMetrics(start, err)
	if err != nil {
		return err
	}

	user.mu.Lock()
	user.conn = conn
	user.pending = nil
	user.mu.Unlock()

	if err := s.emit(user, api.EventRegister, api.RegisterPayload{Identity: user.Username}); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	user.connected = true
	s.mu.Unlock()

	go s.listen(user, conn)
	return nil
}

func (s *EnhancedSimulator) disconnect(user *SimulatedUser) {
	user.mu.Lock()
	conn := user.conn
	user.conn = nil
	user.mu.Unlock()
	if conn == nil {
		return
	}
	conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
}

func (s *EnhancedSimulator) disconnectAll() {
	s.mu.Lock()
	users := s.users
	for _, user := range users {
		user.connected = false
	}
	s.mu.Unlock()
	for _, user := range users {
		s.disconnect(user)
	}
}

// emit writes one envelope on the user's websocket.
func (s *EnhancedSimulator) emit(user *SimulatedUser, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	user.mu.Lock()
	defer user.mu.Unlock()
	if user.conn == nil {
		return fmt.Errorf("%s is offline", user.Username)
	}
	if event == api.EventSend {
		user.pending = append(user.pending, time.Now())
	}
	return user.conn.WriteJSON(api.Envelope{Event: event, Data: data})
}

func (s *EnhancedSimulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			users := append([]*SimulatedUser(nil), s.users...)
			s.mu.RUnlock()

			for _, user := range users {
				s.mu.Lock()
				connected := user.connected
				drop := connected && s.chance(s.config.DisconnectRate)
				rejoin := !connected && s.chance(s.config.ReconnectRate)
				if drop {
					user.connected = false
				}
				s.mu.Unlock()

				switch {
				case drop:
					s.disconnect(user)
				case rejoin:
					if err := s.connect(ctx, user); err != nil {
						s.logger.Debug("reconnect failed", "user", user.Username, "error", err)
					}
				}
			}
		}
	}
}

func (s *EnhancedSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *EnhancedSimulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info("simulation metrics",
				"active_users", m.ActiveUsers,
				"total_users", m.TotalUsers,
				"sent", m.MessagesSent,
				"delivered", m.MessagesDelivered,
				"read_updates", m.ReadUpdates,
				"typing", m.TypingSent,
				"avg_latency", m.AverageLatency,
				"errors", m.ErrorCount,
				"req_per_sec", fmt.Sprintf("%.2f", m.RequestsPerSecond),
			)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ActiveUsers       int
	MessagesSent      int
	MessagesAccepted  int
	MessagesDelivered int
	MessagesReceived  int
	ReadUpdates       int
	TypingSent        int
	TypingReceived    int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *EnhancedSimulator) GetMetrics() SimulationMetrics {
	s.mu.RLock()
	totalUsers := len(s.users)
	activeUsers := 0
	for _, user := range s.users {
		if user.connected {
			activeUsers++
		}
	}
	s.mu.RUnlock()

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        totalUsers,
		ActiveUsers:       activeUsers,
		MessagesSent:      s.stats.MessagesSent,
		MessagesAccepted:  s.stats.MessagesAccepted,
		MessagesDelivered: s.stats.MessagesDelivered,
		MessagesReceived:  s.stats.MessagesReceived,
		ReadUpdates:       s.stats.ReadUpdates,
		TypingSent:        s.stats.TypingSent,
		TypingReceived:    s.stats.TypingReceived,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests) + s.stats.ErrorEvents,
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
