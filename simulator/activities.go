package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"gator-chat/internal/api"
	"gator-chat/internal/models"

	ws "github.com/gorilla/websocket"
	"github.com/samber/lo"
)

var phrases = []string{
	"hey, are you around?",
	"did you see the game last night?",
	"lunch at noon?",
	"sending the notes now",
	"on my way",
	"sounds good to me",
}

func (s *EnhancedSimulator) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *EnhancedSimulator) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// getZipfNumber picks an index in [0, max) skewed towards the front, so a few
// peers receive most of the traffic.
func (s *EnhancedSimulator) getZipfNumber(max int) int {
	if max <= 1 || s.config.ZipfS <= 1 {
		return s.intn(max)
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	zipf := rand.NewZipf(s.rng, s.config.ZipfS, 1, uint64(max-1))
	return int(zipf.Uint64())
}

// SimulateActivities sends messages from random connected users to
// Zipf-chosen peers until ctx is done.
func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) error {
	perSecond := s.config.MessageFrequency * float64(s.config.NumUsers) / 60
	if perSecond <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / perSecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sendRandomMessage()
		}
	}
}

func (s *EnhancedSimulator) sendRandomMessage() {
	s.mu.RLock()
	online := lo.Filter(s.users, func(u *SimulatedUser, _ int) bool { return u.connected })
	all := append([]*SimulatedUser(nil), s.users...)
	s.mu.RUnlock()
	if len(online) == 0 || len(all) < 2 {
		return
	}

	sender := online[s.intn(len(online))]
	peers := lo.Filter(all, func(u *SimulatedUser, _ int) bool { return u != sender })
	receiver := peers[s.getZipfNumber(len(peers))]

	if s.chance(s.config.TypingProbability) {
		typing := api.TypingPayload{Sender: sender.Username, Receiver: receiver.Username}
		if s.emit(sender, api.EventTyping, typing) == nil {
			s.count(func(st *SimulationStats) { st.TypingSent++ })
			s.emit(sender, api.EventStopTyping, typing)
		}
	}

	err := s.emit(sender, api.EventSend, api.SendPayload{
		Sender:   sender.Username,
		Receiver: receiver.Username,
		Message:  phrases[s.intn(len(phrases))],
	})
	if err != nil {
		s.logger.Debug("send failed", "user", sender.Username, "error", err)
		return
	}
	s.count(func(st *SimulationStats) { st.MessagesSent++ })
}

func (s *EnhancedSimulator) count(update func(*SimulationStats)) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	update(s.stats)
}

// listen consumes events for user until conn is closed.
func (s *EnhancedSimulator) listen(user *SimulatedUser, conn *ws.Conn) {
	for {
		var env api.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Debug("listener stopped", "user", user.Username, "error", err)
			}
			return
		}
		if err := s.handleEvent(user, env); err != nil {
			s.logger.Debug("event handling failed", "user", user.Username, "event", env.Event, "error", err)
		}
	}
}

func (s *EnhancedSimulator) handleEvent(user *SimulatedUser, env api.Envelope) error {
	switch env.Event {
	case api.EventMessageAccepted:
		var accepted api.MessageAccepted
		if err := json.Unmarshal(env.Data, &accepted); err != nil {
			return err
		}
		user.mu.Lock()
		var sentAt time.Time
		if len(user.pending) > 0 {
			sentAt, user.pending = user.pending[0], user.pending[1:]
		}
		user.mu.Unlock()
		if !sentAt.IsZero() {
			s.recordRequestMetrics(sentAt, nil)
		}
		s.count(func(st *SimulationStats) {
			st.MessagesAccepted++
			if accepted.Outcome == "delivered" {
				st.MessagesDelivered++
			}
		})

	case api.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		s.count(func(st *SimulationStats) { st.MessagesReceived++ })
		if s.chance(s.config.ReadProbability) {
			return s.emit(user, api.EventReadAck, api.ReadAckPayload{MessageID: msg.ID})
		}

	case api.EventReadUpdate:
		s.count(func(st *SimulationStats) { st.ReadUpdates++ })

	case api.EventUserTyping:
		s.count(func(st *SimulationStats) { st.TypingReceived++ })

	case api.EventUserStopTyping:

	case api.EventError:
		var failure api.ErrorPayload
		if err := json.Unmarshal(env.Data, &failure); err != nil {
			return err
		}
		s.count(func(st *SimulationStats) { st.ErrorEvents++ })
		return fmt.Errorf("%s: %s", failure.Code, failure.Message)
	}
	return nil
}
