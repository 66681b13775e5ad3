// Package presence tracks which connection currently speaks for each
// identity on this node.
package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// Conn is a live connection handle events can be dispatched to.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// Gauge receives the number of online identities after every change.
type Gauge interface {
	SetOnline(n int)
}

// Registry maps identities to connections. The most recent registration for
// an identity wins; the connection it replaced keeps running but no longer
// receives events addressed to that identity.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Conn
	byConn map[Conn]map[string]struct{}
	gauge  Gauge
	logger *slog.Logger
}

func NewRegistry(gauge Gauge, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:   make(map[string]Conn),
		byConn: make(map[Conn]map[string]struct{}),
		gauge:  gauge,
		logger: logger.With("component", "presence"),
	}
}

// Register binds identity to conn, replacing any previous binding.
func (r *Registry) Register(identity string, conn Conn) {
	r.mu.Lock()
	prev, existed := r.byID[identity]
	if existed && prev != conn {
		r.forgetLocked(prev, identity)
	}
	r.byID[identity] = conn
	ids, ok := r.byConn[conn]
	if !ok {
		ids = make(map[string]struct{})
		r.byConn[conn] = ids
	}
	ids[identity] = struct{}{}
	n := len(r.byID)
	r.mu.Unlock()

	if existed && prev != conn {
		r.logger.Info("identity rebound", "identity", identity, "previous", prev.ID(), "conn", conn.ID())
	} else {
		r.logger.Debug("identity registered", "identity", identity, "conn", conn.ID())
	}
	r.report(n)
}

// Resolve returns the connection currently bound to identity.
func (r *Registry) Resolve(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[identity]
	return conn, ok
}

// Unregister removes every identity still bound to conn and returns them.
// Identities that were since rebound elsewhere are left alone.
func (r *Registry) Unregister(conn Conn) []string {
	r.mu.Lock()
	removed := make([]string, 0, len(r.byConn[conn]))
	for identity := range r.byConn[conn] {
		if r.byID[identity] == conn {
			delete(r.byID, identity)
			removed = append(removed, identity)
		}
	}
	delete(r.byConn, conn)
	n := len(r.byID)
	r.mu.Unlock()

	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Debug("connection unregistered", "conn", conn.ID(), "identities", removed)
	}
	r.report(n)
	return removed
}

// Online returns the identities currently bound, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	online := make([]string, 0, len(r.byID))
	for identity := range r.byID {
		online = append(online, identity)
	}
	r.mu.RUnlock()

	sort.Strings(online)
	return online
}

// Count returns the number of online identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) forgetLocked(conn Conn, identity string) {
	ids := r.byConn[conn]
	delete(ids, identity)
	if len(ids) == 0 {
		delete(r.byConn, conn)
	}
}

func (r *Registry) report(n int) {
	if r.gauge != nil {
		r.gauge.SetOnline(n)
	}
}
