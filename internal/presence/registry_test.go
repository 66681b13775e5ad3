package presence

import (
	"fmt"
	"sync"
	"testing"

	"gator-chat/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id string }

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Send(event string, _ any) error { return nil }

type recordingGauge struct{ last int }

func (g *recordingGauge) SetOnline(n int) { g.last = n }

func newTestRegistry() (*Registry, *recordingGauge) {
	gauge := &recordingGauge{}
	return NewRegistry(gauge, logging.Discard()), gauge
}

func TestRegisterAndResolve(t *testing.T) {
	r, gauge := newTestRegistry()
	h1 := &fakeConn{id: "h1"}

	_, ok := r.Resolve("alice")
	assert.False(t, ok)

	r.Register("alice", h1)
	conn, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Same(t, h1, conn)
	assert.Equal(t, 1, gauge.last)

	// Registering the same pair again changes nothing.
	r.Register("alice", h1)
	assert.Equal(t, []string{"alice"}, r.Online())
}

func TestLastRegistrationWins(t *testing.T) {
	r, _ := newTestRegistry()
	h1 := &fakeConn{id: "h1"}
	h2 := &fakeConn{id: "h2"}

	r.Register("u", h1)
	r.Register("u", h2)

	conn, ok := r.Resolve("u")
	require.True(t, ok)
	assert.Same(t, h2, conn)

	// The replaced handle no longer owns the identity.
	assert.Empty(t, r.Unregister(h1))
	conn, ok = r.Resolve("u")
	require.True(t, ok)
	assert.Same(t, h2, conn)

	assert.Equal(t, []string{"u"}, r.Unregister(h2))
	_, ok = r.Resolve("u")
	assert.False(t, ok)
}

func TestUnregisterRemovesEveryIdentityOfConn(t *testing.T) {
	r, gauge := newTestRegistry()
	shared := &fakeConn{id: "shared"}
	other := &fakeConn{id: "other"}

	r.Register("a", shared)
	r.Register("b", shared)
	r.Register("c", other)
	r.Register("b", other)
	assert.Equal(t, 3, gauge.last)

	removed := r.Unregister(shared)
	assert.Equal(t, []string{"a"}, removed)

	_, ok := r.Resolve("a")
	assert.False(t, ok)
	conn, ok := r.Resolve("b")
	require.True(t, ok)
	assert.Same(t, other, conn)

	assert.Equal(t, []string{"b", "c"}, r.Online())
	assert.Equal(t, 2, gauge.last)
	assert.Equal(t, 2, r.Count())
}

func TestUnregisterUnknownConn(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Empty(t, r.Unregister(&fakeConn{id: "ghost"}))
}

func TestConcurrentRegistration(t *testing.T) {
	r, _ := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: fmt.Sprintf("c%d", i)}
			identity := fmt.Sprintf("user%d", i%10)
			r.Register(identity, conn)
			r.Resolve(identity)
			r.Unregister(conn)
		}(i)
	}
	wg.Wait()

	// Every connection unregistered itself, so nothing can remain bound.
	assert.Empty(t, r.Online())
}
