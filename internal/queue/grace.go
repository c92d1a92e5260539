package queue

import (
	"sync"
	"time"
)

type graceKey struct {
	queueID  uint
	memberID string
}

type graceTimer struct {
	startedAt time.Time
	timer     *time.Timer
}

// graceRegistry tracks the pending-removal timers. A timer is identified by
// (queueID, memberID, startedAt): when it fires it must still be the
// registered one, otherwise it was canceled or replaced and is ignored.
type graceRegistry struct {
	mu       sync.Mutex
	pending  map[graceKey]graceTimer
	lastTick time.Time
	now      func() time.Time
}

func newGraceRegistry(now func() time.Time) *graceRegistry {
	return &graceRegistry{pending: make(map[graceKey]graceTimer), now: now}
}

// start (re)arms the timer for key and returns its startedAt.
func (g *graceRegistry) start(key graceKey, d time.Duration, fire func(startedAt time.Time)) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.pending[key]; ok {
		old.timer.Stop()
	}

	// strictly increasing so a replaced timer can never match again
	at := g.now()
	if !at.After(g.lastTick) {
		at = g.lastTick.Add(time.Nanosecond)
	}
	g.lastTick = at

	g.pending[key] = graceTimer{
		startedAt: at,
		timer:     time.AfterFunc(d, func() { fire(at) }),
	}
	return at
}

// cancel stops the pending timer of key. Canceling nothing is not an error.
func (g *graceRegistry) cancel(key graceKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.pending[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(g.pending, key)
	return true
}

// take claims the expiry of key if startedAt still identifies the live timer.
func (g *graceRegistry) take(key graceKey, startedAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.pending[key]
	if !ok || !t.startedAt.Equal(startedAt) {
		return false
	}
	delete(g.pending, key)
	return true
}

func (g *graceRegistry) isPending(key graceKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

// cancelQueue drops every timer of a queue (clear / delete).
func (g *graceRegistry) cancelQueue(queueID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, t := range g.pending {
		if k.queueID == queueID {
			t.timer.Stop()
			delete(g.pending, k)
		}
	}
}
