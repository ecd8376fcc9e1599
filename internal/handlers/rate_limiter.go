package handlers

import (
	"strings"
	"sync"
	"time"
)

// actorLimiter caps how often a single staff member may hit an endpoint within a fixed window.
type actorLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]actorWindow
}

type actorWindow struct {
	used    int
	resetAt time.Time
}

func newActorLimiter(limit int, window time.Duration, clock func() time.Time) *actorLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &actorLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]actorWindow),
	}
}

// Allow consumes one slot for actorID and reports whether the call may proceed along with
// the time the current window closes.
func (l *actorLimiter) Allow(actorID string) (bool, time.Time) {
	if l == nil {
		return true, time.Time{}
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[actorID]
	if !ok || !now.Before(current.resetAt) {
		l.evictLocked(now)
		current = actorWindow{used: 1, resetAt: now.Add(l.window)}
		l.windows[actorID] = current
		return true, current.resetAt
	}
	if current.used >= l.limit {
		return false, current.resetAt
	}
	current.used++
	l.windows[actorID] = current
	return true, current.resetAt
}

func (l *actorLimiter) evictLocked(now time.Time) {
	for actorID, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, actorID)
		}
	}
}
