package traversal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules deferred functions. The traversal engine uses it for the
// short "mark completed after a moment" delays on Start and terminal nodes;
// tests substitute an implementation that fires immediately.
type Timer interface {
	// ScheduleAfter schedules fn to run once after delay and returns an
	// identifier usable with Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a scheduled function. Cancelling an unknown or already
	// fired id is not an error.
	Cancel(id string) error
	// Stop cancels everything that is still pending.
	Stop()
}

// SimpleTimer implements Timer with Go's standard time package.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("SimpleTimer.ScheduleAfter: scheduling", "id", id, "delay", delay)

	timer := time.AfterFunc(delay, func() {
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = timer
	t.mu.Unlock()
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
	return nil
}

// Stop cancels all scheduled functions.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	slog.Debug("SimpleTimer.Stop: cancelling pending timers", "count", len(t.timers))
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[string]*time.Timer)
}
