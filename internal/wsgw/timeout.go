package wsgw

import (
	"sync"
	"time"
)

// timerKind distinguishes the two independent clocks the controller runs
// per session.
type timerKind string

const (
	timerIdle timerKind = "idle"
	timerHard timerKind = "hard"
)

// fireFunc is invoked when a timer expires. It receives the session
// identity and which clock fired; the Session Manager supplies this and is
// responsible for checking the session is still live before closing it.
type fireFunc func(id string, kind timerKind)

// timeoutController owns two single-shot timers per session: an idle timer
// that resets on activity, and a hard timer that is started once at
// session creation and never reset. A mutex-guarded per-key timer table,
// in the same style as a token-bucket rate limiter's refill state, just
// holding scheduled timers instead of refill counters.
type timeoutController struct {
	mu     sync.Mutex
	timers map[string]*time.Timer // key: "<id>:idle" or "<id>:hard"
	onFire fireFunc
}

func newTimeoutController(onFire fireFunc) *timeoutController {
	return &timeoutController{
		timers: make(map[string]*time.Timer),
		onFire: onFire,
	}
}

func timerKey(id string, kind timerKind) string {
	return id + ":" + string(kind)
}

// startHard schedules the session's hard timer. Called exactly once, at
// session creation; never reset or extended regardless of activity.
func (c *timeoutController) startHard(id string, d time.Duration) {
	c.schedule(id, timerHard, d)
}

// startIdle schedules the session's idle timer. Called once at session
// creation.
func (c *timeoutController) startIdle(id string, d time.Duration) {
	c.schedule(id, timerIdle, d)
}

// resetIdle cancels any pending idle timer for id and schedules a fresh one
// of full duration. Called on every observed activity event: an inbound
// frame, or a successful management push.
func (c *timeoutController) resetIdle(id string, d time.Duration) {
	c.schedule(id, timerIdle, d)
}

func (c *timeoutController) schedule(id string, kind timerKind, d time.Duration) {
	key := timerKey(id, kind)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.timers[key]; ok {
		existing.Stop()
	}

	// self is filled in right after AfterFunc returns, so the callback can
	// tell a stale fire (its own timer already superseded by a later
	// resetIdle) apart from a legitimate one — comparing by identity, not
	// just key presence, since the map may already hold a different timer
	// under the same key by the time this fires.
	var self *time.Timer
	self = time.AfterFunc(d, func() {
		c.mu.Lock()
		current, ok := c.timers[key]
		c.mu.Unlock()
		if !ok || current != self {
			return
		}
		c.onFire(id, kind)
	})
	c.timers[key] = self
}

// cancel stops both timers for id and removes them from the table. Called
// synchronously on session destruction, before the session is removed from
// the live set.
func (c *timeoutController) cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, kind := range []timerKind{timerIdle, timerHard} {
		key := timerKey(id, kind)
		if t, ok := c.timers[key]; ok {
			t.Stop()
			delete(c.timers, key)
		}
	}
}
