package wsgw

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// sessionState is the per-session lifecycle state. It is only ever mutated
// by the Session Manager under the sessions-table lock.
type sessionState int

const (
	stateAdmitting sessionState = iota
	stateActive
	stateClosingClient
	stateClosingIdle
	stateClosingHard
	stateClosingAdmin
	stateClosingFailed
	stateClosingShutdown
	stateGone
)

// dispatchesDisconnect reports whether a DISCONNECT event should be sent
// for a session currently in this closing state: every closing state
// except ClosingFailed and ClosingShutdown.
func (s sessionState) dispatchesDisconnect() bool {
	switch s {
	case stateClosingFailed, stateClosingShutdown:
		return false
	default:
		return true
	}
}

// session is one accepted WebSocket connection and everything captured at
// connect time. The Session Manager is the only writer of conn and state;
// lastActivityMillis is updated atomically so readers never need the table
// lock just to check activity.
type session struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	// lastActivityMillis stores unix-millisecond timestamps and is updated
	// with atomic stores so that frame handling, management pushes, and
	// the idle timer never contend on the sessions-table mutex for this
	// alone. Monotonic per session.
	lastActivityMillis atomic.Int64

	query      map[string]string
	headers    map[string]string
	sourceIP   string
	userAgent  string

	state sessionState

	// writeMu serializes writes to conn: management pushes and the
	// manager's own close frames can race, but gorilla/websocket requires
	// at most one concurrent writer.
	writeMu sync.Mutex

	// closed guards against writing to, or closing, a socket more than
	// once: a double close is a no-op.
	closed atomic.Bool
}

func newSession(id string, conn *websocket.Conn, query, headers map[string]string, sourceIP, userAgent string, connectedAt time.Time) *session {
	s := &session{
		id:          id,
		conn:        conn,
		connectedAt: connectedAt,
		query:       query,
		headers:     headers,
		sourceIP:    sourceIP,
		userAgent:   userAgent,
		state:       stateAdmitting,
	}
	s.touch(connectedAt)
	return s
}

// touch records activity at t, enforcing monotonicity: a timestamp older
// than the current one is never stored, which matters because the accept
// path and the first frame can race a caller-supplied clock in tests.
func (s *session) touch(t time.Time) {
	ms := t.UnixMilli()
	for {
		cur := s.lastActivityMillis.Load()
		if ms <= cur {
			return
		}
		if s.lastActivityMillis.CompareAndSwap(cur, ms) {
			return
		}
	}
}

func (s *session) lastActivity() time.Time {
	return time.UnixMilli(s.lastActivityMillis.Load())
}

// writeText writes a text frame to the client socket, outside of any
// sessions-table lock. Returns websocket.ErrCloseSent if the socket was
// already closed.
func (s *session) writeText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWithCode writes a close frame with the given code/reason exactly
// once; subsequent calls are no-ops.
func (s *session) closeWithCode(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

// sessionTable is the mutex-guarded live-sessions map. All insertions and
// removals take the lock briefly; socket writes always happen outside of
// it.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) insert(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.id] = s
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

func (t *sessionTable) setState(id string, state sessionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.state = state
	}
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// snapshot returns every live session. Used only by shutdown, which must
// iterate without holding the lock across socket writes.
func (t *sessionTable) snapshot() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
