package wsgw

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbuslabs/wsgw/internal/config"
)

// destroyGuard is attached by reference to a session via an external map
// so teardown paths (client close, timer fire, management DELETE, backend
// $connect failure, shutdown) race safely for "destroyed exactly once". It
// is separate from session.closed (which guards only the socket
// write/close operation) because multiple teardown paths must agree on
// who runs cancellation/removal/DISCONNECT-dispatch, not just the close
// frame itself.
type destroyGuard struct {
	done atomic.Bool
}

func (g *destroyGuard) begin() bool {
	return !g.done.Swap(true)
}

// Manager owns every live session, runs the WebSocket lifecycle, serves the
// management HTTP surface, and orchestrates shutdown.
type Manager struct {
	cfg *config.Config
	log *zap.SugaredLogger

	sessions   *sessionTable
	guards     *guardTable
	dispatcher *integrationDispatcher
	selector   *routeSelector
	timeouts   *timeoutController
	encoder    *eventEncoder

	upgrader websocket.Upgrader

	startTime time.Time
}

// guardTable is a tiny mutex-guarded companion map from session id to its
// destroyGuard, kept separate from sessionTable so a guard can outlive the
// brief window between a session vanishing from sessionTable and every
// in-flight teardown path observing that.
type guardTable = mutexMap[*destroyGuard]

// NewManager constructs a Session Manager from validated configuration.
func NewManager(cfg *config.Config, log *zap.SugaredLogger) *Manager {
	enc := newEventEncoder(cfg.Stage, cfg.DomainName, cfg.APIID)
	m := &Manager{
		cfg:       cfg,
		log:       log,
		sessions:  newSessionTable(),
		guards:    newMutexMap[*destroyGuard](),
		selector:  newRouteSelector(cfg.RouteSelectionExpression),
		encoder:   enc,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	m.dispatcher = newIntegrationDispatcher(cfg.IntegrationMode, cfg.Integrations, enc, log)
	m.timeouts = newTimeoutController(m.onTimerFire)
	return m
}

// ServeWS upgrades the request to a WebSocket and runs the session's full
// lifecycle. It blocks for the lifetime of the connection, matching the
// one-goroutine-per-request model net/http already gives each handler
// invocation — one task per inbound read loop.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warnw("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	now := time.Now()
	id := newConnectionID()
	query := snapshotQuery(r)
	headers := snapshotHeaders(r)
	sourceIP := sourceIPFrom(r)
	userAgent := r.Header.Get("User-Agent")

	s := newSession(id, conn, query, headers, sourceIP, userAgent, now)

	m.sessions.insert(s)
	m.guards.set(id, &destroyGuard{})

	idleDur := time.Duration(m.cfg.IdleTimeoutSeconds) * time.Second
	hardDur := time.Duration(m.cfg.HardTimeoutSeconds) * time.Second
	m.timeouts.startHard(id, hardDur)
	m.timeouts.startIdle(id, idleDur)

	m.log.Infow("session admitting", "connectionId", id, "sourceIp", sourceIP)

	outcome := m.dispatcher.dispatch(r.Context(), EventConnect, connectRouteKey, s, "", nil)
	if outcome != outcomeAccepted {
		m.log.Warnw("backend connect failed, rejecting session",
			"connectionId", id, "outcome", outcome.String())
		m.teardown(id, stateClosingFailed, websocket.CloseInternalServerErr, "Backend connect failed", false)
		return
	}

	m.sessions.setState(id, stateActive)
	m.log.Infow("session active", "connectionId", id)

	m.readLoop(s, idleDur)
}

// readLoop reads frames until the client closes or a transport error
// occurs, dispatching MESSAGE events and feeding the idle timer along the
// way.
func (m *Manager) readLoop(s *session, idleDur time.Duration) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			code, reason := closeInfoFromErr(err)
			m.handleClientClose(s.id, code, reason)
			return
		}

		var text string
		switch msgType {
		case websocket.TextMessage:
			text = string(data)
		case websocket.BinaryMessage:
			// Lossy UTF-8 decode rather than base64-encoding with
			// isBase64Encoded=true: binary frames are surfaced as text.
			text = strings.ToValidUTF8(string(data), "�")
		default:
			continue
		}

		now := time.Now()
		s.touch(now)
		m.timeouts.resetIdle(s.id, idleDur)

		routeKey := m.selector.selectRoute(text, m.cfg.Integrations)
		outcome := m.dispatcher.dispatch(context.Background(), EventMessage, routeKey, s, text, nil)
		if outcome != outcomeAccepted {
			// Dispatch failures on messages are logged and discarded; they
			// never tear down the session.
			m.log.Infow("message dispatch not accepted",
				"connectionId", s.id, "routeKey", routeKey, "outcome", outcome.String())
		}
	}
}

// closeInfoFromErr extracts the close code/reason the client reported, or
// falls back to an implementation-defined code for a raw transport error,
// which is treated the same as a client-initiated close.
func closeInfoFromErr(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, "connection error"
}

// handleClientClose runs the ClosingClient teardown path.
func (m *Manager) handleClientClose(id string, code int, reason string) {
	m.teardown(id, stateClosingClient, code, reason, true)
}

// onTimerFire is the Timeout Controller's callback for either clock
// expiring. It is a no-op if the session has already vanished or is
// already being torn down by another path.
func (m *Manager) onTimerFire(id string, kind timerKind) {
	var (
		state  sessionState
		reason string
	)
	if kind == timerIdle {
		state, reason = stateClosingIdle, "Idle timeout"
	} else {
		state, reason = stateClosingHard, "Hard timeout"
	}
	// Both idle and hard expiries close with the same code.
	m.teardown(id, state, 1001, reason, true)
}

// CloseSession implements the management DELETE operation: close the
// socket with code 1000, dispatch DISCONNECT, and remove the session.
// Returns false if the session is absent or already gone.
func (m *Manager) CloseSession(id string) bool {
	if _, ok := m.sessions.get(id); !ok {
		return false
	}
	return m.teardown(id, stateClosingAdmin, 1000, "Closed by management API", true)
}

// Push implements the management POST operation: write body verbatim to
// the session's socket and bump its activity clock (idle only, never
// hard). Returns false if the session is absent or closed.
func (m *Manager) Push(id string, body []byte) bool {
	s, ok := m.sessions.get(id)
	if !ok {
		return false
	}
	if err := s.writeText(body); err != nil {
		return false
	}
	now := time.Now()
	s.touch(now)
	idleDur := time.Duration(m.cfg.IdleTimeoutSeconds) * time.Second
	m.timeouts.resetIdle(id, idleDur)
	return true
}

// Describe implements the management GET operation. Returns false if the
// session is absent.
func (m *Manager) Describe(id string) (connectedAt, lastActiveAt time.Time, ok bool) {
	s, found := m.sessions.get(id)
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return s.connectedAt, s.lastActivity(), true
}

// LiveCount returns the number of currently live sessions, for /health.
func (m *Manager) LiveCount() int {
	return m.sessions.count()
}

// Uptime returns how long this Manager has been serving.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// teardown is the single choke point every closing path funnels through.
// It wins the per-session destroy race exactly once, closes the socket,
// optionally dispatches DISCONNECT, cancels both timers, and removes the
// session from the live set.
func (m *Manager) teardown(id string, state sessionState, code int, reason string, dispatchDisconnect bool) bool {
	guard, ok := m.guards.get(id)
	if !ok || !guard.begin() {
		return false
	}

	s, ok := m.sessions.get(id)
	if !ok {
		m.guards.delete(id)
		return false
	}

	m.sessions.setState(id, state)
	s.closeWithCode(code, reason)

	if dispatchDisconnect && state.dispatchesDisconnect() {
		disc := &disconnectInfo{Code: code, Reason: reason}
		outcome := m.dispatcher.dispatch(context.Background(), EventDisconnect, disconnectRouteKey, s, "", disc)
		if outcome != outcomeAccepted {
			m.log.Infow("disconnect dispatch not accepted",
				"connectionId", id, "outcome", outcome.String())
		}
	}

	m.timeouts.cancel(id)
	m.sessions.remove(id)
	m.guards.delete(id)

	m.log.Infow("session closed", "connectionId", id, "reason", reason, "code", code)
	return true
}

// Shutdown closes every live session with code 1001 and cancels their
// timers, without dispatching DISCONNECT — delivery is not guaranteed
// during a graceful shutdown. It does not stop the HTTP listener itself —
// the caller (cmd/wsgw) owns that via http.Server.Shutdown, since this
// emulator multiplexes the WebSocket upgrade and the management API on
// the very same listener.
func (m *Manager) Shutdown(_ context.Context) {
	for _, s := range m.sessions.snapshot() {
		m.teardown(s.id, stateClosingShutdown, 1001, "Server shutting down", false)
	}
}

func snapshotQuery(r *http.Request) map[string]string {
	out := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		out[k] = vs[len(vs)-1]
	}
	return out
}

func snapshotHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		if len(vs) == 0 {
			continue
		}
		key := strings.ToLower(k)
		if _, exists := out[key]; !exists {
			out[key] = vs[0]
		}
	}
	return out
}

// sourceIPFrom resolves the client address, normalizing an IPv4-mapped
// IPv6 address to its IPv4 form.
func sourceIPFrom(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
