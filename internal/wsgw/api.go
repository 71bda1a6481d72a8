// api.go wires the management HTTP surface and the WebSocket upgrade route
// onto one gorilla/mux router.
package wsgw

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// goneBody is the fixed 410 response shape for every management operation
// against a missing or closed session.
type goneBody struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
}

// describeBody is the GET /@connections/{id} response shape.
type describeBody struct {
	ConnectionID string `json:"connectionId"`
	ConnectedAt  string `json:"connectedAt"`
	LastActiveAt string `json:"lastActiveAt"`
}

const isoMillis = "2006-01-02T15:04:05.000Z"

// NewRouter builds the single listener's request routing: the WebSocket
// upgrade at "/", the management API at "/@connections/{id}", and
// "/health" — with every other path 404ing.
func NewRouter(m *Manager, health *healthMonitor, log *zap.SugaredLogger) http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(log))

	r.HandleFunc("/", m.ServeWS).Methods(http.MethodGet)

	conns := r.Path("/@connections/{id}").Subrouter()
	conns.HandleFunc("", handlePostToConnection(m)).Methods(http.MethodPost)
	conns.HandleFunc("", handleGetConnection(m)).Methods(http.MethodGet)
	conns.HandleFunc("", handleDeleteConnection(m)).Methods(http.MethodDelete)

	r.HandleFunc("/health", handleHealth(health)).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return r
}

func loggingMiddleware(log *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugw("http request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	}
}

// handlePostToConnection implements postToConnection: write the request
// body verbatim to the socket.
func handlePostToConnection(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if !m.Push(id, body) {
			writeGone(w, id)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleGetConnection(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		connectedAt, lastActiveAt, ok := m.Describe(id)
		if !ok {
			writeGone(w, id)
			return
		}

		writeJSON(w, http.StatusOK, describeBody{
			ConnectionID: id,
			ConnectedAt:  connectedAt.UTC().Format(isoMillis),
			LastActiveAt: lastActiveAt.UTC().Format(isoMillis),
		})
	}
}

func handleDeleteConnection(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if !m.CloseSession(id) {
			writeGone(w, id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHealth(health *healthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health.GetStatus())
	}
}

func writeGone(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusGone, goneBody{Message: "Gone", ConnectionID: id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
