package wsgw

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimbuslabs/wsgw/internal/config"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	return zap.NewNop().Sugar()
}

func TestDispatcher_ClassifiesAcceptedAndRejected(t *testing.T) {
	var lastMethod string
	var lastContentType string
	var statusToReturn int

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod = r.Method
		lastContentType = r.Header.Get("Content-Type")
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(statusToReturn)
	}))
	defer backend.Close()

	enc := newEventEncoder("prod", "example", "abc123")
	d := newIntegrationDispatcher(config.ModeLambdaProxy, map[string]string{
		connectRouteKey: backend.URL,
	}, enc, testLogger(t))
	s := newTestSession()

	statusToReturn = http.StatusOK
	outcome := d.dispatch(context.Background(), EventConnect, connectRouteKey, s, "", nil)
	assert.Equal(t, outcomeAccepted, outcome)
	assert.Equal(t, http.MethodPost, lastMethod)
	assert.Equal(t, "application/json", lastContentType)

	statusToReturn = http.StatusInternalServerError
	outcome = d.dispatch(context.Background(), EventConnect, connectRouteKey, s, "", nil)
	assert.Equal(t, outcomeRejected, outcome)
}

func TestDispatcher_UnreachableWhenNoIntegrationRegistered(t *testing.T) {
	enc := newEventEncoder("prod", "example", "abc123")
	d := newIntegrationDispatcher(config.ModeLambdaProxy, map[string]string{}, enc, testLogger(t))
	s := newTestSession()

	outcome := d.dispatch(context.Background(), EventMessage, "chat", s, "hi", nil)
	assert.Equal(t, outcomeUnreachable, outcome)
}

func TestDispatcher_UnreachableOnTransportError(t *testing.T) {
	enc := newEventEncoder("prod", "example", "abc123")
	d := newIntegrationDispatcher(config.ModeLambdaProxy, map[string]string{
		connectRouteKey: "http://127.0.0.1:1", // nothing listens here
	}, enc, testLogger(t))
	s := newTestSession()

	outcome := d.dispatch(context.Background(), EventConnect, connectRouteKey, s, "", nil)
	assert.Equal(t, outcomeUnreachable, outcome)
}

func TestDispatcher_HTTPHeadersModeSendsRawBodyAndHeaders(t *testing.T) {
	var gotBody []byte
	var gotConnHeader string

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotConnHeader = r.Header.Get("connectionId")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	enc := newEventEncoder("prod", "example", "abc123")
	d := newIntegrationDispatcher(config.ModeHTTPHeaders, map[string]string{
		"chat": backend.URL,
	}, enc, testLogger(t))
	s := newTestSession()

	outcome := d.dispatch(context.Background(), EventMessage, "chat", s, "raw text", nil)
	require.Equal(t, outcomeAccepted, outcome)
	assert.Equal(t, "raw text", string(gotBody))
	assert.Equal(t, s.id, gotConnHeader)
}
