package wsgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nimbuslabs/wsgw/internal/config"
)

// dispatchOutcome classifies the result of delivering an event to a
// backend integration.
type dispatchOutcome int

const (
	outcomeAccepted dispatchOutcome = iota
	outcomeRejected
	outcomeUnreachable
)

func (o dispatchOutcome) String() string {
	switch o {
	case outcomeAccepted:
		return "accepted"
	case outcomeRejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

// backendRequestTimeout bounds every outbound dispatch so a slow backend
// can never wedge a client reap.
const backendRequestTimeout = 5 * time.Second

// integrationDispatcher resolves a route key to a backend URI and performs
// the outbound POST, classifying the result. It never retries: events are
// at-most-once from the backend's perspective, and retrying would risk
// duplicating a notification the backend can't distinguish from the first.
type integrationDispatcher struct {
	mode         config.IntegrationMode
	integrations map[string]string
	encoder      *eventEncoder
	client       *http.Client
	log          *zap.SugaredLogger
}

func newIntegrationDispatcher(mode config.IntegrationMode, integrations map[string]string, encoder *eventEncoder, log *zap.SugaredLogger) *integrationDispatcher {
	return &integrationDispatcher{
		mode:         mode,
		integrations: integrations,
		encoder:      encoder,
		client:       &http.Client{Timeout: backendRequestTimeout},
		log:          log,
	}
}

// dispatch resolves routeKey, builds the event payload for s, and POSTs it
// to the integration URI. body is the frame text for MESSAGE events;
// lambda-proxy mode ignores it for other events, while http-headers mode
// sends it as the raw request body for every event. disc carries the
// observed close code/reason for DISCONNECT events.
func (d *integrationDispatcher) dispatch(ctx context.Context, evt EventType, routeKey string, s *session, body string, disc *disconnectInfo) dispatchOutcome {
	uri, ok := d.integrations[routeKey]
	if !ok {
		if routeKey == defaultRouteKey {
			d.log.Warnw("message route resolved to $default but no $default integration is configured",
				"connectionId", s.id)
		} else {
			d.log.Errorw("no integration registered for route key",
				"connectionId", s.id, "routeKey", routeKey, "eventType", evt)
		}
		return outcomeUnreachable
	}

	req, err := d.buildRequest(ctx, evt, routeKey, uri, s, body, disc)
	if err != nil {
		d.log.Errorw("failed to build backend request",
			"connectionId", s.id, "routeKey", routeKey, "error", err)
		return outcomeUnreachable
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warnw("backend unreachable",
			"connectionId", s.id, "routeKey", routeKey, "uri", uri, "error", err)
		return outcomeUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return outcomeAccepted
	}

	d.log.Warnw("backend rejected event",
		"connectionId", s.id, "routeKey", routeKey, "uri", uri, "status", resp.StatusCode)
	return outcomeRejected
}

func (d *integrationDispatcher) buildRequest(ctx context.Context, evt EventType, routeKey, uri string, s *session, body string, disc *disconnectInfo) (*http.Request, error) {
	now := time.Now()

	switch d.mode {
	case config.ModeHTTPHeaders:
		hp := d.encoder.encodeHTTPHeaders(evt, routeKey, s, body, disc)

		target := uri
		if len(hp.Query) > 0 {
			u, err := url.Parse(uri)
			if err != nil {
				return nil, fmt.Errorf("parsing integration uri %q: %w", uri, err)
			}
			q := u.Query()
			for k, v := range hp.Query {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(hp.Body))
		if err != nil {
			return nil, err
		}
		for k, v := range hp.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Content-Type", contentTypeFor(hp.Body))
		return req, nil

	default: // config.ModeLambdaProxy
		var bodyPtr *string
		if evt == EventMessage {
			bodyPtr = &body
		}

		payload, err := d.encoder.encodeLambdaProxy(evt, routeKey, s, now, bodyPtr, disc)
		if err != nil {
			return nil, fmt.Errorf("encoding lambda-proxy payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// contentTypeFor guesses a Content-Type for an http-headers mode body: JSON
// when it parses as JSON, plain text otherwise.
func contentTypeFor(body string) string {
	if body == "" {
		return "text/plain"
	}
	var v interface{}
	if json.Unmarshal([]byte(body), &v) == nil {
		return "application/json"
	}
	return "text/plain"
}
