package wsgw

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType is the event kind dispatched to a backend integration.
type EventType string

const (
	EventConnect    EventType = "CONNECT"
	EventDisconnect EventType = "DISCONNECT"
	EventMessage    EventType = "MESSAGE"
)

// requestTimeLayout renders requestTime as DD/Mon/YYYY:HH:MM:SS +0000 in
// UTC, matching ^\d{2}/(Jan|Feb|...)/\d{4}:\d{2}:\d{2}:\d{2} \+0000$.
const requestTimeLayout = "02/Jan/2006:15:04:05 -0700"

// identity is the requestContext.identity object.
type identity struct {
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent,omitempty"`
}

// requestContext is the requestContext object of the lambda-proxy payload.
// Field order matches the wire contract's order of semantic importance.
type requestContext struct {
	RouteKey          string   `json:"routeKey"`
	EventType         string   `json:"eventType"`
	ExtendedRequestID string   `json:"extendedRequestId"`
	RequestID         string   `json:"requestId"`
	RequestTime       string   `json:"requestTime"`
	MessageDirection  string   `json:"messageDirection"`
	Stage             string   `json:"stage"`
	ConnectedAt       int64    `json:"connectedAt"`
	RequestTimeEpoch  int64    `json:"requestTimeEpoch"`
	Identity          identity `json:"identity"`
	DomainName        string   `json:"domainName"`
	ConnectionID      string   `json:"connectionId"`
	APIID             string   `json:"apiId"`

	// MessageID is only present for MESSAGE events.
	MessageID *string `json:"messageId,omitempty"`

	// DisconnectStatusCode and DisconnectReason are only present for
	// DISCONNECT events. DisconnectReason uses a pointer so an empty (but
	// present) reason is not dropped by omitempty.
	DisconnectStatusCode *int    `json:"disconnectStatusCode,omitempty"`
	DisconnectReason     *string `json:"disconnectReason,omitempty"`
}

// lambdaProxyPayload is the exact on-wire shape for lambda-proxy mode.
// Field order matches the wire contract's order of semantic importance.
type lambdaProxyPayload struct {
	RequestContext        requestContext      `json:"requestContext"`
	Headers               map[string]string   `json:"headers"`
	MultiValueHeaders     map[string][]string `json:"multiValueHeaders"`
	QueryStringParameters map[string]string   `json:"queryStringParameters"`
	Body                  *string             `json:"body"`
	IsBase64Encoded       bool                `json:"isBase64Encoded"`
}

// disconnectInfo carries the observed close code/reason for a DISCONNECT
// event.
type disconnectInfo struct {
	Code   int
	Reason string
}

// eventEncoder builds the payload dispatched to a backend integration.
type eventEncoder struct {
	stage      string
	domainName string
	apiID      string
}

func newEventEncoder(stage, domainName, apiID string) *eventEncoder {
	return &eventEncoder{stage: stage, domainName: domainName, apiID: apiID}
}

// multiValue expands a single-valued header map into the
// one-element-array-per-key shape the wire contract expects, even
// though it duplicates information already in headers.
func multiValue(headers map[string]string) map[string][]string {
	mv := make(map[string][]string, len(headers))
	for k, v := range headers {
		mv[k] = []string{v}
	}
	return mv
}

func queryOrNil(query map[string]string) map[string]string {
	if len(query) == 0 {
		return nil
	}
	return query
}

// encodeLambdaProxy builds the lambda-proxy mode payload for a session
// event. body is nil for CONNECT/DISCONNECT and the frame text for
// MESSAGE. disc is non-nil only for DISCONNECT.
func (e *eventEncoder) encodeLambdaProxy(evt EventType, routeKey string, s *session, now time.Time, body *string, disc *disconnectInfo) ([]byte, error) {
	rc := requestContext{
		RouteKey:          routeKey,
		EventType:         string(evt),
		ExtendedRequestID: newEventID(),
		RequestTime:       now.UTC().Format(requestTimeLayout),
		MessageDirection:  "IN",
		Stage:             e.stage,
		ConnectedAt:       s.connectedAt.UnixMilli(),
		RequestTimeEpoch:  now.UnixMilli(),
		Identity: identity{
			SourceIP:  s.sourceIP,
			UserAgent: s.userAgent,
		},
		DomainName:   e.domainName,
		ConnectionID: s.id,
		APIID:        e.apiID,
	}
	rc.RequestID = rc.ExtendedRequestID

	switch evt {
	case EventMessage:
		id := newEventID()
		rc.MessageID = &id
	case EventDisconnect:
		if disc != nil {
			code := disc.Code
			reason := disc.Reason
			rc.DisconnectStatusCode = &code
			rc.DisconnectReason = &reason
		}
	}

	payload := lambdaProxyPayload{
		RequestContext:        rc,
		Headers:               s.headers,
		MultiValueHeaders:     multiValue(s.headers),
		QueryStringParameters: queryOrNil(s.query),
		Body:                  body,
		IsBase64Encoded:       false,
	}

	return json.Marshal(payload)
}

// httpHeadersPayload is what encodeHTTPHeaders produces: the raw body and
// the header set the dispatcher attaches to the outbound request in
// HTTP-headers mode.
type httpHeadersPayload struct {
	Body    string
	Headers map[string]string
	Query   map[string]string
}

// encodeHTTPHeaders builds the http-headers mode request shape: body is
// the raw frame text (empty for connect/disconnect) and context travels
// in headers.
func (e *eventEncoder) encodeHTTPHeaders(evt EventType, routeKey string, s *session, body string, disc *disconnectInfo) httpHeadersPayload {
	headers := make(map[string]string, len(s.headers)+4)
	for k, v := range s.headers {
		headers[k] = v
	}
	headers["connectionId"] = s.id
	headers["x-event-type"] = string(evt)
	headers["x-route-key"] = routeKey

	if evt == EventDisconnect && disc != nil {
		headers["x-disconnect-status-code"] = strconv.Itoa(disc.Code)
		headers["x-disconnect-reason"] = disc.Reason
	}

	return httpHeadersPayload{
		Body:    body,
		Headers: headers,
		Query:   s.query,
	}
}
