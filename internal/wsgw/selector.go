package wsgw

import (
	"encoding/json"
	"strings"
)

// routeSelector chooses a route key for an inbound message by walking a
// "$request.body.<path>" expression against the message's parsed JSON.
type routeSelector struct {
	// path is the dot-separated member sequence extracted from the
	// configured "$request.body.<path>" expression. Nil means "no
	// expression configured": every message routes to $default.
	path []string
}

const routeExprPrefix = "$request.body."

// newRouteSelector parses the configured route-selection expression. An
// empty expression means every message falls back to $default.
func newRouteSelector(expr string) *routeSelector {
	if expr == "" {
		return &routeSelector{}
	}
	trimmed := strings.TrimPrefix(expr, routeExprPrefix)
	if trimmed == expr {
		// Malformed expression (doesn't match the grammar at all): treat
		// as unconfigured rather than panicking at request time. config.Load
		// rejects this case at startup already.
		return &routeSelector{}
	}
	return &routeSelector{path: strings.Split(trimmed, ".")}
}

// selectRoute chooses a route key for messageText given the configured
// integration table. Returns "$default" whenever the message doesn't
// parse, the path doesn't resolve, the terminal value isn't a string, or
// that string isn't a key present in integrations.
func (r *routeSelector) selectRoute(messageText string, integrations map[string]string) string {
	if len(r.path) == 0 {
		return defaultRouteKey
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(messageText), &doc); err != nil {
		return defaultRouteKey
	}

	cur := doc
	for _, member := range r.path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return defaultRouteKey
		}
		val, ok := obj[member]
		if !ok {
			return defaultRouteKey
		}
		cur = val
	}

	terminal, ok := cur.(string)
	if !ok {
		return defaultRouteKey
	}

	if _, present := integrations[terminal]; present {
		return terminal
	}
	return defaultRouteKey
}

const (
	connectRouteKey    = "$connect"
	disconnectRouteKey = "$disconnect"
	defaultRouteKey    = "$default"
)
