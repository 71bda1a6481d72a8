package wsgw

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// connectionIDAlphabet is the character set the managed service draws
// connection identities from: base62, no padding characters of its own.
const connectionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newConnectionID generates a 12-character [A-Za-z0-9] identity followed by
// a literal "=", e.g. "Ab3dEfGh9kLm=". It only needs to be collision-free
// within a process's uptime, so a random draw over a 62-symbol alphabet at
// 12 characters (~71 bits of entropy; reducing each byte modulo 62 makes
// the first 8 symbols slightly more likely) is far more than sufficient;
// no off-the-shelf id library produces this exact shape.
func newConnectionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; panicking here would surface a broken host
		// environment rather than silently handing out a degenerate id.
		panic(fmt.Errorf("wsgw: reading random connection id bytes: %w", err))
	}

	out := make([]byte, 12)
	for i, b := range buf {
		out[i] = connectionIDAlphabet[int(b)%len(connectionIDAlphabet)]
	}
	return string(out) + "="
}

// newEventID generates a UUID-v4-shaped identifier used for requestId,
// extendedRequestId, and messageId.
func newEventID() string {
	return uuid.NewString()
}
