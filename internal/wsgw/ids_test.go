package wsgw

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var connectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{12}=$`)

func TestNewConnectionID_Shape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newConnectionID()
		assert.Regexp(t, connectionIDPattern, id)
		assert.False(t, seen[id], "generated a duplicate connection id")
		seen[id] = true
	}
}

func TestNewEventID_LooksLikeUUID(t *testing.T) {
	id1 := newEventID()
	id2 := newEventID()
	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, 36)
}
