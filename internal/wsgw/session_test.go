package wsgw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_TouchIsMonotonic(t *testing.T) {
	s := newTestSession()
	base := s.lastActivity()

	s.touch(base.Add(-time.Hour))
	assert.Equal(t, base, s.lastActivity(), "an older timestamp must never move activity backward")

	later := base.Add(time.Minute)
	s.touch(later)
	assert.WithinDuration(t, later, s.lastActivity(), time.Millisecond)
}

func TestSessionTable_InsertGetRemove(t *testing.T) {
	tbl := newSessionTable()
	s := newTestSession()

	tbl.insert(s)
	got, ok := tbl.get(s.id)
	assert.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, tbl.count())

	tbl.setState(s.id, stateActive)
	got, _ = tbl.get(s.id)
	assert.Equal(t, stateActive, got.state)

	tbl.remove(s.id)
	_, ok = tbl.get(s.id)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.count())
}

func TestSessionState_DispatchesDisconnect(t *testing.T) {
	assert.True(t, stateClosingClient.dispatchesDisconnect())
	assert.True(t, stateClosingIdle.dispatchesDisconnect())
	assert.True(t, stateClosingHard.dispatchesDisconnect())
	assert.True(t, stateClosingAdmin.dispatchesDisconnect())
	assert.False(t, stateClosingFailed.dispatchesDisconnect())
	assert.False(t, stateClosingShutdown.dispatchesDisconnect())
}
