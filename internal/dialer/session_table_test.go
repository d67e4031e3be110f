package dialer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aridialer/internal/database"
	"aridialer/internal/logging"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func tableSession(id string, campaign int64) *Session {
	return newSession(logging.Component("dialer"), id, database.Campaign{ID: campaign, DialTimeout: 30}, database.CampaignNumber{ID: 1, PhoneNumber: "5551000"}, t0)
}

func TestSessionTableOneSessionPerChannel(t *testing.T) {
	tbl := NewSessionTable()
	require.NoError(t, tbl.Add(tableSession("c1", 1)))
	assert.ErrorIs(t, tbl.Add(tableSession("c1", 1)), ErrDuplicateSession)
	assert.Equal(t, 1, tbl.Count())
}

func TestSessionTableAgentIndex(t *testing.T) {
	tbl := NewSessionTable()
	s := tableSession("c1", 1)
	require.NoError(t, tbl.Add(s))

	tbl.LinkAgent("a1", "c1")
	tbl.LinkAgent("a2", "missing")

	found, ok := tbl.FindByAgent("a1")
	require.True(t, ok)
	assert.Same(t, s, found)
	_, ok = tbl.FindByAgent("a2")
	assert.False(t, ok)

	_, ok = tbl.Remove("c1")
	assert.True(t, ok)
	_, ok = tbl.FindByAgent("a1")
	assert.False(t, ok)
	_, ok = tbl.Remove("c1")
	assert.False(t, ok)
}

func TestSessionTableForCampaign(t *testing.T) {
	tbl := NewSessionTable()
	require.NoError(t, tbl.Add(tableSession("c1", 1)))
	require.NoError(t, tbl.Add(tableSession("c2", 2)))
	require.NoError(t, tbl.Add(tableSession("c3", 1)))

	assert.Len(t, tbl.ForCampaign(1), 2)
	assert.Len(t, tbl.ForCampaign(2), 1)
	assert.Len(t, tbl.List(), 3)
}

func TestSessionTableStaleOnlyDialing(t *testing.T) {
	tbl := NewSessionTable()
	dialing := tableSession("c1", 1)
	answered := tableSession("c2", 1)
	answered.markAnswered(t0.Add(time.Second))
	require.NoError(t, tbl.Add(dialing))
	require.NoError(t, tbl.Add(answered))

	assert.Empty(t, tbl.GetStale(t0.Add(40*time.Second), 10*time.Second))
	stale := tbl.GetStale(t0.Add(41*time.Second), 10*time.Second)
	require.Len(t, stale, 1)
	assert.Equal(t, "c1", stale[0].ChannelID)
}

func TestSessionAgentChannelIsImmutable(t *testing.T) {
	s := tableSession("c1", 1)
	assert.True(t, s.attachAgent("a1"))
	assert.False(t, s.attachAgent("a2"))
	assert.Equal(t, "a1", s.AgentChannel())
}

func TestSessionCleanupGuardFlipsOnce(t *testing.T) {
	s := tableSession("c1", 1)
	assert.False(t, s.cleaning())
	assert.True(t, s.beginCleanup())
	assert.False(t, s.beginCleanup())
	assert.True(t, s.cleaning())
}

func TestSessionLoggerExtendsEngineEntry(t *testing.T) {
	s := tableSession("c1", 7)
	fields := s.logger().Data
	assert.Equal(t, "dialer", fields["component"])
	assert.Equal(t, "c1", fields["channel"])
	assert.Equal(t, int64(7), fields["campaign"])
}
