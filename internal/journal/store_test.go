package journal

import (
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func delivery(id, command string, at time.Time) beacon.Delivery {
	return beacon.Delivery{ID: id, Target: "JFK", Server: "beacond", Index: 1, Command: command, ReceivedAt: at}
}

func TestStore_DeliverAndSeen(t *testing.T) {
	s := setupTestStore(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	seen, err := s.Seen("c-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Deliver(delivery("c-1", "whoami", at)))
	seen, err = s.Seen("c-1")
	require.NoError(t, err)
	assert.True(t, seen)

	got, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, delivery("c-1", "whoami", at), got[0])
}

func TestStore_DuplicateIgnored(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Deliver(delivery("c-1", "whoami", now)))
	require.NoError(t, s.Deliver(delivery("c-1", "changed", now.Add(time.Second))))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := s.Recent(0)
	require.NoError(t, err)
	assert.Equal(t, "whoami", got[0].Command)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	base := time.Now().UTC()
	require.NoError(t, s.Deliver(delivery("a", "one", base)))
	require.NoError(t, s.Deliver(delivery("b", "two", base.Add(time.Minute))))
	require.NoError(t, s.Deliver(delivery("c", "three", base.Add(2*time.Minute))))

	got, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Deliver(delivery("c-1", "whoami", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	seen, err := s.Seen("c-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestStore_AsMultiSinkMember(t *testing.T) {
	s := setupTestStore(t)
	sink := beacon.MultiSink{beacon.LogSink{}, s}
	require.NoError(t, sink.Deliver(delivery("c-9", "uptime", time.Now())))
	seen, err := sink.Seen("c-9")
	require.NoError(t, err)
	assert.True(t, seen)
}
