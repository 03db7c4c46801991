// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers the presence version guard, history idempotence, messages and dashboard history

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wallboard-gateway/internal/presence"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	assert.NoError(t, s.Ping(t.Context()))
}

func TestNewSQLiteStore_ReopenRunsMigrationsOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func testRecord(version uint64, status presence.Status, online bool) presence.Record {
	rec := presence.Record{
		Identity:  "AG001",
		Role:      presence.RoleAgent,
		Team:      "T1",
		Status:    status,
		Online:    online,
		ChangedAt: time.Date(2026, 2, 3, 9, 30, 0, 123, time.UTC),
		Version:   version,
	}
	if online {
		rec.ConnectionID = "conn-1"
	}
	return rec
}

func TestSavePresence_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, ok, err := s.LoadPresence(ctx, "AG001")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := testRecord(1, presence.StatusAvailable, true)
	require.NoError(t, s.SavePresence(ctx, rec))

	got, ok, err := s.LoadPresence(ctx, "AG001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestSavePresence_VersionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	v3 := testRecord(3, presence.StatusBreak, true)
	require.NoError(t, s.SavePresence(ctx, v3))

	// Replaying the same version or an older one changes nothing.
	require.NoError(t, s.SavePresence(ctx, v3))
	require.NoError(t, s.SavePresence(ctx, testRecord(2, presence.StatusBusy, true)))

	got, _, err := s.LoadPresence(ctx, "AG001")
	require.NoError(t, err)
	assert.Equal(t, v3, got)

	v4 := testRecord(4, presence.StatusOffline, false)
	require.NoError(t, s.SavePresence(ctx, v4))
	got, _, err = s.LoadPresence(ctx, "AG001")
	require.NoError(t, err)
	assert.False(t, got.Online)
	assert.Empty(t, got.ConnectionID)
	assert.Equal(t, uint64(4), got.Version)
}

func TestListPresence(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, code := range []presence.Identity{"AG002", "AG001", "SUP01"} {
		rec := testRecord(1, presence.StatusAvailable, true)
		rec.Identity = code
		require.NoError(t, s.SavePresence(ctx, rec))
	}

	recs, err := s.ListPresence(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, presence.Identity("AG001"), recs[0].Identity)
	assert.Equal(t, presence.Identity("SUP01"), recs[2].Identity)
}

func TestStatusHistory_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	events := []presence.Event{
		{Kind: presence.EventOnline, Previous: presence.StatusOffline, Status: presence.StatusAvailable, Version: 1, At: at, Channel: presence.ChannelSocket, ConnectionID: "c1"},
		{Kind: presence.EventStatus, Previous: presence.StatusAvailable, Status: presence.StatusBusy, Version: 2, At: at.Add(time.Minute), Channel: presence.ChannelHTTP},
		{Kind: presence.EventOffline, Previous: presence.StatusBusy, Status: presence.StatusOffline, Version: 3, At: at.Add(2 * time.Minute), Channel: presence.ChannelSocket},
	}
	for _, ev := range events {
		require.NoError(t, s.AppendStatusHistory(ctx, "AG001", ev))
	}
	// A retried write for version 2 with different content is ignored.
	dup := events[1]
	dup.Status = presence.StatusBreak
	require.NoError(t, s.AppendStatusHistory(ctx, "AG001", dup))

	entries, err := s.ListStatusHistory(ctx, "AG001", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].Version)
	assert.Equal(t, presence.StatusBusy, entries[1].Status)
	assert.Equal(t, presence.ChannelHTTP, entries[1].Channel)
	assert.Equal(t, presence.ConnectionID("c1"), entries[2].ConnectionID)

	limited, err := s.ListStatusHistory(ctx, "AG001", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	msgs := []*Message{
		{From: "SUP01", To: "AG001", Kind: MessageKindDirect, Priority: PriorityHigh, Content: "call me", HTML: "<p>call me</p>\n", CreatedAt: at},
		{From: "SUP01", To: "AG002", Kind: MessageKindDirect, Priority: PriorityLow, Content: "hi", HTML: "<p>hi</p>\n", CreatedAt: at.Add(time.Second)},
		{From: "SUP01", Kind: MessageKindBroadcast, Priority: PriorityNormal, Content: "all hands", HTML: "<p>all hands</p>\n", CreatedAt: at.Add(2 * time.Second)},
		{From: "SUP01", Kind: MessageKindBroadcast, Team: "T2", Priority: PriorityNormal, Content: "team two", HTML: "<p>team two</p>\n", CreatedAt: at.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, s.SaveMessage(ctx, m))
		assert.NotEmpty(t, m.ID)
	}

	got, err := s.ListMessages(ctx, "AG001", "T1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "all hands", got[0].Content)
	assert.Equal(t, "call me", got[1].Content)
	assert.Equal(t, presence.Identity("AG001"), got[1].To)

	got, err = s.ListMessages(ctx, "AG002", "T2", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "T2", got[0].Team)

	all, err := s.ListMessages(ctx, "", "", 3)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = s.SaveMessage(ctx, &Message{ID: msgs[0].ID, From: "SUP01", Kind: MessageKindDirect, Priority: PriorityLow, Content: "x", HTML: "x", CreatedAt: at})
	assert.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestDashboardSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveDashboardSnapshot(ctx, &DashboardSnapshot{
			Total:      10,
			Online:     i,
			Offline:    10 - i,
			PerStatus:  map[string]int{"Available": i, "Offline": 10 - i},
			PerTeam:    map[string]map[string]int{"T1": {"Available": i, "Offline": 1}},
			TeamOnline: map[string]int{"T1": i + 1},
			CreatedAt:  at.Add(time.Duration(i) * time.Second),
		}))
	}

	snaps, err := s.ListDashboardSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 2, snaps[0].Online)
	assert.Equal(t, 8, snaps[0].PerStatus["Offline"])
	assert.Equal(t, 2, snaps[0].PerTeam["T1"]["Available"])
	assert.Equal(t, 3, snaps[0].TeamOnline["T1"])
	assert.True(t, snaps[0].CreatedAt.After(snaps[1].CreatedAt))
}

func TestMockStoreMatchesSQLiteGuard(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	require.NoError(t, m.SavePresence(ctx, testRecord(2, presence.StatusBusy, true)))
	require.NoError(t, m.SavePresence(ctx, testRecord(1, presence.StatusAvailable, true)))
	got, ok, err := m.LoadPresence(ctx, "AG001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Version)

	m.FailNextWrites(1)
	assert.ErrorIs(t, m.SavePresence(ctx, testRecord(3, presence.StatusBreak, true)), ErrInjected)
	require.NoError(t, m.SavePresence(ctx, testRecord(3, presence.StatusBreak, true)))
	assert.Equal(t, 4, m.Writes())
}
