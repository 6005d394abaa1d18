package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeshare/internal/errors"
	"tradeshare/internal/models"
)

func stepClock() func() time.Time {
	t := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStoreWithClock(filepath.Join(t.TempDir(), "tradeshare.db"), stepClock())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStoreWithClock(stepClock()),
		"sqlite": sqlite,
	}
}

func samplePosition() *models.Position {
	created := time.Date(2024, 9, 1, 15, 0, 0, 0, time.UTC)
	return &models.Position{
		ID:         "p-1",
		OwnerID:    "alice",
		Symbol:     "AAPL",
		Account:    "ACC-7",
		Tags:       []string{"earnings"},
		Comments:   []models.Comment{},
		SharedWith: []models.UserID{"bob"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func sampleReplica(p *models.Position) *models.SharedReplica {
	r := models.NewReplica(*p, "bob", models.AccessComment)
	r.ID = "r-1"
	return &r
}

func TestPositions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := samplePosition()
			require.NoError(t, s.SavePosition(ctx, p))

			got, err := s.GetPosition(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, p.Symbol, got.Symbol)
			assert.Equal(t, p.Tags, got.Tags)

			list, err := s.ListPositions(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, list, 1)

			moved := *p
			moved.OwnerID = "mallory"
			err = s.SavePosition(ctx, &moved)
			assert.ErrorIs(t, err, errors.ErrOwnerImmutable)

			require.NoError(t, s.DeletePosition(ctx, p.ID))
			_, err = s.GetPosition(ctx, p.ID)
			assert.ErrorIs(t, err, errors.ErrNotFound)
			assert.ErrorIs(t, s.DeletePosition(ctx, p.ID), errors.ErrNotFound)
		})
	}
}

func TestReplicas(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := sampleReplica(samplePosition())
			require.NoError(t, s.SaveReplica(ctx, r))

			got, err := s.GetReplicaByOriginal(ctx, "bob", "p-1")
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.True(t, got.NeverSynced())

			of, err := s.ListReplicasOf(ctx, "p-1")
			require.NoError(t, err)
			assert.Len(t, of, 1)

			repointed := *r
			repointed.OriginalID = "p-2"
			assert.ErrorIs(t, s.SaveReplica(ctx, &repointed), errors.ErrOriginalImmutable)

			require.NoError(t, s.RecordChange(ctx, r.ID, models.FacetTags, map[string]any{"added": "x"}))
			require.NoError(t, s.DeleteReplica(ctx, r.ID))

			has, err := s.HasUnsyncedChanges(ctx, r.ID)
			require.NoError(t, err)
			assert.False(t, has, "deleting a replica drops its ledger entry")
			_, err = s.GetReplica(ctx, r.ID)
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestLedger(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.RecordChange(ctx, "r-1", models.FacetTags, map[string]any{"added": "a"}))
			require.NoError(t, s.RecordChange(ctx, "r-1", models.FacetComments, map[string]any{"commentId": "c-1"}))
			require.NoError(t, s.RecordChange(ctx, "r-2", models.FacetTags, map[string]any{"removed": "b"}))

			entry, err := s.GetUnsyncedChanges(ctx, "r-1")
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, 2, entry.Count())
			assert.Len(t, entry.Changes[models.FacetTags], 1)
			assert.Equal(t, entry.Changes[models.FacetComments][0].Timestamp, entry.LastLocalUpdate)

			ids, err := s.ListPositionsWithChanges(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.ReplicaID{"r-1", "r-2"}, ids)

			require.NoError(t, s.ClearChanges(ctx, "r-1"))
			has, err := s.HasUnsyncedChanges(ctx, "r-1")
			require.NoError(t, err)
			assert.False(t, has)

			entry, err = s.GetUnsyncedChanges(ctx, "r-1")
			require.NoError(t, err)
			assert.Nil(t, entry)
		})
	}
}

func TestEvents(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := samplePosition()

			ev, err := s.Publish(ctx, models.EventTagChanged, p, "alice", map[string]any{"tag": "earnings"})
			require.NoError(t, err)
			assert.Equal(t, []models.UserID{"bob"}, ev.Recipients)

			pending, err := s.HasPendingEventsFor(ctx, "bob", p.ID)
			require.NoError(t, err)
			assert.True(t, pending)

			peek, err := s.Pending(ctx, "bob")
			require.NoError(t, err)
			assert.Len(t, peek, 1)

			got, err := s.Consume(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, ev.ID, got[0].ID)
			assert.Equal(t, "earnings", got[0].Data["tag"])

			again, err := s.Consume(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, again)

			removed, err := s.PruneEvents(ctx, -time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
		})
	}
}

func TestCommitAppliesEverything(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := samplePosition()
			r := sampleReplica(p)
			require.NoError(t, s.SaveReplica(ctx, r))
			require.NoError(t, s.RecordChange(ctx, r.ID, models.FacetTags, "x"))
			_, err := s.Publish(ctx, models.EventPositionUpdated, p, "alice", nil)
			require.NoError(t, err)

			entry, err := s.GetUnsyncedChanges(ctx, r.ID)
			require.NoError(t, err)
			ids, err := s.PendingIDsFor(ctx, "bob", p.ID)
			require.NoError(t, err)

			synced := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)
			resolved := *r
			resolved.LastSyncedAt = &synced
			seen := entry.LastLocalUpdate

			err = s.Commit(ctx, Commit{
				Replica:    resolved,
				LedgerSeen: &seen,
				User:       "bob",
				Events:     ids,
				Status:     SyncStatus{ReplicaID: r.ID, LastSync: synced, MergedChanges: 1},
			})
			require.NoError(t, err)

			got, err := s.GetReplica(ctx, r.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastSyncedAt)
			assert.True(t, got.LastSyncedAt.Equal(synced))

			has, _ := s.HasUnsyncedChanges(ctx, r.ID)
			assert.False(t, has)
			pending, _ := s.HasPendingEventsFor(ctx, "bob", p.ID)
			assert.False(t, pending)

			st, err := s.GetSyncStatus(ctx, r.ID)
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.Equal(t, 1, st.MergedChanges)
		})
	}
}

func TestCommitRejectsChangedLedger(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := sampleReplica(samplePosition())
			require.NoError(t, s.SaveReplica(ctx, r))
			require.NoError(t, s.RecordChange(ctx, r.ID, models.FacetTags, "late edit"))

			resolved := *r
			resolved.Tags = []string{"overwritten"}
			err := s.Commit(ctx, Commit{Replica: resolved, User: "bob"})
			assert.ErrorIs(t, err, ErrLedgerChanged)

			got, err := s.GetReplica(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.Tags, got.Tags)
			has, _ := s.HasUnsyncedChanges(ctx, r.ID)
			assert.True(t, has, "ledger must survive a rejected commit")
		})
	}
}

func TestMemoryCommitHookFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoreWithClock(stepClock())
	r := sampleReplica(samplePosition())
	require.NoError(t, s.SaveReplica(ctx, r))
	require.NoError(t, s.RecordChange(ctx, r.ID, models.FacetComments, "c"))
	entry, _ := s.GetUnsyncedChanges(ctx, r.ID)

	s.SetCommitHook(func(Commit) error { return errors.New("disk full") })

	resolved := *r
	resolved.Tags = []string{"changed"}
	seen := entry.LastLocalUpdate
	err := s.Commit(ctx, Commit{Replica: resolved, LedgerSeen: &seen, User: "bob"})
	require.Error(t, err)

	got, _ := s.GetReplica(ctx, r.ID)
	assert.Equal(t, r.Tags, got.Tags)
	after, _ := s.GetUnsyncedChanges(ctx, r.ID)
	assert.Equal(t, entry, after)
	st, _ := s.GetSyncStatus(ctx, r.ID)
	assert.Nil(t, st)
}

func TestSQLiteCommitFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStoreWithClock(filepath.Join(t.TempDir(), "tradeshare.db"), stepClock())
	require.NoError(t, err)
	defer s.Close()

	p := samplePosition()
	r := sampleReplica(p)
	require.NoError(t, s.SaveReplica(ctx, r))
	require.NoError(t, s.RecordChange(ctx, r.ID, models.FacetTags, "watch"))
	_, err = s.Publish(ctx, models.EventTagChanged, p, "alice", map[string]any{"tag": "earnings"})
	require.NoError(t, err)
	entry, err := s.GetUnsyncedChanges(ctx, r.ID)
	require.NoError(t, err)
	ids, err := s.PendingIDsFor(ctx, "bob", p.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// The status write is the last statement of the transaction.
	_, err = s.db.ExecContext(ctx, `DROP TABLE sync_status`)
	require.NoError(t, err)

	synced := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)
	resolved := *r
	resolved.Tags = []string{"changed"}
	resolved.LastSyncedAt = &synced
	seen := entry.LastLocalUpdate
	err = s.Commit(ctx, Commit{
		Replica:    resolved,
		LedgerSeen: &seen,
		User:       "bob",
		Events:     ids,
		Status:     SyncStatus{ReplicaID: r.ID, LastSync: synced},
	})
	require.Error(t, err)

	got, err := s.GetReplica(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Tags, got.Tags)
	assert.Nil(t, got.LastSyncedAt)
	after, err := s.GetUnsyncedChanges(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, entry, after)
	pending, err := s.HasPendingEventsFor(ctx, "bob", p.ID)
	require.NoError(t, err)
	assert.True(t, pending, "events must stay pending after a failed commit")
}

func TestSQLiteCommitCancelledContext(t *testing.T) {
	s, err := NewSQLiteStoreWithClock(filepath.Join(t.TempDir(), "tradeshare.db"), stepClock())
	require.NoError(t, err)
	defer s.Close()

	r := sampleReplica(samplePosition())
	require.NoError(t, s.SaveReplica(context.Background(), r))
	require.NoError(t, s.RecordChange(context.Background(), r.ID, models.FacetComments, "c"))
	entry, _ := s.GetUnsyncedChanges(context.Background(), r.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolved := *r
	resolved.Tags = []string{"changed"}
	seen := entry.LastLocalUpdate
	err = s.Commit(ctx, Commit{Replica: resolved, LedgerSeen: &seen, User: "bob"})
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := s.GetReplica(context.Background(), r.ID)
	assert.Equal(t, r.Tags, got.Tags)
	has, _ := s.HasUnsyncedChanges(context.Background(), r.ID)
	assert.True(t, has)
}

func TestSQLiteCorruptEventRow(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStoreWithClock(filepath.Join(t.TempDir(), "tradeshare.db"), stepClock())
	require.NoError(t, err)
	defer s.Close()

	p := samplePosition()
	ev, err := s.Publish(ctx, models.EventPositionUpdated, p, "alice", nil)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE change_events SET recipients = ? WHERE id = ?`, "{bob", ev.ID)
	require.NoError(t, err)

	_, err = s.Pending(ctx, "bob")
	assert.ErrorContains(t, err, "failed to decode recipients")
	_, err = s.Consume(ctx, "bob")
	assert.Error(t, err)
	_, err = s.HasPendingEventsFor(ctx, "bob", p.ID)
	assert.Error(t, err)
}

func TestFreshness(t *testing.T) {
	now := time.Date(2024, 9, 3, 12, 0, 0, 0, time.UTC)

	never := FreshnessOf("r-1", nil, time.Hour, now)
	assert.Equal(t, "Never synced", FormatFreshness(never))

	recent := FreshnessOf("r-1", &SyncStatus{LastSync: now.Add(-10 * time.Minute)}, time.Hour, now)
	assert.True(t, recent.IsFresh)
	assert.Equal(t, "Synced 10 minutes ago", FormatFreshness(recent))

	old := FreshnessOf("r-1", &SyncStatus{LastSync: now.Add(-50 * time.Hour)}, time.Hour, now)
	assert.False(t, old.IsFresh)
	assert.Contains(t, FormatFreshness(old), "2 days ago")
}
