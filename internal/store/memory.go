package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeshare/internal/errors"
	"tradeshare/internal/events"
	"tradeshare/internal/ledger"
	"tradeshare/internal/models"
)

// MemoryStore implements Store in process memory. Positions and replicas are
// copied on the way in and out, so callers never share state with the store.
type MemoryStore struct {
	mu         sync.Mutex
	positions  map[models.PositionID]models.Position
	replicas   map[models.ReplicaID]models.SharedReplica
	statuses   map[models.ReplicaID]SyncStatus
	ledger     *ledger.Ledger
	queue      *events.Queue
	commitHook func(Commit) error
}

// NewMemoryStore creates an empty in-memory store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty in-memory store whose ledger and
// event queue use now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		positions: make(map[models.PositionID]models.Position),
		replicas:  make(map[models.ReplicaID]models.SharedReplica),
		statuses:  make(map[models.ReplicaID]SyncStatus),
		ledger:    ledger.NewWithClock(now),
		queue:     events.NewQueueWithClock(now),
	}
}

// SetCommitHook installs fn to run before a commit is applied. A non-nil
// error aborts the commit with nothing written. Tests use it to simulate
// write failures.
func (s *MemoryStore) SetCommitHook(fn func(Commit) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// GetPosition returns a copy of the canonical position.
func (s *MemoryStore) GetPosition(ctx context.Context, id models.PositionID) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, notFound("position", id)
	}
	c := p.Clone()
	return &c, nil
}

// ListPositions returns the positions owned by owner, oldest first.
func (s *MemoryStore) ListPositions(ctx context.Context, owner models.UserID) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Position
	for _, p := range s.positions {
		if p.OwnerID == owner {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SavePosition stores a copy of p.
func (s *MemoryStore) SavePosition(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.positions[p.ID]; ok && old.OwnerID != p.OwnerID {
		return errors.Wrapf(errors.ErrOwnerImmutable, "position %s", p.ID)
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

// DeletePosition removes the canonical position.
func (s *MemoryStore) DeletePosition(ctx context.Context, id models.PositionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return notFound("position", id)
	}
	delete(s.positions, id)
	return nil
}

// GetReplica returns a copy of the replica.
func (s *MemoryStore) GetReplica(ctx context.Context, id models.ReplicaID) (*models.SharedReplica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replicas[id]
	if !ok {
		return nil, notFound("replica", id)
	}
	c := r.Clone()
	return &c, nil
}

// GetReplicaByOriginal returns user's replica of the canonical position.
func (s *MemoryStore) GetReplicaByOriginal(ctx context.Context, user models.UserID, original models.PositionID) (*models.SharedReplica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.replicas {
		if r.UserID == user && r.OriginalID == original {
			c := r.Clone()
			return &c, nil
		}
	}
	return nil, notFound("replica of", original)
}

// ListReplicas returns every replica held by user.
func (s *MemoryStore) ListReplicas(ctx context.Context, user models.UserID) ([]models.SharedReplica, error) {
	return s.filterReplicas(func(r models.SharedReplica) bool { return r.UserID == user }), nil
}

// ListReplicasOf returns every replica of the canonical position.
func (s *MemoryStore) ListReplicasOf(ctx context.Context, original models.PositionID) ([]models.SharedReplica, error) {
	return s.filterReplicas(func(r models.SharedReplica) bool { return r.OriginalID == original }), nil
}

func (s *MemoryStore) filterReplicas(keep func(models.SharedReplica) bool) []models.SharedReplica {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SharedReplica
	for _, r := range s.replicas {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SaveReplica stores a copy of r.
func (s *MemoryStore) SaveReplica(ctx context.Context, r *models.SharedReplica) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putReplica(*r)
}

func (s *MemoryStore) putReplica(r models.SharedReplica) error {
	if old, ok := s.replicas[r.ID]; ok && old.OriginalID != r.OriginalID {
		return errors.Wrapf(errors.ErrOriginalImmutable, "replica %s", r.ID)
	}
	s.replicas[r.ID] = r.Clone()
	return nil
}

// DeleteReplica removes the replica together with its ledger entry.
func (s *MemoryStore) DeleteReplica(ctx context.Context, id models.ReplicaID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replicas[id]; !ok {
		return notFound("replica", id)
	}
	delete(s.replicas, id)
	delete(s.statuses, id)
	s.ledger.ClearChanges(id)
	return nil
}

// RecordChange appends a local edit to the replica's ledger entry.
func (s *MemoryStore) RecordChange(ctx context.Context, id models.ReplicaID, facet models.Facet, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.RecordChange(id, facet, data)
	return nil
}

// HasUnsyncedChanges reports whether the replica has local edits.
func (s *MemoryStore) HasUnsyncedChanges(ctx context.Context, id models.ReplicaID) (bool, error) {
	return s.ledger.HasUnsyncedChanges(id), nil
}

// GetUnsyncedChanges returns a copy of the replica's ledger entry, or nil.
func (s *MemoryStore) GetUnsyncedChanges(ctx context.Context, id models.ReplicaID) (*models.ChangeLedgerEntry, error) {
	return s.ledger.GetUnsyncedChanges(id), nil
}

// ClearChanges drops the replica's ledger entry.
func (s *MemoryStore) ClearChanges(ctx context.Context, id models.ReplicaID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.ClearChanges(id)
	return nil
}

// ListPositionsWithChanges returns the replicas that have local edits.
func (s *MemoryStore) ListPositionsWithChanges(ctx context.Context) ([]models.ReplicaID, error) {
	return s.ledger.ListPositionsWithChanges(), nil
}

// PutLedgerEntry replaces a replica's ledger entry verbatim, bypassing
// RecordChange. Tests use it to plant entries RecordChange cannot produce.
func (s *MemoryStore) PutLedgerEntry(id models.ReplicaID, entry models.ChangeLedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Put(id, entry)
}

// Publish appends a change event.
func (s *MemoryStore) Publish(ctx context.Context, eventType models.EventType, canonical *models.Position, publisher models.UserID, data map[string]any) (models.ChangeEvent, error) {
	return s.queue.Publish(eventType, canonical, publisher, data), nil
}

// Consume returns and marks processed the events pending for user.
func (s *MemoryStore) Consume(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error) {
	return s.queue.Consume(user), nil
}

// Pending returns the events pending for user without consuming them.
func (s *MemoryStore) Pending(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error) {
	return s.queue.Pending(user), nil
}

// HasPendingEventsFor reports whether user has unprocessed events on position.
func (s *MemoryStore) HasPendingEventsFor(ctx context.Context, user models.UserID, position models.PositionID) (bool, error) {
	return s.queue.HasPendingEventsFor(user, position), nil
}

// PendingIDsFor returns the ids of user's unprocessed events on position.
func (s *MemoryStore) PendingIDsFor(ctx context.Context, user models.UserID, position models.PositionID) ([]models.EventID, error) {
	return s.queue.PendingIDsFor(user, position), nil
}

// PruneEvents drops fully processed events older than retention.
func (s *MemoryStore) PruneEvents(ctx context.Context, retention time.Duration) (int, error) {
	return s.queue.Prune(retention), nil
}

// GetSyncStatus returns the replica's last sync status, or nil if it has
// never been synced.
func (s *MemoryStore) GetSyncStatus(ctx context.Context, id models.ReplicaID) (*SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// Commit applies c under the store lock. Every check runs before the first
// write, so a failed commit leaves the store unchanged.
func (s *MemoryStore) Commit(ctx context.Context, c Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Replica.ID
	if old, ok := s.replicas[id]; ok && old.OriginalID != c.Replica.OriginalID {
		return errors.Wrapf(errors.ErrOriginalImmutable, "replica %s", id)
	}
	if !ledgerMatches(s.ledger.GetUnsyncedChanges(id), c.LedgerSeen) {
		return ErrLedgerChanged
	}
	if s.commitHook != nil {
		if err := s.commitHook(c); err != nil {
			return err
		}
	}

	s.replicas[id] = c.Replica.Clone()
	s.ledger.ClearChanges(id)
	s.queue.MarkProcessed(c.User, c.Events)
	s.statuses[id] = c.Status
	return nil
}
