// Package store provides persistence interfaces and implementations for
// canonical positions, replicas, the change ledger and change events.
package store

import (
	"context"
	"time"

	"tradeshare/internal/errors"
	"tradeshare/internal/models"
)

// ErrLedgerChanged is returned by Commit when the replica's ledger entry was
// modified after the sync loaded it. The commit is not applied.
var ErrLedgerChanged = errors.New("ledger changed since sync started")

// CanonicalStore holds owner-side positions.
type CanonicalStore interface {
	GetPosition(ctx context.Context, id models.PositionID) (*models.Position, error)
	ListPositions(ctx context.Context, owner models.UserID) ([]models.Position, error)
	// SavePosition inserts or updates p. Changing the owner of an existing
	// position fails with errors.ErrOwnerImmutable.
	SavePosition(ctx context.Context, p *models.Position) error
	DeletePosition(ctx context.Context, id models.PositionID) error
}

// ReplicaStore holds recipient-side replicas.
type ReplicaStore interface {
	GetReplica(ctx context.Context, id models.ReplicaID) (*models.SharedReplica, error)
	GetReplicaByOriginal(ctx context.Context, user models.UserID, original models.PositionID) (*models.SharedReplica, error)
	ListReplicas(ctx context.Context, user models.UserID) ([]models.SharedReplica, error)
	ListReplicasOf(ctx context.Context, original models.PositionID) ([]models.SharedReplica, error)
	// SaveReplica inserts or updates r. Changing the original id of an
	// existing replica fails with errors.ErrOriginalImmutable.
	SaveReplica(ctx context.Context, r *models.SharedReplica) error
	DeleteReplica(ctx context.Context, id models.ReplicaID) error
}

// LedgerStore persists the change ledger.
type LedgerStore interface {
	RecordChange(ctx context.Context, id models.ReplicaID, facet models.Facet, data any) error
	HasUnsyncedChanges(ctx context.Context, id models.ReplicaID) (bool, error)
	GetUnsyncedChanges(ctx context.Context, id models.ReplicaID) (*models.ChangeLedgerEntry, error)
	ClearChanges(ctx context.Context, id models.ReplicaID) error
	ListPositionsWithChanges(ctx context.Context) ([]models.ReplicaID, error)
}

// EventStore persists the change event queue.
type EventStore interface {
	Publish(ctx context.Context, eventType models.EventType, canonical *models.Position, publisher models.UserID, data map[string]any) (models.ChangeEvent, error)
	Consume(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error)
	Pending(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error)
	HasPendingEventsFor(ctx context.Context, user models.UserID, position models.PositionID) (bool, error)
	PendingIDsFor(ctx context.Context, user models.UserID, position models.PositionID) ([]models.EventID, error)
	PruneEvents(ctx context.Context, retention time.Duration) (int, error)
}

// Commit is the write set of one sync. It is applied entirely or not at all.
type Commit struct {
	// Replica is the resolved replica, activity entry already appended.
	Replica models.SharedReplica
	// LedgerSeen is the LastLocalUpdate of the ledger entry the sync
	// resolved, nil when there was none. A different current entry aborts
	// the commit with ErrLedgerChanged.
	LedgerSeen *time.Time
	// User and Events name the change events to mark processed.
	User   models.UserID
	Events []models.EventID
	Status SyncStatus
}

// Committer applies a sync's write set atomically.
type Committer interface {
	Commit(ctx context.Context, c Commit) error
}

// Store combines every repository with the atomic commit.
type Store interface {
	CanonicalStore
	ReplicaStore
	LedgerStore
	EventStore
	Committer
	StatusStore

	// Lifecycle
	Close() error
}

// StatusStore exposes the per-replica sync status written by Commit.
type StatusStore interface {
	GetSyncStatus(ctx context.Context, id models.ReplicaID) (*SyncStatus, error)
}

func notFound(kind string, id any) error {
	return errors.Wrapf(errors.ErrNotFound, "%s %v", kind, id)
}

func ledgerMatches(current *models.ChangeLedgerEntry, seen *time.Time) bool {
	if current == nil {
		return seen == nil
	}
	return seen != nil && current.LastLocalUpdate.Equal(*seen)
}
