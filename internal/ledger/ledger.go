// Package ledger records local edits to replicas that have not yet been
// merged into canonical state.
//
// A Ledger is a raw append log keyed by replica id. It does not validate the
// shape of recorded data and never notifies anyone; publishing change events
// is the caller's job. An entry is created by the first edit after a sync
// point and removed in full by ClearChanges once a sync succeeds.
package ledger

import (
	"sort"
	"sync"
	"time"

	"tradeshare/internal/errors"
	"tradeshare/internal/models"
)

// Ledger is a session-scoped change ledger. It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[models.ReplicaID]*models.ChangeLedgerEntry
	now     func() time.Time
}

// New creates an empty ledger using the wall clock.
func New() *Ledger {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty ledger with an injected clock.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{
		entries: make(map[models.ReplicaID]*models.ChangeLedgerEntry),
		now:     now,
	}
}

// RecordChange appends data under the given facet and refreshes the
// entry's last local update time.
func (l *Ledger) RecordChange(id models.ReplicaID, facet models.Facet, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		entry = &models.ChangeLedgerEntry{}
		l.entries[id] = entry
	}
	Append(entry, facet, data, l.now())
}

// Append adds one change to entry in place. Persistent stores use it to
// apply the same rules as RecordChange to entries they load themselves.
func Append(entry *models.ChangeLedgerEntry, facet models.Facet, data any, at time.Time) {
	if entry.Changes == nil {
		entry.Changes = make(map[models.Facet][]models.LedgerChange)
	}
	ts := at.UTC()
	entry.Changes[facet] = append(entry.Changes[facet], models.LedgerChange{Timestamp: ts, Data: data})
	entry.LastLocalUpdate = ts
}

// HasUnsyncedChanges reports whether the replica has local edits.
func (l *Ledger) HasUnsyncedChanges(id models.ReplicaID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// GetUnsyncedChanges returns a copy of the replica's entry, or nil.
func (l *Ledger) GetUnsyncedChanges(id models.ReplicaID) *models.ChangeLedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[id]
	if !ok {
		return nil
	}
	c := entry.Clone()
	return &c
}

// ClearChanges removes the replica's entry entirely.
func (l *Ledger) ClearChanges(id models.ReplicaID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// ListPositionsWithChanges returns the ids of replicas with local edits,
// sorted for stable output.
func (l *Ledger) ListPositionsWithChanges() []models.ReplicaID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]models.ReplicaID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Put replaces the replica's entry with a copy of entry, bypassing
// RecordChange.
func (l *Ledger) Put(id models.ReplicaID, entry models.ChangeLedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := entry.Clone()
	l.entries[id] = &c
}

// Validate checks that an entry is well formed: known facets only, and a
// timestamp on every change. It returns a *errors.ValidationError.
func Validate(entry *models.ChangeLedgerEntry) error {
	if entry == nil {
		return nil
	}
	for facet, changes := range entry.Changes {
		if !knownFacet(facet) {
			return errors.NewValidationError("facet", facet, "unknown ledger facet")
		}
		for i, c := range changes {
			if c.Timestamp.IsZero() {
				return errors.NewValidationError(string(facet), i, "change has no timestamp")
			}
		}
	}
	if entry.Count() > 0 && entry.LastLocalUpdate.IsZero() {
		return errors.NewValidationError("lastLocalUpdate", entry.LastLocalUpdate, "missing for non-empty entry")
	}
	return nil
}

func knownFacet(f models.Facet) bool {
	for _, k := range models.Facets {
		if k == f {
			return true
		}
	}
	return false
}
