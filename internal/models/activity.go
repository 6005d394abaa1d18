package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityID identifies an activity log entry.
type ActivityID string

// ActivityType represents the kind of change recorded in an activity log.
type ActivityType string

const (
	ActivityCommentAdded    ActivityType = "comment_added"
	ActivityTagAdded        ActivityType = "tag_added"
	ActivityTagRemoved      ActivityType = "tag_removed"
	ActivityPositionEdited  ActivityType = "position_edited"
	ActivitySyncPerformed   ActivityType = "sync_performed"
	ActivityPositionCreated ActivityType = "position_created"
	ActivityPositionShared  ActivityType = "position_shared"
	ActivityShareRevoked    ActivityType = "share_revoked"
)

// ActivityLogEntry is one audit record of who changed what and when.
type ActivityLogEntry struct {
	ID        ActivityID     `json:"id"`
	Type      ActivityType   `json:"type"`
	UserID    UserID         `json:"userId"`
	UserName  string         `json:"userName"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewActivityID returns a fresh activity id.
func NewActivityID() ActivityID { return ActivityID(uuid.NewString()) }

// CloneActivityLog copies the log slice. Entry data maps are shared; the
// log is append-only so entries are never modified in place.
func CloneActivityLog(log []ActivityLogEntry) []ActivityLogEntry {
	if log == nil {
		return nil
	}
	return append([]ActivityLogEntry(nil), log...)
}

// Facet names one independently tracked part of a position in the ledger.
type Facet string

const (
	FacetTags     Facet = "tags"
	FacetComments Facet = "comments"
	FacetLegs     Facet = "legs"
)

// Facets lists the facets a ledger entry may carry, in wire order.
var Facets = []Facet{FacetTags, FacetComments, FacetLegs}

// LedgerChange is a single local edit waiting to be synced.
type LedgerChange struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ChangeLedgerEntry holds the local edits made to one replica since its
// last successful sync.
type ChangeLedgerEntry struct {
	LastLocalUpdate time.Time                `json:"lastLocalUpdate"`
	Changes         map[Facet][]LedgerChange `json:"changes"`
}

// Count returns the total number of recorded changes across facets. A nil
// entry has none.
func (e *ChangeLedgerEntry) Count() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, c := range e.Changes {
		n += len(c)
	}
	return n
}

// Clone returns a copy whose change lists can be modified independently.
func (e ChangeLedgerEntry) Clone() ChangeLedgerEntry {
	out := ChangeLedgerEntry{
		LastLocalUpdate: e.LastLocalUpdate,
		Changes:         make(map[Facet][]LedgerChange, len(e.Changes)),
	}
	for f, c := range e.Changes {
		out.Changes[f] = append([]LedgerChange(nil), c...)
	}
	return out
}

// MarshalJSON always emits the tags, comments and legs lists, empty or not,
// so other layers see a stable record shape.
func (e ChangeLedgerEntry) MarshalJSON() ([]byte, error) {
	changes := make(map[Facet][]LedgerChange, len(e.Changes)+len(Facets))
	for _, f := range Facets {
		changes[f] = []LedgerChange{}
	}
	for f, c := range e.Changes {
		if c == nil {
			c = []LedgerChange{}
		}
		changes[f] = c
	}
	return json.Marshal(struct {
		LastLocalUpdate time.Time                `json:"lastLocalUpdate"`
		Changes         map[Facet][]LedgerChange `json:"changes"`
	}{e.LastLocalUpdate, changes})
}
