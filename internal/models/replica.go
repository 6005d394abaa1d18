package models

import "time"

// Strategy is a resolution strategy for one facet of a position.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	StrategyMerge  Strategy = "merge"
	StrategyCustom Strategy = "custom"
)

// Valid reports whether s is a known strategy. The empty strategy is
// valid and means "use the facet default".
func (s Strategy) Valid() bool {
	switch s {
	case "", StrategyLocal, StrategyRemote, StrategyMerge, StrategyCustom:
		return true
	}
	return false
}

// TagDecision is a per-tag override used by custom tag resolution.
type TagDecision string

const (
	TagKeep   TagDecision = "keep"
	TagRemove TagDecision = "remove"
)

// ResolutionPolicy selects a strategy per facet.
type ResolutionPolicy struct {
	Tags         Strategy               `json:"tags"`
	Comments     Strategy               `json:"comments"`
	Details      Strategy               `json:"details"`
	TagOverrides map[string]TagDecision `json:"tagOverrides,omitempty"`
}

// DefaultPolicy merges tags and comments and keeps canonical details.
func DefaultPolicy() ResolutionPolicy {
	return ResolutionPolicy{
		Tags:     StrategyMerge,
		Comments: StrategyMerge,
		Details:  StrategyRemote,
	}
}

// RemotePolicy takes the canonical position for every facet.
func RemotePolicy() ResolutionPolicy {
	return ResolutionPolicy{
		Tags:     StrategyRemote,
		Comments: StrategyRemote,
		Details:  StrategyRemote,
	}
}

// SyncRecord is one entry of a replica's sync history.
type SyncRecord struct {
	Timestamp    time.Time        `json:"timestamp"`
	HadConflicts bool             `json:"hadConflicts"`
	Policy       ResolutionPolicy `json:"policy"`
}

// SharedReplica is a recipient's local copy of a canonical position.
// OriginalID never changes and LastSyncedAt never moves backwards.
type SharedReplica struct {
	ID           ReplicaID          `json:"id"`
	OriginalID   PositionID         `json:"originalId"`
	OwnerID      UserID             `json:"ownerId"`
	UserID       UserID             `json:"userId"`
	Access       AccessLevel        `json:"accessLevel"`
	LastSyncedAt *time.Time         `json:"lastSyncedAt"`
	Symbol       string             `json:"symbol"`
	Account      string             `json:"account"`
	StrategyType string             `json:"strategyType,omitempty"`
	Legs         []Leg              `json:"legs"`
	Tags         []string           `json:"tags"`
	Comments     []Comment          `json:"comments"`
	ActivityLog  []ActivityLogEntry `json:"activityLog"`
	SharedBy     *User              `json:"sharedBy,omitempty"`
	SyncHistory  []SyncRecord       `json:"syncHistory,omitempty"`
}

// NewReplica builds a never-synced replica of canonical for recipient.
func NewReplica(canonical Position, recipient UserID, access AccessLevel) SharedReplica {
	c := canonical.Clone()
	return SharedReplica{
		ID:           NewReplicaID(),
		OriginalID:   c.ID,
		OwnerID:      c.OwnerID,
		UserID:       recipient,
		Access:       access,
		Symbol:       c.Symbol,
		Account:      c.Account,
		StrategyType: c.StrategyType,
		Legs:         c.Legs,
		Tags:         c.Tags,
		Comments:     c.Comments,
		ActivityLog:  c.ActivityLog,
		SharedBy:     c.SharedBy,
	}
}

// NeverSynced reports whether the replica has not completed a sync yet.
func (r *SharedReplica) NeverSynced() bool {
	return r.LastSyncedAt == nil
}

// Clone returns a deep copy of the replica.
func (r SharedReplica) Clone() SharedReplica {
	out := r
	out.Legs = CloneLegs(r.Legs)
	out.Tags = append([]string(nil), r.Tags...)
	out.Comments = append([]Comment(nil), r.Comments...)
	out.ActivityLog = CloneActivityLog(r.ActivityLog)
	out.SyncHistory = append([]SyncRecord(nil), r.SyncHistory...)
	if r.LastSyncedAt != nil {
		t := *r.LastSyncedAt
		out.LastSyncedAt = &t
	}
	if r.SharedBy != nil {
		u := *r.SharedBy
		out.SharedBy = &u
	}
	return out
}
