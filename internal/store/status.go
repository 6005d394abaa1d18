package store

import (
	"fmt"
	"time"

	"tradeshare/internal/models"
)

// SyncStatus is the outcome of the last successful sync of a replica.
type SyncStatus struct {
	ReplicaID     models.ReplicaID `json:"replicaId"`
	LastSync      time.Time        `json:"lastSync"`
	HadConflicts  bool             `json:"hadConflicts"`
	MergedChanges int              `json:"mergedChanges"`
}

// Freshness describes how recently a replica was synced.
type Freshness struct {
	ReplicaID   models.ReplicaID
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// FreshnessOf reports whether status is younger than threshold as of now.
// A nil status means the replica was never synced.
func FreshnessOf(id models.ReplicaID, status *SyncStatus, threshold time.Duration, now time.Time) Freshness {
	f := Freshness{ReplicaID: id}
	if status == nil || status.LastSync.IsZero() {
		return f
	}
	f.LastUpdated = status.LastSync
	f.Age = now.Sub(status.LastSync)
	f.IsFresh = f.Age < threshold
	return f
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(f Freshness) string {
	if f.LastUpdated.IsZero() {
		return "Never synced"
	}

	var ageStr string
	switch age := f.Age; {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if f.IsFresh {
		return fmt.Sprintf("Synced %s", ageStr)
	}
	return fmt.Sprintf("⚠️ Stale - synced %s", ageStr)
}
