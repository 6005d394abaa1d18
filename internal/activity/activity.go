// Package activity builds the append-only per-position audit trail.
//
// All functions are pure: they return new values and never modify the
// position or replica passed in. The sync orchestrator and the direct-edit
// path both go through this package so the trail looks the same whichever
// way a field changed.
package activity

import (
	"time"

	"tradeshare/internal/models"
)

// New builds an activity entry.
func New(t models.ActivityType, user models.User, data map[string]any, at time.Time) models.ActivityLogEntry {
	if data == nil {
		data = map[string]any{}
	}
	return models.ActivityLogEntry{
		ID:        models.NewActivityID(),
		Type:      t,
		UserID:    user.ID,
		UserName:  user.Name,
		Timestamp: at.UTC(),
		Data:      data,
	}
}

// Append returns a copy of p with one more activity entry.
func Append(p models.Position, t models.ActivityType, user models.User, data map[string]any, at time.Time) models.Position {
	return AppendEntry(p, New(t, user, data, at))
}

// AppendEntry returns a copy of p with e appended to its activity log.
func AppendEntry(p models.Position, e models.ActivityLogEntry) models.Position {
	out := p.Clone()
	out.ActivityLog = appendOrdered(p.ActivityLog, e)
	return out
}

// AppendReplica returns a copy of r with e appended to its activity log.
func AppendReplica(r models.SharedReplica, e models.ActivityLogEntry) models.SharedReplica {
	out := r.Clone()
	out.ActivityLog = appendOrdered(r.ActivityLog, e)
	return out
}

// appendOrdered copies log and appends e. A timestamp earlier than the last
// entry is raised to it so the log stays chronological; insertion order
// breaks the tie.
func appendOrdered(log []models.ActivityLogEntry, e models.ActivityLogEntry) []models.ActivityLogEntry {
	out := make([]models.ActivityLogEntry, len(log), len(log)+1)
	copy(out, log)
	if n := len(out); n > 0 && e.Timestamp.Before(out[n-1].Timestamp) {
		e.Timestamp = out[n-1].Timestamp
	}
	return append(out, e)
}

// CommentAdded records a new comment.
func CommentAdded(user models.User, c models.Comment, at time.Time) models.ActivityLogEntry {
	return New(models.ActivityCommentAdded, user, map[string]any{
		"commentId": string(c.ID),
		"text":      c.Text,
	}, at)
}

// TagAdded records a tag being added.
func TagAdded(user models.User, tag string, at time.Time) models.ActivityLogEntry {
	return New(models.ActivityTagAdded, user, map[string]any{"tag": tag}, at)
}

// TagRemoved records a tag being removed.
func TagRemoved(user models.User, tag string, at time.Time) models.ActivityLogEntry {
	return New(models.ActivityTagRemoved, user, map[string]any{"tag": tag}, at)
}

// FieldChange is the before and after value of an edited field.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PositionEdited records edits to core details or legs.
func PositionEdited(user models.User, changes map[string]FieldChange, at time.Time) models.ActivityLogEntry {
	data := make(map[string]any, len(changes))
	for field, c := range changes {
		data[field] = map[string]any{"from": c.From, "to": c.To}
	}
	return New(models.ActivityPositionEdited, user, data, at)
}

// SyncPerformed records a completed sync and how many local edits it merged.
func SyncPerformed(user models.User, mergedChanges int, hadConflicts bool, policy models.ResolutionPolicy, at time.Time) models.ActivityLogEntry {
	return New(models.ActivitySyncPerformed, user, map[string]any{
		"mergedChanges": mergedChanges,
		"hadConflicts":  hadConflicts,
		"policy": map[string]any{
			"tags":     string(policy.Tags),
			"comments": string(policy.Comments),
			"details":  string(policy.Details),
		},
	}, at)
}

// PositionCreated records the creation of a position.
func PositionCreated(user models.User, p models.Position, at time.Time) models.ActivityLogEntry {
	return New(models.ActivityPositionCreated, user, map[string]any{
		"symbol":  p.Symbol,
		"account": p.Account,
	}, at)
}

// PositionShared records new recipients of a position.
func PositionShared(user models.User, recipients []models.UserID, access models.AccessLevel, at time.Time) models.ActivityLogEntry {
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = string(r)
	}
	return New(models.ActivityPositionShared, user, map[string]any{
		"recipients":  ids,
		"accessLevel": string(access),
	}, at)
}

// ShareRevoked records a recipient losing access.
func ShareRevoked(user models.User, recipient models.UserID, at time.Time) models.ActivityLogEntry {
	return New(models.ActivityShareRevoked, user, map[string]any{"recipient": string(recipient)}, at)
}

// Count returns how many entries of type t the log holds.
func Count(log []models.ActivityLogEntry, t models.ActivityType) int {
	n := 0
	for _, e := range log {
		if e.Type == t {
			n++
		}
	}
	return n
}
