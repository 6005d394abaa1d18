package models

import (
	"time"

	"github.com/google/uuid"
)

// EventID identifies a change event.
type EventID string

// NewEventID returns a fresh event id.
func NewEventID() EventID { return EventID(uuid.NewString()) }

// EventType represents what kind of mutation a change event announces.
type EventType string

const (
	EventPositionUpdated EventType = "position_updated"
	EventCommentAdded    EventType = "comment_added"
	EventTagChanged      EventType = "tag_changed"
	EventPositionShared  EventType = "position_shared"
	EventShareRevoked    EventType = "share_revoked"
	EventPositionDeleted EventType = "position_deleted"
)

// ChangeEvent is an advisory "something changed" notification. It never
// carries authoritative data; receivers must sync to learn what changed.
type ChangeEvent struct {
	ID         EventID        `json:"id"`
	Type       EventType      `json:"type"`
	PositionID PositionID     `json:"positionId"`
	OwnerID    UserID         `json:"ownerId"`
	Recipients []UserID       `json:"recipients"`
	Processed  []UserID       `json:"processed"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data"`
}

// IsFor reports whether userID is a recipient of the event.
func (e *ChangeEvent) IsFor(userID UserID) bool {
	return containsUser(e.Recipients, userID)
}

// ProcessedBy reports whether userID has already consumed the event.
func (e *ChangeEvent) ProcessedBy(userID UserID) bool {
	return containsUser(e.Processed, userID)
}

// PendingFor reports whether the event is addressed to userID and not yet
// consumed by them.
func (e *ChangeEvent) PendingFor(userID UserID) bool {
	return e.IsFor(userID) && !e.ProcessedBy(userID)
}

// FullyProcessed reports whether every recipient has consumed the event.
func (e *ChangeEvent) FullyProcessed() bool {
	for _, r := range e.Recipients {
		if !e.ProcessedBy(r) {
			return false
		}
	}
	return true
}

// Clone returns a copy with independent recipient and processed sets.
func (e ChangeEvent) Clone() ChangeEvent {
	out := e
	out.Recipients = append([]UserID{}, e.Recipients...)
	out.Processed = append([]UserID{}, e.Processed...)
	return out
}

func containsUser(ids []UserID, id UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
