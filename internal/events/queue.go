// Package events provides the advisory change event queue.
//
// Events only say that something may have changed on a position. They are
// consumed independently by each recipient and are never used as a source
// of data: the sync orchestrator always reloads the canonical position.
package events

import (
	"sync"
	"time"

	"tradeshare/internal/models"
)

// Queue is an append-only event queue with per-recipient processed tracking.
// It is safe for concurrent use.
type Queue struct {
	mu     sync.RWMutex
	events []*models.ChangeEvent
	now    func() time.Time
}

// NewQueue creates an empty queue using the wall clock.
func NewQueue() *Queue {
	return NewQueueWithClock(time.Now)
}

// NewQueueWithClock creates an empty queue with an injected clock.
func NewQueueWithClock(now func() time.Time) *Queue {
	return &Queue{now: now}
}

// Recipients returns who should hear about a change made by publisher: every
// recipient when the owner publishes, only the owner when a recipient does.
func Recipients(canonical *models.Position, publisher models.UserID) []models.UserID {
	if publisher == canonical.OwnerID {
		out := make([]models.UserID, 0, len(canonical.SharedWith))
		for _, r := range canonical.SharedWith {
			if r != publisher {
				out = append(out, r)
			}
		}
		return out
	}
	return []models.UserID{canonical.OwnerID}
}

// NewEvent builds an unprocessed event about canonical published by
// publisher.
func NewEvent(eventType models.EventType, canonical *models.Position, publisher models.UserID, data map[string]any, at time.Time) models.ChangeEvent {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["publisher"] = string(publisher)

	return models.ChangeEvent{
		ID:         models.NewEventID(),
		Type:       eventType,
		PositionID: canonical.ID,
		OwnerID:    canonical.OwnerID,
		Recipients: Recipients(canonical, publisher),
		Processed:  []models.UserID{},
		Timestamp:  at.UTC(),
		Data:       payload,
	}
}

// Publish records a new event about canonical and returns a copy of it.
// An event with no recipients is still recorded for audit.
func (q *Queue) Publish(eventType models.EventType, canonical *models.Position, publisher models.UserID, data map[string]any) models.ChangeEvent {
	ev := NewEvent(eventType, canonical, publisher, data, q.now())

	q.mu.Lock()
	q.events = append(q.events, &ev)
	q.mu.Unlock()

	return ev.Clone()
}

// Consume returns every event pending for userID and marks them processed
// for that user. A second call with no new events returns an empty slice.
func (q *Queue) Consume(userID models.UserID) []models.ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []models.ChangeEvent{}
	for _, ev := range q.events {
		if ev.PendingFor(userID) {
			ev.Processed = append(ev.Processed, userID)
			out = append(out, ev.Clone())
		}
	}
	return out
}

// Pending returns the events pending for userID without consuming them.
func (q *Queue) Pending(userID models.UserID) []models.ChangeEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := []models.ChangeEvent{}
	for _, ev := range q.events {
		if ev.PendingFor(userID) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// HasPendingEventsFor is a cheap existence check used to decide whether to
// offer a sync. It must not be used to merge data.
func (q *Queue) HasPendingEventsFor(userID models.UserID, positionID models.PositionID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ev := range q.events {
		if ev.PositionID == positionID && ev.PendingFor(userID) {
			return true
		}
	}
	return false
}

// PendingIDsFor returns the ids of events on positionID pending for userID.
func (q *Queue) PendingIDsFor(userID models.UserID, positionID models.PositionID) []models.EventID {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ids []models.EventID
	for _, ev := range q.events {
		if ev.PositionID == positionID && ev.PendingFor(userID) {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// MarkProcessed marks the given events processed for userID. Unknown ids
// and events not addressed to the user are ignored.
func (q *Queue) MarkProcessed(userID models.UserID, ids []models.EventID) {
	if len(ids) == 0 {
		return
	}
	want := make(map[models.EventID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ev := range q.events {
		if _, ok := want[ev.ID]; ok && ev.PendingFor(userID) {
			ev.Processed = append(ev.Processed, userID)
		}
	}
}

// Prune drops events that every recipient has processed and that are older
// than retention. It returns the number of events removed.
func (q *Queue) Prune(retention time.Duration) int {
	cutoff := q.now().Add(-retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.events[:0]
	removed := 0
	for _, ev := range q.events {
		if ev.FullyProcessed() && ev.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(q.events); i++ {
		q.events[i] = nil
	}
	q.events = kept
	return removed
}
