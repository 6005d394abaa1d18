package events

import (
	"testing"
	"time"

	"tradeshare/internal/models"
)

func testClock() func() time.Time {
	t := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func sharedPosition() *models.Position {
	return &models.Position{
		ID:         "p-1",
		OwnerID:    "alice",
		Symbol:     "SPY",
		SharedWith: []models.UserID{"bob", "carol"},
	}
}

func TestPublishRecipients(t *testing.T) {
	q := NewQueueWithClock(testClock())
	pos := sharedPosition()

	byOwner := q.Publish(models.EventPositionUpdated, pos, "alice", nil)
	if len(byOwner.Recipients) != 2 || byOwner.Recipients[0] != "bob" || byOwner.Recipients[1] != "carol" {
		t.Errorf("owner publish recipients = %v, want [bob carol]", byOwner.Recipients)
	}
	if len(byOwner.Processed) != 0 {
		t.Errorf("new event should have no processed users, got %v", byOwner.Processed)
	}

	byRecipient := q.Publish(models.EventCommentAdded, pos, "bob", map[string]any{"commentId": "c-1"})
	if len(byRecipient.Recipients) != 1 || byRecipient.Recipients[0] != "alice" {
		t.Errorf("recipient publish recipients = %v, want [alice]", byRecipient.Recipients)
	}
	if byRecipient.Data["commentId"] != "c-1" {
		t.Errorf("event data lost: %v", byRecipient.Data)
	}
}

func TestConsumeIsPerRecipientAndIdempotent(t *testing.T) {
	q := NewQueueWithClock(testClock())
	pos := sharedPosition()
	q.Publish(models.EventPositionUpdated, pos, "alice", nil)
	q.Publish(models.EventTagChanged, pos, "alice", nil)

	bobEvents := q.Consume("bob")
	if len(bobEvents) != 2 {
		t.Fatalf("bob consumed %d events, want 2", len(bobEvents))
	}
	if !bobEvents[0].Timestamp.Before(bobEvents[1].Timestamp) {
		t.Error("events should be returned in timestamp order")
	}
	if again := q.Consume("bob"); len(again) != 0 {
		t.Errorf("second consume returned %d events, want 0", len(again))
	}
	if again := q.Consume("bob"); again == nil {
		t.Error("consume should return an empty slice, not nil")
	}

	if !q.HasPendingEventsFor("carol", "p-1") {
		t.Error("carol's events must not be affected by bob consuming")
	}
	if q.HasPendingEventsFor("alice", "p-1") {
		t.Error("owner is not a recipient of her own events")
	}
}

func TestPendingDoesNotConsume(t *testing.T) {
	q := NewQueueWithClock(testClock())
	q.Publish(models.EventPositionUpdated, sharedPosition(), "alice", nil)

	if got := len(q.Pending("bob")); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	if got := len(q.Pending("bob")); got != 1 {
		t.Errorf("Pending must not mark events processed, got %d on second call", got)
	}
}

func TestMarkProcessedOnlyTouchesGivenEvents(t *testing.T) {
	q := NewQueueWithClock(testClock())
	pos := sharedPosition()
	other := &models.Position{ID: "p-2", OwnerID: "alice", SharedWith: []models.UserID{"bob"}}

	q.Publish(models.EventPositionUpdated, pos, "alice", nil)
	q.Publish(models.EventPositionUpdated, other, "alice", nil)

	ids := q.PendingIDsFor("bob", "p-1")
	if len(ids) != 1 {
		t.Fatalf("PendingIDsFor = %v", ids)
	}
	q.MarkProcessed("bob", ids)
	q.MarkProcessed("bob", ids)

	if q.HasPendingEventsFor("bob", "p-1") {
		t.Error("p-1 event should be processed for bob")
	}
	if !q.HasPendingEventsFor("bob", "p-2") {
		t.Error("p-2 event should still be pending for bob")
	}

	for _, ev := range q.events {
		if ev.PositionID == "p-1" && len(ev.Processed) != 1 {
			t.Errorf("processed set has duplicates: %v", ev.Processed)
		}
	}
}

func TestPruneRemovesOnlyFullyProcessedOldEvents(t *testing.T) {
	q := NewQueueWithClock(testClock())
	pos := sharedPosition()
	q.Publish(models.EventPositionUpdated, pos, "alice", nil)
	q.Publish(models.EventPositionUpdated, pos, "alice", nil)

	q.Consume("bob")
	q.Consume("carol")
	q.Publish(models.EventTagChanged, pos, "alice", nil)

	if removed := q.Prune(0); removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if got := len(q.events); got != 1 {
		t.Errorf("remaining events = %d, want 1", got)
	}
}
