package activity

import (
	"testing"
	"time"

	"tradeshare/internal/models"
)

var (
	alice = models.User{ID: "alice", Name: "Alice"}
	base  = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
)

func TestAppendDoesNotMutateInput(t *testing.T) {
	p := models.Position{ID: "p-1", OwnerID: "alice", Symbol: "AAPL"}
	p.ActivityLog = []models.ActivityLogEntry{PositionCreated(alice, p, base)}

	out := Append(p, models.ActivityTagAdded, alice, map[string]any{"tag": "earnings"}, base.Add(time.Minute))

	if len(p.ActivityLog) != 1 {
		t.Fatalf("input log was modified: %d entries", len(p.ActivityLog))
	}
	if len(out.ActivityLog) != 2 {
		t.Fatalf("output log has %d entries, want 2", len(out.ActivityLog))
	}
	last := out.ActivityLog[1]
	if last.Type != models.ActivityTagAdded || last.UserID != "alice" || last.UserName != "Alice" {
		t.Errorf("unexpected entry: %+v", last)
	}
	if last.ID == "" {
		t.Error("entry should get an id")
	}
}

func TestAppendKeepsChronologicalOrder(t *testing.T) {
	p := models.Position{ID: "p-1"}
	p = AppendEntry(p, TagAdded(alice, "a", base.Add(time.Hour)))
	p = AppendEntry(p, TagAdded(alice, "b", base))

	if len(p.ActivityLog) != 2 {
		t.Fatalf("got %d entries", len(p.ActivityLog))
	}
	first, second := p.ActivityLog[0], p.ActivityLog[1]
	if second.Timestamp.Before(first.Timestamp) {
		t.Errorf("log out of order: %v then %v", first.Timestamp, second.Timestamp)
	}
	if second.Data["tag"] != "b" {
		t.Error("insertion order must be preserved on timestamp ties")
	}
}

func TestAppendReplica(t *testing.T) {
	r := models.SharedReplica{ID: "r-1", OriginalID: "p-1"}
	out := AppendReplica(r, SyncPerformed(alice, 3, true, models.DefaultPolicy(), base))

	if len(r.ActivityLog) != 0 {
		t.Fatal("input replica was modified")
	}
	if Count(out.ActivityLog, models.ActivitySyncPerformed) != 1 {
		t.Fatal("expected one sync_performed entry")
	}
	data := out.ActivityLog[0].Data
	if data["mergedChanges"] != 3 || data["hadConflicts"] != true {
		t.Errorf("unexpected sync data: %v", data)
	}
}

func TestConstructors(t *testing.T) {
	c := models.Comment{ID: "c-1", Text: "tighten the stop"}
	tests := []struct {
		name  string
		entry models.ActivityLogEntry
		typ   models.ActivityType
		key   string
	}{
		{"comment", CommentAdded(alice, c, base), models.ActivityCommentAdded, "commentId"},
		{"tag added", TagAdded(alice, "x", base), models.ActivityTagAdded, "tag"},
		{"tag removed", TagRemoved(alice, "x", base), models.ActivityTagRemoved, "tag"},
		{"edited", PositionEdited(alice, map[string]FieldChange{"symbol": {From: "SPY", To: "QQQ"}}, base), models.ActivityPositionEdited, "symbol"},
		{"shared", PositionShared(alice, []models.UserID{"bob"}, models.AccessComment, base), models.ActivityPositionShared, "recipients"},
		{"revoked", ShareRevoked(alice, "bob", base), models.ActivityShareRevoked, "recipient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.entry.Type != tt.typ {
				t.Errorf("type = %s, want %s", tt.entry.Type, tt.typ)
			}
			if _, ok := tt.entry.Data[tt.key]; !ok {
				t.Errorf("data missing %q: %v", tt.key, tt.entry.Data)
			}
		})
	}
}
