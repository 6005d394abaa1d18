package conflict

import (
	"reflect"
	"testing"
	"time"

	"tradeshare/internal/models"
)

var syncTime = t0.Add(24 * time.Hour)

func TestResolveMergeTags(t *testing.T) {
	p := canonicalPosition()
	p.Tags = []string{"B", "C"}
	r := replicaOf(p)
	r.Tags = []string{"A", "B"}

	got, diff := Resolve(r, p, models.DefaultPolicy(), syncTime)

	if !reflect.DeepEqual(got.Tags, []string{"A", "B", "C"}) {
		t.Errorf("tags = %v, want [A B C]", got.Tags)
	}
	if !HasConflicts(diff) {
		t.Error("diff should report the tag conflict")
	}
}

func TestResolveMergeComments(t *testing.T) {
	base := canonicalPosition()
	r := replicaOf(base)
	r.Comments = append(r.Comments, comment("c-local", 10, "bob's note"))

	p := base.Clone()
	p.Comments = append(p.Comments, comment("c-remote", 5, "alice's note"))

	got, _ := Resolve(r, p, models.DefaultPolicy(), syncTime)

	ids := make([]models.CommentID, len(got.Comments))
	for i, c := range got.Comments {
		ids[i] = c.ID
	}
	want := []models.CommentID{"c-1", "c-remote", "c-local"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("comment order = %v, want %v", ids, want)
	}
}

func TestResolveCustomTagOverrideKeep(t *testing.T) {
	p := canonicalPosition()
	r := replicaOf(p)
	r.Tags = []string{"income", "urgent", "weekly"}
	p.Tags = []string{"income", "weekly"}

	policy := models.ResolutionPolicy{
		Tags:         models.StrategyCustom,
		TagOverrides: map[string]models.TagDecision{"urgent": models.TagKeep},
	}
	got, _ := Resolve(r, p, policy, syncTime)

	if !contains(got.Tags, "urgent") {
		t.Errorf("tags = %v, want urgent kept", got.Tags)
	}
}

func TestResolveCustomTagRules(t *testing.T) {
	p := canonicalPosition()
	p.Tags = []string{"both", "remote-only", "remote-keep"}
	r := replicaOf(p)
	r.Tags = []string{"both", "local-only", "local-drop"}

	policy := models.ResolutionPolicy{
		Tags: models.StrategyCustom,
		TagOverrides: map[string]models.TagDecision{
			"remote-keep": models.TagKeep,
			"local-drop":  models.TagRemove,
		},
	}
	got, _ := Resolve(r, p, policy, syncTime)

	want := []string{"both", "local-only", "remote-keep"}
	if !reflect.DeepEqual(got.Tags, want) {
		t.Errorf("tags = %v, want %v", got.Tags, want)
	}
}

func TestResolveLocalAndRemoteStrategies(t *testing.T) {
	p := canonicalPosition()
	r := replicaOf(p)
	r.Tags = []string{"mine"}
	r.Symbol = "SPX"
	r.Comments = nil

	local := models.ResolutionPolicy{Tags: models.StrategyLocal, Comments: models.StrategyLocal, Details: models.StrategyLocal}
	got, _ := Resolve(r, p, local, syncTime)
	if !reflect.DeepEqual(got.Tags, []string{"mine"}) || got.Symbol != "SPX" || len(got.Comments) != 0 {
		t.Errorf("local policy result: tags=%v symbol=%s comments=%d", got.Tags, got.Symbol, len(got.Comments))
	}

	got, _ = Resolve(r, p, models.RemotePolicy(), syncTime)
	if !reflect.DeepEqual(got.Tags, p.Tags) || got.Symbol != "SPY" || len(got.Comments) != 1 {
		t.Errorf("remote policy result: tags=%v symbol=%s comments=%d", got.Tags, got.Symbol, len(got.Comments))
	}
}

func TestResolveKeepsIdentityAndCanonicalLegs(t *testing.T) {
	p := canonicalPosition()
	r := replicaOf(p)
	p.Legs = p.Legs[:1]

	got, _ := Resolve(r, p, models.DefaultPolicy(), syncTime)

	if got.ID != r.ID || got.OriginalID != p.ID || got.UserID != "bob" {
		t.Errorf("identity changed: %+v", got)
	}
	if len(got.Legs) != 1 {
		t.Errorf("legs = %d, want canonical's 1", len(got.Legs))
	}
}

func TestResolveSyncMetadata(t *testing.T) {
	p := canonicalPosition()
	r := replicaOf(p)

	got, _ := Resolve(r, p, models.DefaultPolicy(), syncTime)
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(syncTime) {
		t.Fatalf("LastSyncedAt = %v, want %v", got.LastSyncedAt, syncTime)
	}
	if len(got.SyncHistory) != 1 || got.SyncHistory[0].HadConflicts {
		t.Errorf("sync history = %+v", got.SyncHistory)
	}

	earlier := syncTime.Add(-time.Hour)
	again, _ := Resolve(got, p, models.DefaultPolicy(), earlier)
	if !again.LastSyncedAt.Equal(syncTime) {
		t.Errorf("LastSyncedAt moved backwards to %v", again.LastSyncedAt)
	}
	if len(again.SyncHistory) != 2 {
		t.Errorf("sync history length = %d, want 2", len(again.SyncHistory))
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	p := canonicalPosition()
	r := replicaOf(p)
	r.Tags = []string{"z", "a"}
	r.Comments = []models.Comment{comment("c-9", 9, "late"), comment("c-0", 0, "early")}

	Resolve(r, p, models.DefaultPolicy(), syncTime)

	if r.Tags[0] != "z" || r.Comments[0].ID != "c-9" || r.LastSyncedAt != nil {
		t.Error("Resolve modified the local replica")
	}
	if len(p.Tags) != 2 || len(p.Comments) != 1 {
		t.Error("Resolve modified the canonical position")
	}
}

func TestResolveKeepsReplicaActivity(t *testing.T) {
	p := canonicalPosition()
	p.ActivityLog = []models.ActivityLogEntry{{ID: "a-1", Type: models.ActivityPositionCreated, Timestamp: t0}}
	r := replicaOf(p)
	r.ActivityLog = append(r.ActivityLog, models.ActivityLogEntry{ID: "a-2", Type: models.ActivitySyncPerformed, Timestamp: t0.Add(time.Hour)})

	got, _ := Resolve(r, p, models.DefaultPolicy(), syncTime)
	if len(got.ActivityLog) != 2 || got.ActivityLog[1].ID != "a-2" {
		t.Errorf("activity log = %+v", got.ActivityLog)
	}
}

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
