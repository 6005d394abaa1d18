package conflict

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradeshare/internal/models"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

func tagGen() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf("income", "hedge", "weekly", "earnings", "urgent", "swing"))
}

// commentsFrom builds comments whose ids come from ids and timestamps from
// minutes, paired by index. Repeated ids are skipped.
func commentsFrom(ids []int, minutes []int) []models.Comment {
	out := make([]models.Comment, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		m := 0
		if i < len(minutes) {
			m = minutes[i]
		}
		out = append(out, comment(fmt.Sprintf("c-%d", id), m, fmt.Sprintf("text %d", id)))
	}
	return out
}

// Property: tag merge is commutative and idempotent.
func TestProperty_MergeTagsCommutativeIdempotent(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("merge(a,b) == merge(b,a)", prop.ForAll(
		func(a, b []string) bool {
			return reflect.DeepEqual(MergeTags(a, b), MergeTags(b, a))
		},
		tagGen(), tagGen(),
	))

	properties.Property("merge(m,m) == m", prop.ForAll(
		func(a, b []string) bool {
			m := MergeTags(a, b)
			return reflect.DeepEqual(MergeTags(m, m), m)
		},
		tagGen(), tagGen(),
	))

	properties.TestingRun(t)
}

// Property: merged comments keep every comment from either side and come
// back in ascending timestamp order.
func TestProperty_CommentUnionComplete(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	idGen := gen.SliceOf(gen.IntRange(0, 30))
	minuteGen := gen.SliceOf(gen.IntRange(0, 600))

	properties.Property("comment merge never drops and stays sorted", prop.ForAll(
		func(localIDs, localMin, remoteIDs, remoteMin []int) bool {
			p := canonicalPosition()
			p.Comments = commentsFrom(remoteIDs, remoteMin)
			r := replicaOf(canonicalPosition())
			r.Comments = commentsFrom(localIDs, localMin)

			got, _ := Resolve(r, p, models.DefaultPolicy(), syncTime)

			have := make(map[models.CommentID]bool, len(got.Comments))
			for _, c := range got.Comments {
				have[c.ID] = true
			}
			for _, c := range append(p.Comments, r.Comments...) {
				if !have[c.ID] {
					t.Logf("comment %s dropped", c.ID)
					return false
				}
			}
			for i := 1; i < len(got.Comments); i++ {
				if got.Comments[i].CreatedAt.Before(got.Comments[i-1].CreatedAt) {
					return false
				}
			}
			return true
		},
		idGen, minuteGen, idGen, minuteGen,
	))

	properties.TestingRun(t)
}

// Property: a replica equal to its canonical syncs cleanly and the result
// matches the canonical apart from sync metadata.
func TestProperty_CleanSync(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("identical replica resolves to canonical", prop.ForAll(
		func(tags []string, ids, minutes []int, symbol string) bool {
			p := canonicalPosition()
			p.Symbol = symbol
			p.Tags = models.NormalizeTags(tags)
			p.Comments = commentsFrom(ids, minutes)
			models.SortComments(p.Comments)
			r := replicaOf(p)

			got, diff := Resolve(r, p, models.DefaultPolicy(), syncTime)
			if HasConflicts(diff) {
				return false
			}
			if len(got.SyncHistory) != 1 || got.SyncHistory[0].HadConflicts || got.LastSyncedAt == nil {
				return false
			}
			return got.Symbol == p.Symbol &&
				got.Account == p.Account &&
				reflect.DeepEqual(got.Tags, p.Tags) &&
				sameComments(got.Comments, p.Comments) &&
				reflect.DeepEqual(got.Legs, p.Legs)
		},
		tagGen(),
		gen.SliceOf(gen.IntRange(0, 30)),
		gen.SliceOf(gen.IntRange(0, 600)),
		gen.OneConstOf("SPY", "QQQ", "AAPL", "TSLA"),
	))

	properties.TestingRun(t)
}

func sameComments(a, b []models.Comment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			return false
		}
	}
	return true
}
