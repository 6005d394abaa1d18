// Package conflict compares a recipient's replica with the owner's canonical
// position and applies resolution policies to the result.
//
// Both Detect and Resolve are pure. They never return errors and never
// modify their arguments; every caller that needs to know whether a replica
// has diverged goes through Detect.
package conflict

import (
	"sort"

	"tradeshare/internal/models"
)

// Detail fields compared by Detect.
const (
	FieldSymbol  = "symbol"
	FieldAccount = "account"
)

// TagDiff holds the tag set differences between canonical and local.
type TagDiff struct {
	Added   []string `json:"added"`   // in canonical, not local
	Removed []string `json:"removed"` // in local, not canonical
}

// CommentChange is a comment present on both sides with different text.
type CommentChange struct {
	ID     models.CommentID `json:"id"`
	Local  models.Comment   `json:"local"`
	Remote models.Comment   `json:"remote"`
}

// CommentDiff holds the comment differences between canonical and local.
type CommentDiff struct {
	Added    []models.Comment `json:"added"`
	Removed  []models.Comment `json:"removed"`
	Modified []CommentChange  `json:"modified"`
}

// FieldDiff is the local and remote value of one detail field.
type FieldDiff struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// DetailDiff holds core detail differences.
type DetailDiff struct {
	Changed bool                 `json:"changed"`
	Changes map[string]FieldDiff `json:"changes"`
}

// Diff is the per-facet comparison of a replica against its canonical.
type Diff struct {
	Tags     TagDiff     `json:"tags"`
	Comments CommentDiff `json:"comments"`
	Details  DetailDiff  `json:"details"`

	// LegsChanged reports a structural leg difference. Legs follow the
	// canonical on every sync, so it does not count as a conflict.
	LegsChanged bool `json:"legsChanged"`
}

// Detect compares local with canonical. Output lists are sorted so equal
// inputs always produce equal diffs.
func Detect(local models.SharedReplica, canonical models.Position) Diff {
	return Diff{
		Tags:        diffTags(local.Tags, canonical.Tags),
		Comments:    diffComments(local.Comments, canonical.Comments),
		Details:     diffDetails(local, canonical),
		LegsChanged: Signature(local.Symbol, local.Account, local.Legs) != Signature(canonical.Symbol, canonical.Account, canonical.Legs),
	}
}

// HasConflicts reports whether any facet differs.
func HasConflicts(d Diff) bool {
	return len(d.Tags.Added) > 0 ||
		len(d.Tags.Removed) > 0 ||
		len(d.Comments.Added) > 0 ||
		len(d.Comments.Removed) > 0 ||
		len(d.Comments.Modified) > 0 ||
		d.Details.Changed
}

func diffTags(local, canonical []string) TagDiff {
	return TagDiff{
		Added:   difference(canonical, local),
		Removed: difference(local, canonical),
	}
}

// difference returns the sorted set a \ b.
func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	out := []string{}
	for _, t := range a {
		if _, ok := inB[t]; ok {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func diffComments(local, canonical []models.Comment) CommentDiff {
	localByID := indexComments(local)
	remoteByID := indexComments(canonical)

	d := CommentDiff{
		Added:    []models.Comment{},
		Removed:  []models.Comment{},
		Modified: []CommentChange{},
	}
	for id, rc := range remoteByID {
		lc, ok := localByID[id]
		if !ok {
			d.Added = append(d.Added, rc)
			continue
		}
		if lc.Text != rc.Text {
			d.Modified = append(d.Modified, CommentChange{ID: id, Local: lc, Remote: rc})
		}
	}
	for id, lc := range localByID {
		if _, ok := remoteByID[id]; !ok {
			d.Removed = append(d.Removed, lc)
		}
	}

	sortByTimeThenID(d.Added)
	sortByTimeThenID(d.Removed)
	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i].ID < d.Modified[j].ID })
	return d
}

func indexComments(comments []models.Comment) map[models.CommentID]models.Comment {
	m := make(map[models.CommentID]models.Comment, len(comments))
	for _, c := range comments {
		m[c.ID] = c
	}
	return m
}

func sortByTimeThenID(comments []models.Comment) {
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
}

func diffDetails(local models.SharedReplica, canonical models.Position) DetailDiff {
	d := DetailDiff{Changes: map[string]FieldDiff{}}
	compare := func(field, l, r string) {
		if l != r {
			d.Changed = true
			d.Changes[field] = FieldDiff{Local: l, Remote: r}
		}
	}
	compare(FieldSymbol, local.Symbol, canonical.Symbol)
	compare(FieldAccount, local.Account, canonical.Account)
	return d
}
