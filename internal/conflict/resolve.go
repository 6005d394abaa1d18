package conflict

import (
	"sort"
	"time"

	"tradeshare/internal/models"
)

// Resolve applies policy to local and canonical and returns the resolved
// replica with the diff it was computed from. The result starts as a copy of
// canonical carrying local's identity; each facet is then chosen by policy.
// Legs always follow canonical.
func Resolve(local models.SharedReplica, canonical models.Position, policy models.ResolutionPolicy, now time.Time) (models.SharedReplica, Diff) {
	diff := Detect(local, canonical)
	c := canonical.Clone()
	l := local.Clone()

	out := models.SharedReplica{
		ID:           l.ID,
		OriginalID:   l.OriginalID,
		OwnerID:      c.OwnerID,
		UserID:       l.UserID,
		Access:       l.Access,
		LastSyncedAt: l.LastSyncedAt,
		Symbol:       c.Symbol,
		Account:      c.Account,
		StrategyType: c.StrategyType,
		Legs:         c.Legs,
		SharedBy:     c.SharedBy,
		SyncHistory:  l.SyncHistory,
	}
	if out.SharedBy == nil {
		out.SharedBy = l.SharedBy
	}

	out.Tags = resolveTags(l.Tags, c.Tags, policy)
	out.Comments = resolveComments(l.Comments, c.Comments, policy.Comments)
	if policy.Details == models.StrategyLocal {
		out.Symbol = l.Symbol
		out.Account = l.Account
	}
	out.ActivityLog = mergeActivity(c.ActivityLog, l.ActivityLog)

	synced := now.UTC()
	if l.LastSyncedAt != nil && l.LastSyncedAt.After(synced) {
		synced = *l.LastSyncedAt
	}
	out.LastSyncedAt = &synced
	out.SyncHistory = append(out.SyncHistory, models.SyncRecord{
		Timestamp:    synced,
		HadConflicts: HasConflicts(diff),
		Policy:       policy,
	})

	return out, diff
}

// MergeTags returns the sorted union of a and b.
func MergeTags(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return models.NormalizeTags(all)
}

func resolveTags(local, canonical []string, policy models.ResolutionPolicy) []string {
	switch policy.Tags {
	case models.StrategyLocal:
		return models.NormalizeTags(local)
	case models.StrategyRemote:
		return models.NormalizeTags(canonical)
	case models.StrategyCustom:
		return customTags(local, canonical, policy.TagOverrides)
	default:
		return MergeTags(local, canonical)
	}
}

// customTags keeps a canonical tag when both sides have it or it is
// overridden to keep, then adds every local-only tag not overridden to
// remove.
func customTags(local, canonical []string, overrides map[string]models.TagDecision) []string {
	inLocal := make(map[string]struct{}, len(local))
	for _, t := range local {
		inLocal[t] = struct{}{}
	}
	inCanonical := make(map[string]struct{}, len(canonical))
	for _, t := range canonical {
		inCanonical[t] = struct{}{}
	}

	var out []string
	for _, t := range canonical {
		_, both := inLocal[t]
		if both || overrides[t] == models.TagKeep {
			out = append(out, t)
		}
	}
	for _, t := range local {
		if _, ok := inCanonical[t]; ok {
			continue
		}
		if overrides[t] != models.TagRemove {
			out = append(out, t)
		}
	}
	return models.NormalizeTags(out)
}

func resolveComments(local, canonical []models.Comment, s models.Strategy) []models.Comment {
	var out []models.Comment
	switch s {
	case models.StrategyLocal:
		out = append([]models.Comment{}, local...)
	case models.StrategyRemote:
		out = append([]models.Comment{}, canonical...)
	default:
		out = unionComments(canonical, local)
	}
	models.SortComments(out)
	return out
}

// unionComments is seeded from base and adds every comment of extra whose
// id base does not have.
func unionComments(base, extra []models.Comment) []models.Comment {
	out := make([]models.Comment, 0, len(base)+len(extra))
	seen := make(map[models.CommentID]struct{}, len(base))
	for _, c := range base {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	for _, c := range extra {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// mergeActivity keeps every canonical entry and every replica-only entry
// (earlier sync_performed records), in timestamp order.
func mergeActivity(canonical, local []models.ActivityLogEntry) []models.ActivityLogEntry {
	out := make([]models.ActivityLogEntry, 0, len(canonical)+len(local))
	seen := make(map[models.ActivityID]struct{}, len(canonical))
	for _, e := range canonical {
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	for _, e := range local {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
