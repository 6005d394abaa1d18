// Package positions implements direct edits to canonical positions by their
// owners and to replicas by their recipients.
//
// Every edit appends to the activity log and publishes a change event.
// Recipients with comment access tag and comment on the canonical position
// as well as their replica, and the edit is recorded in the change ledger so
// the next sync surfaces it. Details and legs belong to the owner.
package positions

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tradeshare/internal/activity"
	"tradeshare/internal/conflict"
	"tradeshare/internal/errors"
	"tradeshare/internal/identity"
	"tradeshare/internal/logging"
	"tradeshare/internal/models"
	"tradeshare/internal/store"
)

// NewPosition holds the fields of a position being created.
type NewPosition struct {
	Symbol       string
	Account      string
	StrategyType string
	Legs         []models.Leg
	Tags         []string
}

// DetailEdit holds owner edits to core details. Nil fields are unchanged.
type DetailEdit struct {
	Symbol       *string
	Account      *string
	StrategyType *string
	Legs         []models.Leg
}

// Service performs edits on behalf of the current user.
type Service struct {
	store    store.Store
	identity identity.Provider
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a position service.
func NewService(s store.Store, id identity.Provider, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		identity: id,
		logger:   logger.With().Str("component", "positions").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) user() models.User {
	return s.identity.CurrentUser()
}

// ============================================================================
// Reads
// ============================================================================

// ListOwned returns the current user's canonical positions.
func (s *Service) ListOwned(ctx context.Context) ([]models.Position, error) {
	out, err := s.store.ListPositions(ctx, s.user().ID)
	if err != nil {
		return nil, storeError("list", "", "", err)
	}
	return out, nil
}

// ListShared returns the replicas the current user holds.
func (s *Service) ListShared(ctx context.Context) ([]models.SharedReplica, error) {
	out, err := s.store.ListReplicas(ctx, s.user().ID)
	if err != nil {
		return nil, storeError("list", "", "", err)
	}
	return out, nil
}

// Get returns a canonical position the current user owns or receives.
func (s *Service) Get(ctx context.Context, id models.PositionID) (*models.Position, error) {
	p, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return nil, storeError("get", "", id, err)
	}
	if !p.CanAccess(s.user().ID) {
		return nil, denied("get", "", id, "not the owner or a recipient")
	}
	return p, nil
}

// GetReplica returns one of the current user's replicas.
func (s *Service) GetReplica(ctx context.Context, id models.ReplicaID) (*models.SharedReplica, error) {
	r, err := s.store.GetReplica(ctx, id)
	if err != nil {
		return nil, storeError("get", id, "", err)
	}
	if r.UserID != s.user().ID {
		return nil, denied("get", id, r.OriginalID, "replica belongs to another user")
	}
	return r, nil
}

// ============================================================================
// Owner operations
// ============================================================================

// Create stores a new canonical position owned by the current user.
func (s *Service) Create(ctx context.Context, in NewPosition) (*models.Position, error) {
	symbol, err := validateSymbol(in.Symbol)
	if err != nil {
		return nil, err
	}
	account, err := validateAccount(in.Account)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		tag, err := validateTag(t)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	user := s.user()
	now := s.now().UTC()

	p := models.Position{
		ID:           models.NewPositionID(),
		OwnerID:      user.ID,
		Symbol:       symbol,
		Account:      account,
		StrategyType: in.StrategyType,
		Legs:         models.CloneLegs(in.Legs),
		Tags:         models.NormalizeTags(tags),
		Comments:     []models.Comment{},
		SharedWith:   []models.UserID{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p = activity.AppendEntry(p, activity.PositionCreated(user, p, now))

	if err := s.store.SavePosition(ctx, &p); err != nil {
		return nil, storeError("create", "", p.ID, err)
	}
	logger := logging.WithPosition(s.logger, string(p.ID))
	logger.Info().Str("symbol", p.Symbol).Msg("Position created")
	return &p, nil
}

// Share grants recipients access to the position and creates a never-synced
// replica for each new recipient. Existing recipients get their access
// level updated.
func (s *Service) Share(ctx context.Context, id models.PositionID, recipients []models.UserID, access models.AccessLevel) (*models.Position, error) {
	if access != models.AccessView && access != models.AccessComment {
		return nil, errors.NewValidationError("access", access, "must be view or comment")
	}
	if len(recipients) == 0 {
		return nil, errors.NewValidationError("recipients", recipients, "at least one recipient required")
	}
	for _, r := range recipients {
		if !s.identity.IsValidRecipient(r) {
			return nil, errors.NewValidationError("recipient", r, "not a valid recipient")
		}
	}

	p, err := s.owned(ctx, "share", id)
	if err != nil {
		return nil, err
	}
	user := s.user()
	now := s.now().UTC()

	var added []models.UserID
	for _, r := range recipients {
		if !p.IsSharedWith(r) {
			p.SharedWith = append(p.SharedWith, r)
			added = append(added, r)
		}
		setShare(p, models.Share{RecipientID: r, Access: access, SharedAt: now})
	}
	p.SharedAt = &now
	p.SharedBy = &user
	p.UpdatedAt = now
	*p = activity.AppendEntry(*p, activity.PositionShared(user, recipients, access, now))

	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("share", "", id, err)
	}

	for _, r := range recipients {
		existing, err := s.store.GetReplicaByOriginal(ctx, r, id)
		switch {
		case err == nil:
			existing.Access = access
			err = s.store.SaveReplica(ctx, existing)
		case errors.Is(err, errors.ErrNotFound):
			replica := models.NewReplica(*p, r, access)
			err = s.store.SaveReplica(ctx, &replica)
		}
		if err != nil {
			return nil, storeError("share", "", id, err)
		}
	}

	if err := s.publish(ctx, models.EventPositionShared, p, map[string]any{"recipients": userIDs(added), "accessLevel": string(access)}); err != nil {
		return nil, err
	}
	logger := logging.WithPosition(s.logger, string(id))
	logger.Info().Int("recipients", len(recipients)).Msg("Position shared")
	return p, nil
}

// Revoke removes a recipient. The recipient keeps their replica until they
// leave it, but can no longer sync it.
func (s *Service) Revoke(ctx context.Context, id models.PositionID, recipient models.UserID) (*models.Position, error) {
	p, err := s.owned(ctx, "revoke", id)
	if err != nil {
		return nil, err
	}
	if !p.IsSharedWith(recipient) {
		return nil, errors.NewValidationError("recipient", recipient, "position is not shared with this user")
	}

	// Announce before removal so the revoked recipient hears about it.
	if err := s.publish(ctx, models.EventShareRevoked, p, map[string]any{"recipient": string(recipient)}); err != nil {
		return nil, err
	}

	user := s.user()
	now := s.now().UTC()
	p.SharedWith = removeUser(p.SharedWith, recipient)
	shares := p.Shares[:0]
	for _, sh := range p.Shares {
		if sh.RecipientID != recipient {
			shares = append(shares, sh)
		}
	}
	p.Shares = shares
	p.UpdatedAt = now
	*p = activity.AppendEntry(*p, activity.ShareRevoked(user, recipient, now))

	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("revoke", "", id, err)
	}
	return p, nil
}

// Delete removes the canonical position. Recipients' replicas are left in
// place; their next sync fails with NotFound.
func (s *Service) Delete(ctx context.Context, id models.PositionID) error {
	p, err := s.owned(ctx, "delete", id)
	if err != nil {
		return err
	}
	if err := s.publish(ctx, models.EventPositionDeleted, p, map[string]any{"symbol": p.Symbol}); err != nil {
		return err
	}
	if err := s.store.DeletePosition(ctx, id); err != nil {
		return storeError("delete", "", id, err)
	}
	logger := logging.WithPosition(s.logger, string(id))
	logger.Info().Msg("Position deleted")
	return nil
}

// EditDetails changes core details or legs of an owned position.
func (s *Service) EditDetails(ctx context.Context, id models.PositionID, edit DetailEdit) (*models.Position, error) {
	p, err := s.owned(ctx, "edit", id)
	if err != nil {
		return nil, err
	}

	changes := map[string]activity.FieldChange{}
	apply := func(field string, dst *string, v *string) {
		if v != nil && *v != *dst {
			changes[field] = activity.FieldChange{From: *dst, To: *v}
			*dst = *v
		}
	}
	if edit.Symbol != nil {
		sym, err := validateSymbol(*edit.Symbol)
		if err != nil {
			return nil, err
		}
		edit.Symbol = &sym
	}
	if edit.Account != nil {
		account, err := validateAccount(*edit.Account)
		if err != nil {
			return nil, err
		}
		edit.Account = &account
	}
	apply(conflict.FieldSymbol, &p.Symbol, edit.Symbol)
	apply(conflict.FieldAccount, &p.Account, edit.Account)
	apply("strategyType", &p.StrategyType, edit.StrategyType)
	if edit.Legs != nil {
		before := conflict.Signature(p.Symbol, p.Account, p.Legs)
		after := conflict.Signature(p.Symbol, p.Account, edit.Legs)
		if before != after || len(edit.Legs) != len(p.Legs) {
			changes["legs"] = activity.FieldChange{From: shortSig(before), To: shortSig(after)}
		}
		p.Legs = models.CloneLegs(edit.Legs)
	}
	if len(changes) == 0 {
		return p, nil
	}

	now := s.now().UTC()
	p.UpdatedAt = now
	*p = activity.AppendEntry(*p, activity.PositionEdited(s.user(), changes, now))

	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("edit", "", id, err)
	}
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if err := s.publish(ctx, models.EventPositionUpdated, p, map[string]any{"fields": fields}); err != nil {
		return nil, err
	}
	return p, nil
}

// AddTag tags an owned position. Adding a tag it already has is a no-op.
func (s *Service) AddTag(ctx context.Context, id models.PositionID, tag string) (*models.Position, error) {
	return s.editOwnedTags(ctx, id, tag, true)
}

// RemoveTag untags an owned position. Removing a missing tag is a no-op.
func (s *Service) RemoveTag(ctx context.Context, id models.PositionID, tag string) (*models.Position, error) {
	return s.editOwnedTags(ctx, id, tag, false)
}

func (s *Service) editOwnedTags(ctx context.Context, id models.PositionID, tag string, add bool) (*models.Position, error) {
	tag, err := validateTag(tag)
	if err != nil {
		return nil, err
	}
	p, err := s.owned(ctx, "tag", id)
	if err != nil {
		return nil, err
	}

	tags, changed := applyTag(p.Tags, tag, add)
	if !changed {
		return p, nil
	}
	now := s.now().UTC()
	p.Tags = tags
	p.UpdatedAt = now
	*p = activity.AppendEntry(*p, tagEntry(s.user(), tag, add, now))

	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("tag", "", id, err)
	}
	if err := s.publish(ctx, models.EventTagChanged, p, tagData(tag, add)); err != nil {
		return nil, err
	}
	return p, nil
}

// AddComment comments on an owned position.
func (s *Service) AddComment(ctx context.Context, id models.PositionID, text string) (*models.Position, error) {
	c, err := s.newComment(text)
	if err != nil {
		return nil, err
	}
	p, err := s.owned(ctx, "comment", id)
	if err != nil {
		return nil, err
	}

	p.Comments = append(p.Comments, c)
	models.SortComments(p.Comments)
	p.UpdatedAt = c.CreatedAt
	*p = activity.AppendEntry(*p, activity.CommentAdded(s.user(), c, c.CreatedAt))

	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("comment", "", id, err)
	}
	if err := s.publish(ctx, models.EventCommentAdded, p, map[string]any{"commentId": string(c.ID)}); err != nil {
		return nil, err
	}
	return p, nil
}

// owned loads a position and checks that the current user owns it.
func (s *Service) owned(ctx context.Context, op string, id models.PositionID) (*models.Position, error) {
	p, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return nil, storeError(op, "", id, err)
	}
	if p.OwnerID != s.user().ID {
		return nil, denied(op, "", id, "only the owner may do this")
	}
	return p, nil
}

// ============================================================================
// Recipient operations
// ============================================================================

// AddReplicaTag tags a replica and its canonical position, and records the
// edit for the next sync.
func (s *Service) AddReplicaTag(ctx context.Context, id models.ReplicaID, tag string) (*models.SharedReplica, error) {
	return s.editReplicaTags(ctx, id, tag, true)
}

// RemoveReplicaTag untags a replica and its canonical position, and records
// the edit for the next sync.
func (s *Service) RemoveReplicaTag(ctx context.Context, id models.ReplicaID, tag string) (*models.SharedReplica, error) {
	return s.editReplicaTags(ctx, id, tag, false)
}

func (s *Service) editReplicaTags(ctx context.Context, id models.ReplicaID, tag string, add bool) (*models.SharedReplica, error) {
	tag, err := validateTag(tag)
	if err != nil {
		return nil, err
	}
	r, p, err := s.writableReplica(ctx, "tag", id)
	if err != nil {
		return nil, err
	}

	tags, changed := applyTag(r.Tags, tag, add)
	if !changed {
		return r, nil
	}
	now := s.now().UTC()
	entry := tagEntry(s.user(), tag, add, now)

	if err := s.store.RecordChange(ctx, id, models.FacetTags, tagData(tag, add)); err != nil {
		return nil, storeError("tag", id, r.OriginalID, err)
	}
	if canonical, ok := applyTag(p.Tags, tag, add); ok {
		p.Tags = canonical
		p.UpdatedAt = now
		*p = activity.AppendEntry(*p, entry)
		if err := s.store.SavePosition(ctx, p); err != nil {
			return nil, storeError("tag", id, p.ID, err)
		}
	}
	r.Tags = tags
	*r = activity.AppendReplica(*r, entry)
	if err := s.store.SaveReplica(ctx, r); err != nil {
		return nil, storeError("tag", id, r.OriginalID, err)
	}
	if err := s.publish(ctx, models.EventTagChanged, p, tagData(tag, add)); err != nil {
		return nil, err
	}
	return r, nil
}

// AddReplicaComment comments on a replica and on its canonical position,
// and records the edit for the next sync.
func (s *Service) AddReplicaComment(ctx context.Context, id models.ReplicaID, text string) (*models.SharedReplica, error) {
	c, err := s.newComment(text)
	if err != nil {
		return nil, err
	}
	r, p, err := s.writableReplica(ctx, "comment", id)
	if err != nil {
		return nil, err
	}
	entry := activity.CommentAdded(s.user(), c, c.CreatedAt)

	if err := s.store.RecordChange(ctx, id, models.FacetComments, map[string]any{"commentId": string(c.ID), "text": c.Text}); err != nil {
		return nil, storeError("comment", id, r.OriginalID, err)
	}
	p.Comments = append(p.Comments, c)
	models.SortComments(p.Comments)
	p.UpdatedAt = c.CreatedAt
	*p = activity.AppendEntry(*p, entry)
	if err := s.store.SavePosition(ctx, p); err != nil {
		return nil, storeError("comment", id, p.ID, err)
	}
	r.Comments = append(r.Comments, c)
	models.SortComments(r.Comments)
	*r = activity.AppendReplica(*r, entry)
	if err := s.store.SaveReplica(ctx, r); err != nil {
		return nil, storeError("comment", id, r.OriginalID, err)
	}
	if err := s.publish(ctx, models.EventCommentAdded, p, map[string]any{"commentId": string(c.ID)}); err != nil {
		return nil, err
	}
	return r, nil
}

// EditReplicaDetails always fails: recipients cannot change core details or
// legs. It exists so callers get a typed AuthorizationDenied.
func (s *Service) EditReplicaDetails(ctx context.Context, id models.ReplicaID, _ DetailEdit) error {
	r, err := s.GetReplica(ctx, id)
	if err != nil {
		return err
	}
	return denied("edit", id, r.OriginalID, "recipients may only tag and comment")
}

// Leave drops the current user's replica locally, ledger included.
func (s *Service) Leave(ctx context.Context, id models.ReplicaID) error {
	r, err := s.GetReplica(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReplica(ctx, id); err != nil {
		return storeError("leave", id, r.OriginalID, err)
	}
	return nil
}

// writableReplica loads a replica of the current user together with its
// canonical position. Both must allow the user to comment.
func (s *Service) writableReplica(ctx context.Context, op string, id models.ReplicaID) (*models.SharedReplica, *models.Position, error) {
	r, err := s.GetReplica(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.Access == models.AccessView {
		return nil, nil, denied(op, id, r.OriginalID, "view access does not allow edits")
	}
	p, err := s.store.GetPosition(ctx, r.OriginalID)
	if err != nil {
		return nil, nil, storeError(op, id, r.OriginalID, err)
	}
	switch p.AccessFor(r.UserID) {
	case models.AccessComment:
		return r, p, nil
	case models.AccessView:
		return nil, nil, denied(op, id, p.ID, "view access does not allow edits")
	default:
		return nil, nil, denied(op, id, p.ID, "position is no longer shared with you")
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Service) publish(ctx context.Context, t models.EventType, p *models.Position, data map[string]any) error {
	if _, err := s.store.Publish(ctx, t, p, s.user().ID, data); err != nil {
		return storeError("publish", "", p.ID, err)
	}
	return nil
}

func (s *Service) newComment(text string) (models.Comment, error) {
	text, err := validateComment(text)
	if err != nil {
		return models.Comment{}, err
	}
	user := s.user()
	now := s.now().UTC()
	return models.Comment{
		ID:        models.NewCommentID(),
		UserID:    user.ID,
		UserName:  user.Name,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func applyTag(tags []string, tag string, add bool) ([]string, bool) {
	has := false
	for _, t := range tags {
		if t == tag {
			has = true
			break
		}
	}
	switch {
	case add && !has:
		return models.NormalizeTags(append(append([]string{}, tags...), tag)), true
	case !add && has:
		out := make([]string, 0, len(tags)-1)
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out, true
	}
	return tags, false
}

func tagEntry(user models.User, tag string, add bool, at time.Time) models.ActivityLogEntry {
	if add {
		return activity.TagAdded(user, tag, at)
	}
	return activity.TagRemoved(user, tag, at)
}

func tagData(tag string, add bool) map[string]any {
	action := "removed"
	if add {
		action = "added"
	}
	return map[string]any{"tag": tag, "action": action}
}

func setShare(p *models.Position, sh models.Share) {
	for i := range p.Shares {
		if p.Shares[i].RecipientID == sh.RecipientID {
			p.Shares[i].Access = sh.Access
			return
		}
	}
	p.Shares = append(p.Shares, sh)
}

func removeUser(ids []models.UserID, id models.UserID) []models.UserID {
	out := make([]models.UserID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func userIDs(ids []models.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func shortSig(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}

func storeError(op string, replica models.ReplicaID, position models.PositionID, err error) error {
	kind := errors.KindPersistence
	if errors.Is(err, errors.ErrNotFound) {
		kind = errors.KindNotFound
	}
	return errors.NewSyncError(kind, op, string(replica), string(position), err)
}

func denied(op string, replica models.ReplicaID, position models.PositionID, reason string) error {
	return errors.NewSyncError(errors.KindAuthorizationDenied, op, string(replica), string(position),
		errors.Wrap(errors.ErrAuthorizationDenied, reason))
}
