// Package syncer brings a recipient's replica up to date with the owner's
// canonical position.
//
// A sync loads both sides, detects divergence, resolves it under a policy
// and commits the result, the ledger clear, the sync_performed activity
// entry and the processed event marks as one unit. Nothing is written when
// any step fails or when a policy is needed and was not given.
package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tradeshare/internal/activity"
	"tradeshare/internal/conflict"
	"tradeshare/internal/errors"
	"tradeshare/internal/identity"
	"tradeshare/internal/ledger"
	"tradeshare/internal/logging"
	"tradeshare/internal/models"
	"tradeshare/internal/store"
	"tradeshare/pkg/utils"
)

// State is a step of the sync state machine.
type State string

const (
	StateLoading        State = "loading"
	StateNoConflict     State = "no_conflict"
	StateHasConflict    State = "has_conflict"
	StateAwaitingPolicy State = "awaiting_policy"
	StateApplying       State = "applying"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Config holds orchestrator settings.
type Config struct {
	// DefaultPolicy is applied when nothing diverged and no local edits are
	// pending, and by SyncAll when the caller gives no policy.
	DefaultPolicy models.ResolutionPolicy
	// Parallelism bounds concurrent syncs in SyncAll.
	Parallelism int
	// Retry controls how SyncAll retries PersistenceError failures.
	Retry utils.RetryConfig
	// PollInterval is the Poller tick.
	PollInterval time.Duration
	// StaleAfter marks a replica stale when its last sync is older.
	StaleAfter time.Duration
}

// DefaultConfig returns default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy: models.DefaultPolicy(),
		Parallelism:   4,
		Retry:         utils.DefaultRetryConfig(),
		PollInterval:  30 * time.Second,
		StaleAfter:    time.Hour,
	}
}

// Options tunes a single sync.
type Options struct {
	// Policy resolves the sync. Nil means the caller has not chosen one:
	// the sync stops at AwaitingPolicy if anything needs resolving.
	Policy *models.ResolutionPolicy
}

// WithPolicy returns Options that resolve with p.
func WithPolicy(p models.ResolutionPolicy) Options {
	return Options{Policy: &p}
}

// Review is everything a user needs to choose a policy.
type Review struct {
	Replica      models.SharedReplica      `json:"replica"`
	Canonical    models.Position           `json:"canonical"`
	Diff         conflict.Diff             `json:"diff"`
	HasConflicts bool                      `json:"hasConflicts"`
	Ledger       *models.ChangeLedgerEntry `json:"ledger,omitempty"`
}

// NeedsPolicy reports whether the review has conflicts or local edits.
func (r *Review) NeedsPolicy() bool {
	return r.HasConflicts || (r.Ledger != nil && r.Ledger.Count() > 0)
}

// Result is the outcome of a sync that did not fail.
type Result struct {
	ReplicaID     models.ReplicaID      `json:"replicaId"`
	State         State                 `json:"state"`
	Replica       *models.SharedReplica `json:"replica,omitempty"`
	Review        *Review               `json:"review,omitempty"`
	HadConflicts  bool                  `json:"hadConflicts"`
	MergedChanges int                   `json:"mergedChanges"`
}

// Outcome is one replica's entry in a SyncAll report.
type Outcome struct {
	ReplicaID models.ReplicaID
	Result    *Result
	Err       error
}

// Orchestrator runs syncs for the current user. Concurrent syncs of the
// same replica share one execution.
type Orchestrator struct {
	store    store.Store
	identity identity.Provider
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	flights  singleflight.Group
	observer func(models.ReplicaID, State)
}

// New creates an orchestrator.
func New(s store.Store, id identity.Provider, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Orchestrator{
		store:    s,
		identity: id,
		config:   cfg,
		logger:   logger.With().Str("component", "syncer").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the orchestrator clock.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// SetObserver registers fn to be called on every state transition. It must
// be set before the first sync.
func (o *Orchestrator) SetObserver(fn func(models.ReplicaID, State)) {
	o.observer = fn
}

func (o *Orchestrator) enter(id models.ReplicaID, s State) {
	if o.observer != nil {
		o.observer(id, s)
	}
}

// Preview loads the replica and its canonical and reports the divergence
// without writing anything.
func (o *Orchestrator) Preview(ctx context.Context, id models.ReplicaID) (*Review, error) {
	return o.load(ctx, "preview", id)
}

// Sync brings the replica up to date. Concurrent calls for the same replica
// are coalesced and return the same result; the shared execution keeps
// running when the caller that started it is cancelled. A cancelled caller
// returns ctx.Err() without waiting for it.
func (o *Orchestrator) Sync(ctx context.Context, id models.ReplicaID, opts Options) (*Result, error) {
	flight := o.flights.DoChan(string(id), func() (interface{}, error) {
		return o.sync(context.WithoutCancel(ctx), id, opts)
	})

	var r singleflight.Result
	select {
	case r = <-flight:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err, shared := r.Val, r.Err, r.Shared
	if shared {
		o.logger.Debug().Str("replica_id", string(id)).Msg("Sync coalesced with one in flight")
	}
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (o *Orchestrator) sync(ctx context.Context, id models.ReplicaID, opts Options) (*Result, error) {
	start := o.now()
	logger := logging.WithReplica(o.logger, string(id))

	o.enter(id, StateLoading)
	review, err := o.load(ctx, "sync", id)
	if err != nil {
		o.enter(id, StateFailed)
		logging.LogSync(logger, string(id), string(StateFailed), false, 0, o.now().Sub(start), err)
		return nil, err
	}
	if d := review.Diff; review.HasConflicts {
		o.enter(id, StateHasConflict)
		logging.LogConflict(logger, string(id), len(d.Tags.Added), len(d.Tags.Removed), len(d.Comments.Added), len(d.Comments.Removed), d.Details.Changed)
	} else {
		o.enter(id, StateNoConflict)
	}

	var policy models.ResolutionPolicy
	switch {
	case opts.Policy != nil:
		policy = *opts.Policy
		if err := validatePolicy(policy); err != nil {
			o.enter(id, StateFailed)
			return nil, errors.NewSyncError(errors.KindValidation, "sync", string(id), string(review.Canonical.ID), err)
		}
	case review.NeedsPolicy():
		o.enter(id, StateAwaitingPolicy)
		logger.Info().Msg("Sync awaiting resolution policy")
		return &Result{ReplicaID: id, State: StateAwaitingPolicy, Review: review, HadConflicts: review.HasConflicts}, nil
	default:
		policy = o.config.DefaultPolicy
	}

	o.enter(id, StateApplying)
	res, err := o.apply(ctx, review, policy)
	state := StateDone
	if err != nil {
		state = StateFailed
	}
	o.enter(id, state)
	merged := 0
	if res != nil {
		merged = res.MergedChanges
	}
	logging.LogSync(logger, string(id), string(state), review.HasConflicts, merged, o.now().Sub(start), err)
	return res, err
}

// load runs the Loading step.
func (o *Orchestrator) load(ctx context.Context, op string, id models.ReplicaID) (*Review, error) {
	user := o.identity.CurrentUser()
	logger := logging.WithOperation(logging.WithReplica(o.logger, string(id)), op)

	replica, err := o.store.GetReplica(ctx, id)
	if err != nil {
		return nil, loadError(op, id, "", err)
	}
	if replica.UserID != user.ID {
		return nil, errors.NewSyncError(errors.KindAuthorizationDenied, op, string(id), string(replica.OriginalID),
			errors.Wrapf(errors.ErrAuthorizationDenied, "replica belongs to %s", replica.UserID))
	}

	canonical, err := o.store.GetPosition(ctx, replica.OriginalID)
	if err != nil {
		return nil, loadError(op, id, replica.OriginalID, err)
	}
	if !canonical.CanAccess(user.ID) {
		return nil, errors.NewSyncError(errors.KindAuthorizationDenied, op, string(id), string(canonical.ID),
			errors.Wrapf(errors.ErrAuthorizationDenied, "%s is not the owner or a recipient", user.ID))
	}

	entry, err := o.store.GetUnsyncedChanges(ctx, id)
	if err != nil {
		return nil, errors.NewSyncError(errors.KindPersistence, op, string(id), string(canonical.ID), err)
	}
	if err := ledger.Validate(entry); err != nil {
		return nil, errors.NewSyncError(errors.KindValidation, op, string(id), string(canonical.ID), err)
	}

	diff := conflict.Detect(*replica, *canonical)
	logger.Debug().
		Str("position_id", string(canonical.ID)).
		Bool("never_synced", replica.NeverSynced()).
		Int("ledger_changes", entry.Count()).
		Msg("Loaded replica and canonical")
	return &Review{
		Replica:      *replica,
		Canonical:    *canonical,
		Diff:         diff,
		HasConflicts: conflict.HasConflicts(diff),
		Ledger:       entry,
	}, nil
}

func loadError(op string, id models.ReplicaID, position models.PositionID, err error) error {
	kind := errors.KindPersistence
	if errors.Is(err, errors.ErrNotFound) {
		kind = errors.KindNotFound
	}
	return errors.NewSyncError(kind, op, string(id), string(position), err)
}

// apply runs the Applying step and commits.
func (o *Orchestrator) apply(ctx context.Context, review *Review, policy models.ResolutionPolicy) (*Result, error) {
	user := o.identity.CurrentUser()
	id := review.Replica.ID
	positionID := review.Canonical.ID
	logger := logging.WithOperation(logging.WithReplica(o.logger, string(id)), "apply")

	now := o.now()
	resolved, _ := conflict.Resolve(review.Replica, review.Canonical, policy, now)

	merged := 0
	var seen *time.Time
	if review.Ledger != nil {
		merged = review.Ledger.Count()
		t := review.Ledger.LastLocalUpdate
		seen = &t
	}
	resolved = activity.AppendReplica(resolved, activity.SyncPerformed(user, merged, review.HasConflicts, policy, now))

	eventIDs, err := o.store.PendingIDsFor(ctx, user.ID, positionID)
	if err != nil {
		return nil, errors.NewSyncError(errors.KindPersistence, "sync", string(id), string(positionID), err)
	}

	err = o.store.Commit(ctx, store.Commit{
		Replica:    resolved,
		LedgerSeen: seen,
		User:       user.ID,
		Events:     eventIDs,
		Status: store.SyncStatus{
			ReplicaID:     id,
			LastSync:      *resolved.LastSyncedAt,
			HadConflicts:  review.HasConflicts,
			MergedChanges: merged,
		},
	})
	if err != nil {
		return nil, errors.NewSyncError(errors.KindPersistence, "commit", string(id), string(positionID), err)
	}
	logger.Debug().Int("events", len(eventIDs)).Msg("Sync committed")

	return &Result{
		ReplicaID:     id,
		State:         StateDone,
		Replica:       &resolved,
		HadConflicts:  review.HasConflicts,
		MergedChanges: merged,
	}, nil
}

func validatePolicy(p models.ResolutionPolicy) error {
	for facet, s := range map[string]models.Strategy{"tags": p.Tags, "comments": p.Comments, "details": p.Details} {
		if !s.Valid() {
			return errors.NewValidationError(facet, s, "unknown strategy")
		}
	}
	for tag, d := range p.TagOverrides {
		if d != models.TagKeep && d != models.TagRemove {
			return errors.NewValidationError("tagOverrides."+tag, d, "must be keep or remove")
		}
	}
	return nil
}

// SyncAll syncs every replica held by the current user, at most
// Config.Parallelism at a time. PersistenceError failures are retried with
// backoff; other failures are reported in the replica's Outcome. The
// returned error is non-nil only if the replica list cannot be read or ctx
// is cancelled.
func (o *Orchestrator) SyncAll(ctx context.Context, opts Options) ([]Outcome, error) {
	user := o.identity.CurrentUser()
	replicas, err := o.store.ListReplicas(ctx, user.ID)
	if err != nil {
		return nil, errors.NewSyncError(errors.KindPersistence, "sync-all", "", "", err)
	}

	retry := o.config.Retry
	retry.ShouldRetry = errors.IsRetryable

	outcomes := make([]Outcome, len(replicas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Parallelism)

	for i := range replicas {
		i, id := i, replicas[i].ID
		g.Go(func() error {
			res, err := utils.RetryWithResult(gctx, retry, func() (*Result, error) {
				return o.Sync(gctx, id, opts)
			})
			outcomes[i] = Outcome{ReplicaID: id, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Status is the badge state of one replica.
type Status struct {
	ReplicaID       models.ReplicaID  `json:"replicaId"`
	PositionID      models.PositionID `json:"positionId"`
	Symbol          string            `json:"symbol"`
	PendingEvents   bool              `json:"pendingEvents"`
	UnsyncedChanges bool              `json:"unsyncedChanges"`
	LastSyncedAt    *time.Time        `json:"lastSyncedAt"`
	Freshness       string            `json:"freshness"`
}

// Statuses reports the read-only badges for every replica of the current
// user.
func (o *Orchestrator) Statuses(ctx context.Context) ([]Status, error) {
	user := o.identity.CurrentUser()
	replicas, err := o.store.ListReplicas(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	out := make([]Status, 0, len(replicas))
	for _, r := range replicas {
		pending, err := o.store.HasPendingEventsFor(ctx, user.ID, r.OriginalID)
		if err != nil {
			return nil, err
		}
		unsynced, err := o.store.HasUnsyncedChanges(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		st, err := o.store.GetSyncStatus(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{
			ReplicaID:       r.ID,
			PositionID:      r.OriginalID,
			Symbol:          r.Symbol,
			PendingEvents:   pending,
			UnsyncedChanges: unsynced,
			LastSyncedAt:    r.LastSyncedAt,
			Freshness:       freshness(&r, st, o.config.StaleAfter, now),
		})
	}
	return out, nil
}

// freshness labels a replica. The replica's own LastSyncedAt decides
// whether it was ever synced; the status row only supplies the age.
func freshness(r *models.SharedReplica, st *store.SyncStatus, staleAfter time.Duration, now time.Time) string {
	if r.NeverSynced() {
		return store.FormatFreshness(store.Freshness{ReplicaID: r.ID})
	}
	if st == nil {
		st = &store.SyncStatus{ReplicaID: r.ID, LastSync: *r.LastSyncedAt}
	}
	return store.FormatFreshness(store.FreshnessOf(r.ID, st, staleAfter, now))
}
