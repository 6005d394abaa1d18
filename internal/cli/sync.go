package cli

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"tradeshare/internal/config"
	"tradeshare/internal/errors"
	"tradeshare/internal/models"
	"tradeshare/internal/notify"
	"tradeshare/internal/syncer"
)

// addSyncCommands adds status, review, sync and watch commands.
func addSyncCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newReviewCmd(app))
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status of replicas shared with you",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			statuses, err := app.Syncer.Statuses(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(statuses)
			}
			if len(statuses) == 0 {
				output.Dim("No positions are shared with you")
				return nil
			}

			t := NewTable(output, "Replica", "Symbol", "State", "Freshness")
			for _, s := range statuses {
				t.AddRow(string(s.ReplicaID), s.Symbol, output.Badge(s.PendingEvents, s.UnsyncedChanges), s.Freshness)
			}
			t.Render()
			return nil
		},
	}
}

func newReviewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "review <replica>",
		Short: "Show what a sync would change without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			id, err := app.replicaID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			review, err := app.Syncer.Preview(cmd.Context(), id)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(review)
			}
			printReview(output, review)
			return nil
		},
	}
}

func newSyncCmd(app *App) *cobra.Command {
	var flags policyFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync replicas with their owner's position",
		Long: `Sync replicas with their owner's position.

Without policy flags a sync that finds conflicts or local edits stops and
shows the review; run it again with a policy to apply it.

Strategies per facet: local, remote, merge. --keep and --drop choose
individual tags and imply a custom tag strategy.`,
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "one <replica>",
		Short: "Sync one replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			opts, err := flags.options()
			if err != nil {
				return err
			}
			id, err := app.replicaID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			res, err := app.Syncer.Sync(cmd.Context(), id, opts)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
			} else {
				printResult(output, res)
			}
			if res.State == syncer.StateAwaitingPolicy {
				return errors.Wrapf(errors.ErrAwaitingPolicy, "replica %s", id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Sync every replica shared with you",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			opts, err := flags.options()
			if err != nil {
				return err
			}
			if opts.Policy == nil {
				p := app.Config.Sync.Policy()
				opts.Policy = &p
			}

			outcomes, err := app.Syncer.SyncAll(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(outcomeReport(outcomes))
			}

			failed := 0
			t := NewTable(output, "Replica", "Result", "Merged")
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					t.AddRow(string(o.ReplicaID), output.Red(o.Err.Error()), "-")
					continue
				}
				t.AddRow(string(o.ReplicaID), output.Green(string(o.Result.State)), strconv.Itoa(o.Result.MergedChanges))
			}
			t.Render()
			if failed > 0 {
				output.Warning("%d of %d replicas failed to sync", failed, len(outcomes))
			} else {
				output.Success("✓ Synced %d replicas", len(outcomes))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete consumed events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			n, err := app.Store.PruneEvents(cmd.Context(), app.Config.Sync.EventRetention)
			if err != nil {
				return errors.NewSyncError(errors.KindPersistence, "prune", "", "", err)
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"pruned": n})
			}
			output.Success("✓ Pruned %d events", n)
			return nil
		},
	})

	return cmd
}

// replicaID resolves a replica id or the original id of one of the user's
// replicas.
func (a *App) replicaID(ctx context.Context, id string) (models.ReplicaID, error) {
	tg, err := a.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	if tg.replica == nil {
		return "", errors.NewValidationError("replica", id, "you own this position; only replicas are synced")
	}
	return tg.replica.ID, nil
}

type outcomeJSON struct {
	ReplicaID models.ReplicaID `json:"replicaId"`
	Result    *syncer.Result   `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Kind      string           `json:"kind,omitempty"`
}

func outcomeReport(outcomes []syncer.Outcome) []outcomeJSON {
	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcomeJSON{ReplicaID: o.ReplicaID, Result: o.Result}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
			out[i].Kind = string(errors.KindOf(o.Err))
		}
	}
	return out
}

// policyFlags are the resolution policy flags shared by the sync commands.
type policyFlags struct {
	tags     string
	comments string
	details  string
	keep     []string
	drop     []string
	remote   bool
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.tags, "tags", "", "tag strategy: local, remote or merge")
	cmd.PersistentFlags().StringVar(&f.comments, "comments", "", "comment strategy: local, remote or merge")
	cmd.PersistentFlags().StringVar(&f.details, "details", "", "detail strategy: local or remote")
	cmd.PersistentFlags().StringSliceVar(&f.keep, "keep", nil, "tags to keep (custom tag strategy)")
	cmd.PersistentFlags().StringSliceVar(&f.drop, "drop", nil, "tags to drop (custom tag strategy)")
	cmd.PersistentFlags().BoolVar(&f.remote, "remote", false, "take the owner's position for every facet")
}

// options builds sync options from the flags. No flags means no policy.
func (f *policyFlags) options() (syncer.Options, error) {
	custom := len(f.keep) > 0 || len(f.drop) > 0
	if !f.remote && !custom && f.tags == "" && f.comments == "" && f.details == "" {
		return syncer.Options{}, nil
	}
	if f.remote && (custom || f.tags != "" || f.comments != "" || f.details != "") {
		return syncer.Options{}, errors.NewValidationError("remote", true, "--remote cannot be combined with other policy flags")
	}
	if f.remote {
		return syncer.WithPolicy(models.RemotePolicy()), nil
	}

	p := models.DefaultPolicy()
	for _, s := range []struct {
		name  string
		value string
		dst   *models.Strategy
	}{
		{"tags", f.tags, &p.Tags},
		{"comments", f.comments, &p.Comments},
		{"details", f.details, &p.Details},
	} {
		if s.value == "" {
			continue
		}
		st := models.Strategy(s.value)
		if !st.Valid() || st == models.StrategyCustom {
			return syncer.Options{}, errors.NewValidationError(s.name, s.value, "must be local, remote or merge")
		}
		*s.dst = st
	}

	if custom {
		if f.tags != "" {
			return syncer.Options{}, errors.NewValidationError("tags", f.tags, "--keep and --drop imply a custom tag strategy")
		}
		p.Tags = models.StrategyCustom
		p.TagOverrides = make(map[string]models.TagDecision)
		for _, t := range f.keep {
			p.TagOverrides[t] = models.TagKeep
		}
		for _, t := range f.drop {
			if _, ok := p.TagOverrides[t]; ok {
				return syncer.Options{}, errors.NewValidationError("drop", t, "tag is both kept and dropped")
			}
			p.TagOverrides[t] = models.TagRemove
		}
	}
	return syncer.WithPolicy(p), nil
}

func printReview(output *Output, r *syncer.Review) {
	output.Bold("%s  %s", r.Replica.Symbol, r.Replica.ID)
	output.Dim("owner %s, last synced %s", r.Canonical.OwnerID, FormatLastSynced(r.Replica.LastSyncedAt))
	output.Println()

	d := r.Diff
	if !r.HasConflicts && !d.LegsChanged {
		output.Success("✓ No conflicts")
	}
	for _, t := range d.Tags.Added {
		output.Printf("  %s tag %s\n", output.Green("+"), t)
	}
	for _, t := range d.Tags.Removed {
		output.Printf("  %s tag %s %s\n", output.Red("-"), t, output.DimText("(local only)"))
	}
	for _, c := range d.Comments.Added {
		output.Printf("  %s comment by %s: %s\n", output.Green("+"), c.UserName, TruncateString(c.Text, 60))
	}
	for _, c := range d.Comments.Removed {
		output.Printf("  %s comment by %s: %s %s\n", output.Red("-"), c.UserName, TruncateString(c.Text, 60), output.DimText("(local only)"))
	}
	for _, c := range d.Comments.Modified {
		output.Printf("  %s comment %s: %q -> %q\n", output.Yellow("~"), ShortID(string(c.ID)),
			TruncateString(c.Local.Text, 30), TruncateString(c.Remote.Text, 30))
	}
	if d.Details.Changed {
		fields := make([]string, 0, len(d.Details.Changes))
		for f := range d.Details.Changes {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			c := d.Details.Changes[f]
			output.Printf("  %s %s: %s -> %s\n", output.Yellow("~"), f, c.Local, c.Remote)
		}
	}
	if d.LegsChanged {
		output.Printf("  %s legs updated by owner\n", output.Cyan("*"))
	}

	if r.Ledger != nil && r.Ledger.Count() > 0 {
		output.Println()
		output.Warning("%d local edit(s) not yet synced", r.Ledger.Count())
	}
}

func printResult(output *Output, res *syncer.Result) {
	switch res.State {
	case syncer.StateAwaitingPolicy:
		printReview(output, res.Review)
		output.Println()
		output.Warning("Choose a policy to apply, e.g. --tags merge --comments merge --details remote")
	default:
		summary := "no conflicts"
		if res.Review != nil {
			summary = FormatDiffSummary(res.Review.Diff)
		}
		output.Success("✓ Synced %s (%s, %d merged)", res.ReplicaID, summary, res.MergedChanges)
	}
}

func newWatchCmd(app *App) *cobra.Command {
	var bell bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch for updates to positions shared with you",
		Long: `Watch polls for owner changes and prints a line for each position
with updates waiting. It never syncs; use 'tradeshare sync one' to apply.

Changes to sync.poll_interval in the config file take effect without a
restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := notify.NewNotifier(100, cmd.OutOrStdout())
			notifier.SetBellEnabled(bell)
			notifier.AddHandler(notify.WriterHandler(cmd.OutOrStdout(), output.colorEnabled))
			notifier.Start(ctx)

			user := app.Identity.CurrentUser().ID
			onHint := func(hints []syncer.Hint) {
				for _, h := range hints {
					if output.IsJSON() {
						output.JSON(h)
						continue
					}
					notifier.Notify(notify.ForEvents(h.PositionID, h.ReplicaID, h.Events, h.Types))
				}
			}

			var mu sync.Mutex
			interval := app.Config.Sync.PollInterval
			poller := syncer.NewPoller(app.Store, user, interval, onHint, app.Logger)
			if err := poller.Start(ctx); err != nil {
				return err
			}
			defer func() {
				mu.Lock()
				poller.Stop()
				mu.Unlock()
			}()

			if !output.IsJSON() {
				output.Dim("Watching for updates every %s (Ctrl+C to stop)", interval)
			}

			err := config.Watch(app.ConfigDir, func(cfg *config.Config, err error) {
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Ignoring invalid config change")
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if cfg.Sync.PollInterval == interval {
					return
				}
				poller.Stop()
				interval = cfg.Sync.PollInterval
				poller = syncer.NewPoller(app.Store, user, interval, onHint, app.Logger)
				if err := poller.Start(ctx); err != nil {
					app.Logger.Error().Err(err).Msg("Failed to restart poller")
					return
				}
				app.Logger.Info().Dur("interval", interval).Msg("Poll interval changed")
			})
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Config watching disabled")
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&bell, "bell", false, "ring the terminal bell on new updates")
	return cmd
}
