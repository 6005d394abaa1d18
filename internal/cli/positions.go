package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradeshare/internal/errors"
	"tradeshare/internal/models"
	"tradeshare/internal/positions"
)

// addPositionCommands adds position, tag and comment commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newTagCmd(app))
	rootCmd.AddCommand(newCommentCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Create, share and inspect positions",
	}

	cmd.AddCommand(newPositionCreateCmd(app))
	cmd.AddCommand(newPositionListCmd(app))
	cmd.AddCommand(newPositionShowCmd(app))
	cmd.AddCommand(newPositionShareCmd(app))
	cmd.AddCommand(newPositionRevokeCmd(app))
	cmd.AddCommand(newPositionDeleteCmd(app))
	cmd.AddCommand(newPositionEditCmd(app))
	cmd.AddCommand(newPositionLeaveCmd(app))
	return cmd
}

func newPositionCreateCmd(app *App) *cobra.Command {
	var in positions.NewPosition
	var legs []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a position you own",
		Example: `  tradeshare positions create --symbol SPY --account IRA \
    --leg stock:SPY:100@450.10 --leg call:SPY:460:2024-08-16:-1@3.25 --tag income`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			for _, s := range legs {
				leg, err := ParseLeg(s)
				if err != nil {
					return err
				}
				in.Legs = append(in.Legs, leg)
			}

			p, err := app.Positions.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("✓ Created %s %s", p.Symbol, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Symbol, "symbol", "", "underlying symbol")
	cmd.Flags().StringVar(&in.Account, "account", "", "account name")
	cmd.Flags().StringVar(&in.StrategyType, "strategy", "", "strategy type, e.g. covered_call")
	cmd.Flags().StringArrayVar(&legs, "leg", nil, "leg as stock:SYM:QTY[@PRICE] or call|put:SYM:STRIKE:YYYY-MM-DD:QTY[@PREMIUM]")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tags")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func newPositionListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List owned positions and shared replicas",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			owned, err := app.Positions.ListOwned(ctx)
			if err != nil {
				return err
			}
			shared, err := app.Positions.ListShared(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"owned":  owned,
					"shared": shared,
				})
			}

			output.Bold("Owned")
			if len(owned) == 0 {
				output.Dim("  none")
			} else {
				t := NewTable(output, "ID", "Symbol", "Account", "Tags", "Shared With", "Updated")
				for _, p := range owned {
					with := make([]string, len(p.SharedWith))
					for i, u := range p.SharedWith {
						with[i] = string(u)
					}
					t.AddRow(string(p.ID), p.Symbol, p.Account, FormatTags(p.Tags), FormatTags(with), FormatTime(p.UpdatedAt))
				}
				t.Render()
			}
			output.Println()

			output.Bold("Shared with me")
			if len(shared) == 0 {
				output.Dim("  none")
				return nil
			}
			t := NewTable(output, "Replica", "Symbol", "Owner", "Access", "Tags", "Last Synced")
			for _, r := range shared {
				t.AddRow(string(r.ID), r.Symbol, string(r.OwnerID), string(r.Access), FormatTags(r.Tags), FormatLastSynced(r.LastSyncedAt))
			}
			t.Render()
			return nil
		},
	}
}

func newPositionShowCmd(app *App) *cobra.Command {
	var activityLimit int

	cmd := &cobra.Command{
		Use:   "show <position|replica>",
		Short: "Show a position or replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			tg, err := app.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if tg.replica != nil {
					return output.JSON(tg.replica)
				}
				return output.JSON(tg.position)
			}

			var v view
			if tg.replica != nil {
				v = replicaView(tg.replica)
			} else {
				v = positionView(tg.position)
			}
			printView(output, v, activityLimit)
			return nil
		},
	}
	cmd.Flags().IntVar(&activityLimit, "activity", 10, "activity entries to show (0 for all)")
	return cmd
}

func newPositionShareCmd(app *App) *cobra.Command {
	var access string

	cmd := &cobra.Command{
		Use:   "share <position> <user>...",
		Short: "Share a position you own",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			recipients := make([]models.UserID, 0, len(args)-1)
			for _, a := range args[1:] {
				recipients = append(recipients, models.UserID(a))
			}

			p, err := app.Positions.Share(cmd.Context(), models.PositionID(args[0]), recipients, models.AccessLevel(access))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("✓ Shared %s with %s (%s)", p.Symbol, strings.Join(args[1:], ", "), access)
			return nil
		},
	}
	cmd.Flags().StringVar(&access, "access", string(models.AccessComment), "access level: view or comment")
	return cmd
}

func newPositionRevokeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <position> <user>",
		Short: "Stop sharing a position with a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Positions.Revoke(cmd.Context(), models.PositionID(args[0]), models.UserID(args[1]))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("✓ Revoked %s from %s", args[1], p.Symbol)
			return nil
		},
	}
}

func newPositionDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <position>",
		Short: "Delete a position you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Positions.Delete(cmd.Context(), models.PositionID(args[0])); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": args[0]})
			}
			output.Success("✓ Deleted %s", args[0])
			return nil
		},
	}
}

func newPositionEditCmd(app *App) *cobra.Command {
	var legs []string

	cmd := &cobra.Command{
		Use:   "edit <position>",
		Short: "Edit details or legs of a position you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			var edit positions.DetailEdit
			for flag, dst := range map[string]**string{"symbol": &edit.Symbol, "account": &edit.Account, "strategy": &edit.StrategyType} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*dst = &v
				}
			}
			if cmd.Flags().Changed("leg") {
				edit.Legs = []models.Leg{}
				for _, s := range legs {
					leg, err := ParseLeg(s)
					if err != nil {
						return err
					}
					edit.Legs = append(edit.Legs, leg)
				}
			}

			tg, err := app.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if tg.replica != nil {
				return app.Positions.EditReplicaDetails(ctx, tg.replica.ID, edit)
			}

			p, err := app.Positions.EditDetails(ctx, tg.position.ID, edit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("✓ Updated %s", p.ID)
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "new symbol")
	cmd.Flags().String("account", "", "new account")
	cmd.Flags().String("strategy", "", "new strategy type")
	cmd.Flags().StringArrayVar(&legs, "leg", nil, "replace all legs (repeatable)")
	return cmd
}

func newPositionLeaveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <replica>",
		Short: "Remove a replica shared with you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			tg, err := app.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tg.replica == nil {
				return errors.NewValidationError("replica", args[0], "you own this position; use 'positions delete'")
			}
			if err := app.Positions.Leave(cmd.Context(), tg.replica.ID); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"left": string(tg.replica.ID)})
			}
			output.Success("✓ Left %s", tg.replica.Symbol)
			return nil
		},
	}
}

func newTagCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag a position or replica",
	}

	for _, add := range []bool{true, false} {
		add := add
		use, short := "add <position|replica> <tag>", "Add a tag"
		if !add {
			use, short = "remove <position|replica> <tag>", "Remove a tag"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				output := NewOutput(cmd)
				ctx := cmd.Context()
				tg, err := app.resolve(ctx, args[0])
				if err != nil {
					return err
				}

				var tags []string
				switch {
				case tg.replica != nil && add:
					r, err := app.Positions.AddReplicaTag(ctx, tg.replica.ID, args[1])
					if err != nil {
						return err
					}
					tags = r.Tags
				case tg.replica != nil:
					r, err := app.Positions.RemoveReplicaTag(ctx, tg.replica.ID, args[1])
					if err != nil {
						return err
					}
					tags = r.Tags
				case add:
					p, err := app.Positions.AddTag(ctx, tg.position.ID, args[1])
					if err != nil {
						return err
					}
					tags = p.Tags
				default:
					p, err := app.Positions.RemoveTag(ctx, tg.position.ID, args[1])
					if err != nil {
						return err
					}
					tags = p.Tags
				}

				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"id": args[0], "tags": tags})
				}
				output.Success("✓ Tags: %s", FormatTags(tags))
				return nil
			},
		})
	}
	return cmd
}

func newCommentCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Comment on a position or replica",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <position|replica> <text>...",
		Short: "Add a comment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			text := strings.Join(args[1:], " ")
			tg, err := app.resolve(ctx, args[0])
			if err != nil {
				return err
			}

			var comments []models.Comment
			if tg.replica != nil {
				r, err := app.Positions.AddReplicaComment(ctx, tg.replica.ID, text)
				if err != nil {
					return err
				}
				comments = r.Comments
			} else {
				p, err := app.Positions.AddComment(ctx, tg.position.ID, text)
				if err != nil {
					return err
				}
				comments = p.Comments
			}

			if output.IsJSON() {
				return output.JSON(comments[len(comments)-1])
			}
			output.Success("✓ Comment added (%d total)", len(comments))
			return nil
		},
	})
	return cmd
}

// target is what a user-supplied id refers to: a position the user owns or
// one of their replicas.
type target struct {
	position *models.Position
	replica  *models.SharedReplica
}

// resolve looks id up as an owned position, then as a replica id, then as
// the original id of one of the user's replicas.
func (a *App) resolve(ctx context.Context, id string) (target, error) {
	me := a.Identity.CurrentUser().ID

	p, err := a.Store.GetPosition(ctx, models.PositionID(id))
	if err == nil && p.OwnerID == me {
		return target{position: p}, nil
	}
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return target{}, errors.NewSyncError(errors.KindPersistence, "resolve", "", id, err)
	}

	if r, err := a.Positions.GetReplica(ctx, models.ReplicaID(id)); err == nil {
		return target{replica: r}, nil
	}
	if r, err := a.Store.GetReplicaByOriginal(ctx, me, models.PositionID(id)); err == nil {
		return target{replica: r}, nil
	}

	if p != nil {
		return target{}, errors.NewSyncError(errors.KindAuthorizationDenied, "resolve", "", id,
			errors.Wrap(errors.ErrAuthorizationDenied, "position is owned by "+string(p.OwnerID)))
	}
	return target{}, errors.NewSyncError(errors.KindNotFound, "resolve", "", id,
		errors.Wrapf(errors.ErrNotFound, "no position or replica %s", id))
}

// view is the part of a position or replica shown by 'positions show'.
type view struct {
	title    string
	header   []string
	legs     []models.Leg
	tags     []string
	comments []models.Comment
	activity []models.ActivityLogEntry
}

func positionView(p *models.Position) view {
	shared := make([]string, len(p.SharedWith))
	for i, u := range p.SharedWith {
		shared[i] = fmt.Sprintf("%s (%s)", u, p.AccessFor(u))
	}
	return view{
		title: fmt.Sprintf("%s  %s", p.Symbol, p.ID),
		header: []string{
			"Account:     " + p.Account,
			"Strategy:    " + p.StrategyType,
			"Owner:       " + string(p.OwnerID),
			"Shared with: " + FormatTags(shared),
			"Updated:     " + FormatTime(p.UpdatedAt),
		},
		legs:     p.Legs,
		tags:     p.Tags,
		comments: p.Comments,
		activity: p.ActivityLog,
	}
}

func replicaView(r *models.SharedReplica) view {
	return view{
		title: fmt.Sprintf("%s  %s (replica)", r.Symbol, r.ID),
		header: []string{
			"Account:     " + r.Account,
			"Strategy:    " + r.StrategyType,
			"Owner:       " + string(r.OwnerID),
			"Original:    " + string(r.OriginalID),
			"Access:      " + string(r.Access),
			"Last synced: " + FormatLastSynced(r.LastSyncedAt),
		},
		legs:     r.Legs,
		tags:     r.Tags,
		comments: r.Comments,
		activity: r.ActivityLog,
	}
}

func printView(output *Output, v view, activityLimit int) {
	output.Box(v.title, v.header)

	output.Bold("Legs")
	if len(v.legs) == 0 {
		output.Dim("  none")
	}
	for _, l := range v.legs {
		output.Printf("  %s\n", FormatLeg(l))
	}

	output.Bold("Tags")
	output.Printf("  %s\n", FormatTags(v.tags))

	output.Bold("Comments")
	if len(v.comments) == 0 {
		output.Dim("  none")
	}
	for _, c := range v.comments {
		output.Printf("  %s %s: %s\n", output.DimText(FormatTime(c.CreatedAt)), c.UserName, c.Text)
	}

	output.Bold("Activity")
	entries := v.activity
	if activityLimit > 0 && len(entries) > activityLimit {
		entries = entries[len(entries)-activityLimit:]
	}
	for _, e := range entries {
		output.Printf("  %s %-16s %s\n", output.DimText(FormatTime(e.Timestamp)), e.Type, e.UserName)
	}
}

// ParseLeg parses a --leg argument:
//
//	stock:SYM:QTY[@PRICE]
//	call:SYM:STRIKE:YYYY-MM-DD:QTY[@PREMIUM]
//	put:SYM:STRIKE:YYYY-MM-DD:QTY[@PREMIUM]
func ParseLeg(s string) (models.Leg, error) {
	desc, price, hasPrice := strings.Cut(s, "@")
	parts := strings.Split(desc, ":")
	bad := func(msg string) (models.Leg, error) {
		return models.Leg{}, errors.NewValidationError("leg", s, msg)
	}

	leg := models.Leg{ID: uuid.NewString()}
	switch strings.ToLower(parts[0]) {
	case "stock":
		if len(parts) != 3 {
			return bad("expected stock:SYM:QTY")
		}
		leg.AssetType = models.AssetStock
	case "call", "put":
		if len(parts) != 5 {
			return bad("expected call|put:SYM:STRIKE:YYYY-MM-DD:QTY")
		}
		leg.AssetType = models.AssetOption
		leg.OptionType = models.OptionType(strings.ToLower(parts[0]))
		strike, err := decimal.NewFromString(parts[2])
		if err != nil || !strike.IsPositive() {
			return bad("strike must be a positive number")
		}
		leg.Strike = strike
		exp, err := time.Parse("2006-01-02", parts[3])
		if err != nil {
			return bad("expiration must be YYYY-MM-DD")
		}
		leg.Expiration = &exp
	default:
		return bad("type must be stock, call or put")
	}

	leg.Symbol = strings.ToUpper(parts[1])
	if leg.Symbol == "" {
		return bad("symbol is required")
	}
	qty, err := decimal.NewFromString(parts[len(parts)-1])
	if err != nil || qty.IsZero() {
		return bad("quantity must be a non-zero number")
	}
	leg.Quantity = qty
	if hasPrice {
		p, err := decimal.NewFromString(price)
		if err != nil || p.IsNegative() {
			return bad("price must be a non-negative number")
		}
		leg.Premium = p
	}
	return leg, nil
}
