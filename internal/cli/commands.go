package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"calrecon/internal/conflict"
	"calrecon/internal/ledger"
	"calrecon/internal/model"
)

var (
	blockedFrom string
	blockedTo   string

	notifyEvents       []string
	notifyReservations []string

	groupColor string
	groupActor string
)

var blockedCmd = &cobra.Command{
	Use:     "blocked",
	Short:   "Print the blocked days of a date window",
	Args:    cobra.NoArgs,
	GroupID: "operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := model.ParseDate(blockedFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := model.ParseDate(blockedTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			window := model.Window{From: from, To: to}
			days, err := a.engine.ComputeBlockedDays(ctx, window)
			if days == nil {
				days = []model.Date{}
			}
			return map[string]any{"window": window, "days": days}, err
		})
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "Detect and print every conflict in the detection window",
	Args:    cobra.NoArgs,
	GroupID: "operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			records, err := a.engine.DetectAllConflicts(ctx)
			if err != nil {
				return nil, err
			}
			type row struct {
				Key string `json:"key"`
				model.ConflictRecord
			}
			out := make([]row, 0, len(records))
			for _, r := range records {
				out = append(out, row{Key: ledger.Key(r), ConflictRecord: r})
			}
			return map[string]any{"window": a.engine.DetectionWindow(), "conflicts": out}, nil
		})
	},
}

var notifyCmd = &cobra.Command{
	Use:     "notify",
	Short:   "Mail administrators about new high-severity conflicts",
	Long:    "Runs a notification pass. --event and --reservation restrict it to conflicts touching those ids.",
	Args:    cobra.NoArgs,
	GroupID: "operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			var scope *conflict.Scope
			if len(notifyEvents) > 0 || len(notifyReservations) > 0 {
				scope = &conflict.Scope{EventIDs: notifyEvents, ReservationIDs: notifyReservations}
			}
			return a.engine.NotifyNewConflicts(ctx, scope)
		})
	},
}

var groupCmd = &cobra.Command{
	Use:     "group EVENT_ID EVENT_ID...",
	Short:   "Link calendar entries into one stay and paint them",
	Args:    cobra.MinimumNArgs(2),
	GroupID: "operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.engine.Group(ctx, args, groupColor, groupActor)
		})
	},
}

var ungroupCmd = &cobra.Command{
	Use:     "ungroup EVENT_ID",
	Short:   "Detach a calendar entry from its stay",
	Args:    cobra.ExactArgs(1),
	GroupID: "operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			return a.engine.UngroupSingle(ctx, args[0])
		})
	},
}

func init() {
	blockedCmd.Flags().StringVar(&blockedFrom, "from", "", "First day, YYYY-MM-DD")
	blockedCmd.Flags().StringVar(&blockedTo, "to", "", "Last day (inclusive), YYYY-MM-DD")
	_ = blockedCmd.MarkFlagRequired("from")
	_ = blockedCmd.MarkFlagRequired("to")

	notifyCmd.Flags().StringSliceVar(&notifyEvents, "event", nil, "Restrict to conflicts touching this calendar entry")
	notifyCmd.Flags().StringSliceVar(&notifyReservations, "reservation", nil, "Restrict to conflicts touching this reservation")

	groupCmd.Flags().StringVar(&groupColor, "color", "", "Color painted on every member")
	groupCmd.Flags().StringVar(&groupActor, "actor", "cli", "Recorded as the creator of new links")
	_ = groupCmd.MarkFlagRequired("color")
}

// withApp wires an app for one command, runs fn and prints its result as
// JSON. The result is printed even when fn also returns an error.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	v, runErr := fn(ctx, a)
	if v != nil {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}
	return runErr
}
