package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "plan",
	Short: "Show the transitions an upgrade would apply",
	Long: `Display, in order, the transitions needed to bring the database from
its current version to the target version, marking those that run a
backfill.`,
	RunE: runPlan,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	planCmd.Flags().Int("target-version", 0, "version to plan for (default: latest)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig

	target := cfg.TargetVersion
	if cmd.Flags().Changed("target-version") {
		target, _ = cmd.Flags().GetInt("target-version")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()

	db, err := openDatabase(ctx, cfg.Database, out)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := newUpgrader(db, cfg)
	if err != nil {
		return err
	}

	target = resolveTarget(target, u)

	pending, err := u.Pending(ctx, target)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Fprintf(out, "Nothing to do: database is at or beyond version %d.\n", target)
		return nil
	}

	fmt.Fprintf(out, "%d transition(s) to version %d:\n", len(pending), target)

	for _, t := range pending {
		suffix := ""
		if t.Backfill != nil {
			suffix = " [backfill]"
		}

		fmt.Fprintf(out, "  %d -> %d  %s%s\n", t.From, t.To(), t.Description, suffix)
	}

	return nil
}
