package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/archivedb/internal/upgrade"
)

var upgradeCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "upgrade",
	Short: "Upgrade the database schema",
	Long: `Upgrade the database schema one version at a time up to the target
version, recording each version as its transition completes. Transitions
that rewrite existing rows run their backfill in batches.`,
	RunE: runUpgrade,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	upgradeCmd.Flags().Int("target-version", 0, "version to upgrade to (default: latest)")
	upgradeCmd.Flags().Bool("no-wait", false, "stop after the first transition that needs a backfill")
	upgradeCmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	upgradeCmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, _ []string) error {
	cfg := *AppConfig

	if cmd.Flags().Changed("target-version") {
		cfg.TargetVersion, _ = cmd.Flags().GetInt("target-version")
	}

	if cmd.Flags().Changed("lock-timeout") {
		cfg.LockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
	}

	if cmd.Flags().Changed("statement-timeout") {
		cfg.StatementTimeout, _ = cmd.Flags().GetDuration("statement-timeout")
	}

	noWait, _ := cmd.Flags().GetBool("no-wait")

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

	u, err := newUpgrader(db, &cfg, upgrade.WithProgressCallback(printProgress(out)))
	if err != nil {
		return err
	}

	target := resolveTarget(cfg.TargetVersion, u)

	if noWait {
		return upgradeOnce(ctx, out, u, target)
	}

	res, err := u.UpgradeAndWait(ctx, target)
	if err != nil {
		return err
	}

	printSummary(out, res.From, res.To, len(res.Applied))

	return nil
}

// upgradeOnce stops at the first backfill. The process still waits for the
// backfill, which holds the upgrade lock, before returning.
func upgradeOnce(ctx context.Context, out io.Writer, u *upgrade.Upgrader, target int) error {
	res, err := u.Upgrade(ctx, target)
	if err != nil {
		return err
	}

	applied := len(res.Applied)
	to := res.To

	if res.Pending != nil {
		if err := res.Pending.Wait(); err != nil {
			return err
		}

		applied++
		to = res.Pending.To
	}

	printSummary(out, res.From, to, applied)

	if to < target {
		fmt.Fprintf(out, "Stopped after backfill; %d version(s) remain. Run upgrade again to continue.\n", target-to)
	}

	return nil
}

func printSummary(out io.Writer, from, to, applied int) {
	if applied == 0 {
		fmt.Fprintf(out, "\nDatabase is up to date at version %d.\n", to)
		return
	}

	fmt.Fprintf(out, "\nUpgrade complete: version %d -> %d, %d applied.\n", from, to, applied)
}

func printProgress(out io.Writer) func(upgrade.ProgressEvent) {
	return func(event upgrade.ProgressEvent) {
		switch event.Status {
		case upgrade.StatusStarting:
			fmt.Fprintf(out, "  Upgrading to version %d (%s) ... ", event.Transition.To(), event.Transition.Description)
		case upgrade.StatusBackfilling:
			fmt.Fprintf(out, "schema done (%s), backfilling ... ", event.Duration.Truncate(time.Millisecond))
		case upgrade.StatusCompleted:
			fmt.Fprintf(out, "done (%s)\n", event.Duration.Truncate(time.Millisecond))
		case upgrade.StatusFailed:
			fmt.Fprintf(out, "FAILED\n")
			fmt.Fprintf(out, "    Error: %v\n", event.Error)
		}
	}
}
