package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/tracker"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show schema version status",
	Long: `Display the current schema version, the versions recorded so far and
how many transitions remain to reach the latest version.`,
	RunE: runStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	statusCmd.Flags().Int("check", 0, "report whether this version has been completed")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	check, _ := cmd.Flags().GetInt("check")

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

	tr := tracker.New(db, executor.New(db.Engine, executorOptions(cfg)...))

	current, err := tr.CurrentVersion(ctx, cfg.System)
	if err != nil {
		return err
	}

	history, err := tr.History(ctx, cfg.System)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "System:          %s\n", cfg.System)
	fmt.Fprintf(out, "Current version: %d\n", current)
	fmt.Fprintf(out, "Latest version:  %d\n", u.Latest())
	fmt.Fprintf(out, "Recorded:        %s\n", joinVersions(history))

	if pending := u.Latest() - current; pending > 0 {
		fmt.Fprintf(out, "Pending:         %d transition(s)\n", pending)
	} else {
		fmt.Fprintln(out, "Pending:         none")
	}

	if cmd.Flags().Changed("check") {
		done, err := tr.IsCompleted(ctx, cfg.System, check)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Version %d completed: %s\n", check, yesNo(done))
	}

	return nil
}

func joinVersions(versions []int) string {
	if len(versions) == 0 {
		return "none"
	}

	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.Itoa(v)
	}

	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
