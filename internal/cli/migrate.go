package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/migrate"
)

var migrateCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "migrate SOURCE TARGET",
	Short: "Copy the database to another engine",
	Long: `Copy every table of the SOURCE database into the TARGET database, which
must use a different engine. SOURCE and TARGET are connection specs such as
"className=sqlite;databaseName=/data/db". The target database is created if
it does not exist. An interrupted copy resumes when run again; a completed
copy is only verified.

The source must not be written to while the copy runs.`,
	Args: cobra.ExactArgs(2), //nolint:mnd // SOURCE and TARGET
	RunE: runMigrate,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := AppConfig

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()

	targetParams, err := database.ParseParams(args[1])
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	if err := database.EnsureDatabase(ctx, targetParams); err != nil {
		return fmt.Errorf("creating target database: %w", err)
	}

	source, err := openDatabase(ctx, args[0], out)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	defer source.Close()

	target, err := openDatabase(ctx, args[1], out)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	defer target.Close()

	cat, err := catalog.Default()
	if err != nil {
		return err
	}

	m := migrate.New(cat,
		migrate.WithLogger(appLog),
		migrate.WithSystem(cfg.System),
		migrate.WithExecutorOptions(executorOptions(cfg)...),
		migrate.WithTableCallback(printTable(out)),
	)

	report, err := m.Run(ctx, source, target)
	if err != nil {
		fmt.Fprintf(out, "\nMigration FAILED: %v\n", err)
		return err
	}

	printReport(out, report)

	return nil
}

func printTable(out io.Writer) func(migrate.TableEvent) {
	return func(event migrate.TableEvent) {
		res := event.Result

		switch event.Status {
		case migrate.StatusStarting:
			fmt.Fprintf(out, "  %-24s ", event.Table)
		case migrate.StatusMigrated:
			fmt.Fprintf(out, "%d rows (%d copied, %d skipped", res.TargetRows, res.Copied, res.Skipped)

			if res.Recreated {
				fmt.Fprint(out, ", recreated")
			}

			fmt.Fprintf(out, ") %s\n", res.Duration.Truncate(time.Millisecond))
		case migrate.StatusVerified:
			fmt.Fprintf(out, "%d rows verified\n", res.TargetRows)
		case migrate.StatusFailed:
			fmt.Fprintf(out, "FAILED\n")
			fmt.Fprintf(out, "    Error: %v\n", event.Error)
		}
	}
}

func printReport(out io.Writer, report *migrate.Report) {
	switch {
	case report.VerifyOnly:
		fmt.Fprintf(out, "\nTarget already migrated: %d tables verified at version %d.\n",
			len(report.Tables), report.SourceVersion)
	case report.Resumed:
		fmt.Fprintf(out, "\nMigration resumed and complete: %d tables at version %d.\n",
			len(report.Tables), report.SourceVersion)
	default:
		fmt.Fprintf(out, "\nMigration complete: %d tables at version %d.\n",
			len(report.Tables), report.SourceVersion)
	}
}
