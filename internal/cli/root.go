// Package cli implements the vigia command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	app "github.com/vigiapainel/vigia/internal"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"

	basePath string
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "vigia",
	Short: "Vigia - portal task watcher with durable notification state",
	Long: `Vigia tracks the tasks scraped from the work portal, deduplicates them
across runs, and keeps per-task notification state (ignored, snoozed,
opened) persisted under storage quotas with best-effort compression.

Feed it a scraped batch with "vigia reconcile" and it reports which
tasks deserve a notification and how many are still pending.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vigia %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&basePath, "base", "", "state directory (default $VIGIA_HOME or ~/.vigia)")
	rootCmd.AddCommand(versionCmd)
}

// openApp wires an App for a command run.
func openApp(ctx context.Context) (*app.App, error) {
	dir := basePath
	if dir == "" {
		dir = app.ResolveBasePath()
	}
	return app.NewApp(ctx, dir)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
