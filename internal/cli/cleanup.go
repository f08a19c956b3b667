package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge tasks outside the retention window",
	Long: `Removes tasks whose last notification is older than the configured
retention window, along with orphaned suppression and timestamp
entries. The same purge runs automatically when a write exceeds a
storage quota.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Reconciler.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("running cleanup: %w", err)
		}
		fmt.Printf("Removed %d stale tasks. %d known, %d pending.\n",
			removed, len(a.Reconciler.Tasks()), a.Reconciler.PendingCount())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
