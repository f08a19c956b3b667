package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vigiapainel/vigia/internal/core"
	"github.com/vigiapainel/vigia/pkg/models"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <batch.json>",
	Short: "Merge a scraped task batch against known state",
	Long: `Reads a JSON array of task records (as produced by the portal scraper)
and reconciles it: new tasks are recorded and queued for notification,
known tasks are updated in place, and the renotification policy is
applied to still-pending tasks. The resulting state is persisted before
the command reports.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading batch file: %w", err)
	}
	var batch []models.Task
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("parsing batch file: %w", err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Reconciler.Reconcile(ctx, batch)
	if err != nil {
		return fmt.Errorf("reconciling batch: %w", err)
	}

	badge, sent, err := a.Dispatcher.Dispatch(ctx, result.Notified, result.PendingCount)
	if err != nil {
		// Delivery failure is already logged; the state update stands.
		fmt.Fprintf(os.Stderr, "Warning: notification delivery failed: %v\n", err)
	}

	fmt.Printf("Batch of %d reconciled: %d new, %d renotified, %d pending (badge %q)\n",
		len(batch), result.NewCount, result.RenotifiedCount, result.PendingCount, badge.Text)
	if sent {
		fmt.Println("Notification dispatched.")
	}
	for _, t := range result.Notified {
		fmt.Printf("  notify: %s  %s\n", t.ID, t.Titulo)
	}
	if result.Strategy != core.StrategyValidated {
		fmt.Fprintf(os.Stderr, "Note: state persisted via %s strategy\n", result.Strategy)
	}
	return nil
}
