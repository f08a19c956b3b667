package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vigiapainel/vigia/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending count and storage usage",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Known tasks:   %d\n", len(a.Reconciler.Tasks()))
	fmt.Printf("Pending tasks: %d\n", a.Reconciler.PendingCount())

	if ms, ok := a.Reconciler.LastCheck(ctx); ok {
		fmt.Printf("Last check:    %s\n", time.UnixMilli(ms).UTC().Format(time.RFC3339))
	} else {
		fmt.Println("Last check:    never")
	}

	for _, tier := range []storage.Tier{storage.TierSync, storage.TierLocal} {
		usage, err := a.Gateway.Usage(ctx, tier)
		if err != nil {
			fmt.Printf("%-5s tier:    unavailable (%v)\n", tier, err)
			continue
		}
		quota, _ := a.Gateway.TierQuota(tier)
		fmt.Printf("%-5s tier:    %d items, %d/%d bytes\n",
			tier, usage.Items, usage.Bytes, quota.TotalBytes)
	}
	return nil
}
