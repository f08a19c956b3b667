package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snoozeMinutes int

var ignoreCmd = &cobra.Command{
	Use:   "ignore <task-id>",
	Short: "Stop counting and notifying a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Reconciler.Ignore(ctx, args[0])
		if err != nil {
			return fmt.Errorf("ignoring task: %w", err)
		}
		fmt.Printf("Task %s ignored. %d pending.\n", args[0], pending)
		return nil
	},
}

var snoozeCmd = &cobra.Command{
	Use:   "snooze <task-id>",
	Short: "Suppress a task until the snooze elapses",
	Long: `Suppresses the task for the given number of minutes. The wake-up is
lazy: once the time elapses the task counts as pending again on the
next query, with no explicit unsnooze.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Reconciler.Snooze(ctx, args[0], snoozeMinutes)
		if err != nil {
			return fmt.Errorf("snoozing task: %w", err)
		}
		fmt.Printf("Task %s snoozed for %d minutes. %d pending.\n", args[0], snoozeMinutes, pending)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <task-id>",
	Short: "Mark a task as opened",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Reconciler.MarkOpened(ctx, args[0])
		if err != nil {
			return fmt.Errorf("marking task opened: %w", err)
		}
		fmt.Printf("Task %s marked opened. %d pending.\n", args[0], pending)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all known tasks and suppression state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Reconciler.ResetAll(ctx); err != nil {
			return fmt.Errorf("resetting state: %w", err)
		}
		fmt.Println("All state cleared.")
		return nil
	},
}

func init() {
	snoozeCmd.Flags().IntVar(&snoozeMinutes, "minutes", 60, "snooze duration in minutes")
	rootCmd.AddCommand(ignoreCmd, snoozeCmd, openCmd, resetCmd)
}
