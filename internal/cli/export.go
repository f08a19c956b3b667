package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vigiapainel/vigia/internal/observability"
	"gopkg.in/yaml.v3"
)

var (
	exportSinceHours int
	exportType       string
	exportLevel      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the diagnostic event log as YAML",
	Long: `Dumps the engine's diagnostic events (degraded writes, suppressed
notifications, retry exhaustion, cleanups) to stdout. Failures in the
engine never crash it; this log is where they surface.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().IntVar(&exportSinceHours, "since", 24, "hours of history to export")
	exportCmd.Flags().StringVar(&exportType, "type", "", "filter by event type")
	exportCmd.Flags().StringVar(&exportLevel, "level", "", "filter by level (INFO, WARN, ERROR)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	since := time.Now().UTC().Add(-time.Duration(exportSinceHours) * time.Hour)
	events, err := a.EventLog.Read(observability.EventFilter{
		Since: &since,
		Type:  exportType,
		Level: exportLevel,
	})
	if err != nil {
		return fmt.Errorf("reading event log: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events in the selected window.")
		return nil
	}

	out, err := yaml.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}
