package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"power-env-alerts/internal/app"
)

var (
	showLimit    int
	showReadings bool
	showOpenOnly bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent anomaly events or readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showReadings && showOpenOnly {
			return fmt.Errorf("--open only applies to events")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Readings: showReadings,
			OpenOnly: showOpenOnly,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showReadings, "readings", false, "Show readings instead of events")
	showCmd.Flags().BoolVar(&showOpenOnly, "open", false, "Show only events still open")
}
