package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"power-env-alerts/internal/app"
)

var (
	replayInput          string
	replayWeather        string
	replayEventsOut      string
	replayPersist        bool
	replayUpdateBaseline bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded readings CSV through the detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("--input must be provided")
		}

		opts := app.ReplayOptions{
			Input:          replayInput,
			Weather:        replayWeather,
			EventsOut:      replayEventsOut,
			Persist:        replayPersist,
			UpdateBaseline: replayUpdateBaseline,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to readings CSV")
	replayCmd.Flags().StringVar(&replayWeather, "weather", "", "Path to outdoor weather CSV to merge")
	replayCmd.Flags().StringVar(&replayEventsOut, "events-out", "", "Path to write detected events CSV (.gz compresses)")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "Write readings and events to the database")
	replayCmd.Flags().BoolVar(&replayUpdateBaseline, "update-baseline", false, "Save the post-replay baseline snapshot")
}
