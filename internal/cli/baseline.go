package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"power-env-alerts/internal/app"
)

var (
	baselineTrainInput  string
	baselineTrainOutput string
	baselineShowPath    string
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the estimator baseline snapshot",
}

var baselineTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a baseline snapshot from a historical CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if baselineTrainInput == "" {
			return fmt.Errorf("--input must be provided")
		}

		opts := app.TrainOptions{
			Input:  baselineTrainInput,
			Output: baselineTrainOutput,
		}

		return getApp().TrainBaseline(cmd.Context(), opts)
	},
}

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored baseline snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowBaseline(baselineShowPath)
	},
}

func init() {
	baselineTrainCmd.Flags().StringVar(&baselineTrainInput, "input", "", "Path to readings CSV")
	baselineTrainCmd.Flags().StringVar(&baselineTrainOutput, "output", "", "Snapshot path (defaults to baseline.path)")
	baselineShowCmd.Flags().StringVar(&baselineShowPath, "path", "", "Snapshot path (defaults to baseline.path)")

	baselineCmd.AddCommand(baselineTrainCmd)
	baselineCmd.AddCommand(baselineShowCmd)
}
