package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateWatts float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次功率超限并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateWatts <= 0 {
			return errors.New("--watts 必须大于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateWatts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateWatts, "watts", 7500, "模拟的瞬时功率（瓦）")
}
