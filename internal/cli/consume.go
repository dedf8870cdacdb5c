package cli

import (
	"github.com/spf13/cobra"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the detection service against the Kafka reading feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Consume(cmd.Context())
	},
}
