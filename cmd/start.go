/*
Copyright © 2026 cloudcubes authors
*/
package cmd

import (
	"context"
	"fmt"

	"cloudcubes/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var startServerID int

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a server",
	Long: `Request spot capacity for a server. The record is left in UNKNOWN until a
reconcile observes the instance running; use status --reconcile or sweep to
confirm the launch.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}

		err = env.withLease(ctx, startServerID, func() error {
			server, err := env.server(ctx, startServerID)
			if err != nil {
				return err
			}
			return server.Start(ctx)
		})
		if err != nil {
			logging.Logger().Fatal("Failed to start server",
				zap.Int("server_id", startServerID), zap.Error(err))
		}

		fmt.Printf("Server %d starting; state is UNKNOWN until reconciled\n", startServerID)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().IntVar(&startServerID, "id", 0, "Server id (required)")
	if err := startCmd.MarkFlagRequired("id"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
