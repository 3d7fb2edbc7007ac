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

var stopServerID int

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a server",
	Long: `Gracefully stop a running server: save and back up the world inside the
instance, cancel the spot request, and terminate the instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}

		err = env.withLease(ctx, stopServerID, func() error {
			server, err := env.server(ctx, stopServerID)
			if err != nil {
				return err
			}
			return server.Stop(ctx)
		})
		if err != nil {
			logging.Logger().Fatal("Failed to stop server",
				zap.Int("server_id", stopServerID), zap.Error(err))
		}

		fmt.Printf("Server %d stopped\n", stopServerID)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)

	stopCmd.Flags().IntVar(&stopServerID, "id", 0, "Server id (required)")
	if err := stopCmd.MarkFlagRequired("id"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
