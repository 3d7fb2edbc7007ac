/*
Copyright © 2026 cloudcubes authors
*/
package cmd

import (
	"context"
	"fmt"

	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/logging"
	"cloudcubes/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	statusServerID  int
	statusReconcile bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a server's state",
	Long: `Print the persisted state of a server. With --reconcile, an UNKNOWN record
is first verified against EC2 and settled to ONLINE or OFFLINE when the
outcome of the last transition is known.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}

		var state store.ServerState
		if statusReconcile {
			err = env.withLease(ctx, statusServerID, func() error {
				server, err := env.server(ctx, statusServerID)
				if err != nil {
					return err
				}
				state, err = server.Reconcile(ctx)
				return err
			})
		} else {
			var server lifecycle.Server
			server, err = env.server(ctx, statusServerID)
			if err == nil {
				state, err = server.State(ctx)
			}
		}
		if err != nil {
			logging.Logger().Fatal("Failed to read server state",
				zap.Int("server_id", statusServerID), zap.Error(err))
		}

		fmt.Printf("Server %d: %s\n", statusServerID, state)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVar(&statusServerID, "id", 0, "Server id (required)")
	statusCmd.Flags().BoolVar(&statusReconcile, "reconcile", false, "Verify an UNKNOWN state against EC2 first")
	if err := statusCmd.MarkFlagRequired("id"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
