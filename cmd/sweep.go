/*
Copyright © 2026 cloudcubes authors
*/
package cmd

import (
	"context"
	"fmt"

	"cloudcubes/internal/lease"
	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/logging"
	"cloudcubes/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile all unverified servers",
	Long: `Scan the server database and verify every record left in UNKNOWN against
EC2, settling it to ONLINE or OFFLINE where the outcome is known. Intended
to run on a schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}

		locker, err := lease.NewLocker(env.cfg.Etcd.Endpoints)
		if err != nil {
			logging.Logger().Fatal("Failed to connect to lease store", zap.Error(err))
		}
		defer func() {
			if err := locker.Close(); err != nil {
				logging.Logger().Warn("failed to close lease store", zap.Error(err))
			}
		}()

		factory := func(ctx context.Context, id int) (lifecycle.Server, error) {
			return env.server(ctx, id)
		}

		results, err := scheduler.Sweep(ctx, env.store, locker, factory, env.cfg.Sweep.MaxWorkers)
		if err != nil {
			logging.Logger().Fatal("Sweep failed", zap.Error(err))
		}

		if len(results) == 0 {
			fmt.Println("No unverified servers")
			return
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("Server %d: %s (error: %v)\n", r.ID, r.State, r.Err)
				continue
			}
			fmt.Printf("Server %d: %s\n", r.ID, r.State)
		}
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
