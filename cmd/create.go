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

var (
	createServerID int
	createName     string
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new server",
	Long:  `Create a new offline server record in the database.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}

		if _, err := env.store.Create(ctx, createServerID, createName); err != nil {
			logging.Logger().Fatal("Failed to create server record",
				zap.Int("server_id", createServerID), zap.Error(err))
		}

		fmt.Printf("Server %d registered\n", createServerID)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().IntVar(&createServerID, "id", 0, "Server id (required)")
	createCmd.Flags().StringVar(&createName, "name", "", "Display name")
	if err := createCmd.MarkFlagRequired("id"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
