/*
Copyright © 2026 cloudcubes authors
*/
package cmd

import (
	"context"
	"fmt"

	"cloudcubes/internal/logging"
	"cloudcubes/internal/resources"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncResourcesDir string

// syncResourcesCmd represents the sync-resources command
var syncResourcesCmd = &cobra.Command{
	Use:   "sync-resources",
	Short: "Upload bootstrap resources to the resource bucket",
	Long: `Upload the contents of a local directory to the resource bucket,
preserving relative paths. Launched instances download
server-startup/startup.sh (and the stop path server-shutdown/shutdown.sh)
from there.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		env, err := newEnvironment(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load environment", zap.Error(err))
		}
		if env.cfg.ResourceBucketName == "" {
			logging.Logger().Fatal("resource_bucket_name is not configured")
		}

		awsCfg, err := env.cfg.AWSConfig(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to load AWS config", zap.Error(err))
		}

		keys, err := resources.Sync(ctx, s3.NewFromConfig(awsCfg), env.cfg.ResourceBucketName, syncResourcesDir)
		if err != nil {
			logging.Logger().Fatal("Failed to sync resources", zap.Error(err))
		}

		fmt.Printf("Uploaded %d files to %s\n", len(keys), env.cfg.ResourceBucketName)
	},
}

func init() {
	rootCmd.AddCommand(syncResourcesCmd)

	syncResourcesCmd.Flags().StringVar(&syncResourcesDir, "dir", "resources", "Local directory to upload")
}
