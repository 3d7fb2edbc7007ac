/*
Copyright © 2026 cloudcubes authors
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cloudcubes",
	Short: "Manage ephemeral Minecraft servers on EC2 spot capacity",
	Long: `Cloudcubes provisions and manages ephemeral Minecraft game servers backed
by EC2 spot capacity. Server existence and online state are tracked in a
DynamoDB table, instances bootstrap themselves from scripts in the resource
bucket, and every lifecycle transition runs under a per-server lease.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
