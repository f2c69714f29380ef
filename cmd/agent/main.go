// Command paynotify-agent captures payment notifications on the device and
// delivers them to the backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "paynotify-agent",
		Short:         "Capture payment notifications and forward them to the backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./agent.yaml when present)")

	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(deliverCmd(&configPath))
	rootCmd.AddCommand(registerCmd(&configPath))
	rootCmd.AddCommand(statusCmd(&configPath))
	rootCmd.AddCommand(resetFailedCmd(&configPath))
	rootCmd.AddCommand(trimCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
