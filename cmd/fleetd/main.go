package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skylinesignage/fleetd/cmd/fleetd/commands"
	"github.com/skylinesignage/fleetd/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "fleetd - digital signage fleet control plane",
	Long: `fleetd runs the secure bidirectional control plane for a fleet of
digital signage clients: session management, heartbeat liveness tracking,
command dispatch, layout scheduling, and LAN discovery.

Available commands:
  serve     - Run the control plane
  token     - Manage registration tokens
  operator  - Manage operator app registrations
  discover  - One-shot LAN scan for operator debugging`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		return logger.Initialize(jsonLogs, verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase output verbosity (repeat for more detail)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a fleetd TOML config file")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.TokenCmd)
	rootCmd.AddCommand(commands.OperatorCmd)
	rootCmd.AddCommand(commands.DiscoverCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
