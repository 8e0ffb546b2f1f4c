package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../commands.Version=...".
var Version = "dev"

// VersionCmd prints fleetd's version and build platform.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show fleetd version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetd %s\n", Version)
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("Go: %s\n", runtime.Version())
	},
}
