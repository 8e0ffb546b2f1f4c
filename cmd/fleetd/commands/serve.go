package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skylinesignage/fleetd/internal/config"
	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/repository/sqlite"
	"github.com/skylinesignage/fleetd/internal/server"
)

// ServeCmd starts the fleetd control plane.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the fleet control plane",
	Long:    `Start accepting client and operator WebSocket connections and run the liveness monitor, scheduler, and discovery announcer.`,
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	repo, err := sqlite.New(cfg.ConnectionString)
	if err != nil {
		return errors.Wrap(err, "opening repository")
	}

	srv, err := server.New(cfg, repo)
	if err != nil {
		_ = repo.Close()
		return errors.Wrap(err, "assembling server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
