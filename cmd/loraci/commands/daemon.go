package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/loraci/internal/daemon"
	"git.home.luguber.info/inful/loraci/internal/version"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	NoWatch bool `name:"no-watch" help:"Do not reload the configuration file on change"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := root.Config
	if d.NoWatch {
		configPath = ""
	}
	srv, err := daemon.New(ctx, cfg, configPath)
	if err != nil {
		return err
	}

	slog.Info("Starting daemon", slog.String("version", version.String()))
	if err := srv.Run(ctx); err != nil {
		return err
	}
	slog.Info("Daemon stopped")
	return nil
}
