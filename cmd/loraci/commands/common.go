// Package commands implements the loraci command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/loraci/internal/config"
)

// Global carries state shared by all subcommands.
type Global struct {
	Out io.Writer
}

// NewGlobal writes command output to stdout.
func NewGlobal() *Global { return &Global{Out: os.Stdout} }

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"loraci.yaml" env:"LORACI_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run          RunCmd          `cmd:"" help:"Check out a branch, fine-tune and run the inference check"`
	Resolve      ResolveCmd      `cmd:"" help:"Print the branch name of a refs/heads/<branch> reference"`
	CheckTrigger CheckTriggerCmd `cmd:"" name:"check-trigger" help:"Report whether a push to a reference would start a job"`
	Daemon       DaemonCmd       `cmd:"" help:"Serve push webhooks and run triggered jobs"`
	History      HistoryCmd      `cmd:"" help:"Show recorded jobs"`
	Init         InitCmd         `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing and installs a default logger until a
// config file says otherwise.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(newLogger(config.LoggingConfig{}, c.Verbose))
	return nil
}

// LoadConfig reads the configured file and applies its logging section.
func (c *CLI) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging, c.Verbose))
	return cfg, nil
}

func newLogger(lc config.LoggingConfig, verbose bool) *slog.Logger {
	level := lc.Level.Slog()
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if config.NormalizeLogFormat(string(lc.Format)) == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
