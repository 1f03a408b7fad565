package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/loraci/cmd/loraci/commands"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("loraci"),
		kong.Description("CI trigger and runner for multi-LoRA fine-tuning"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	if err := ctx.Run(commands.NewGlobal(), &cli); err != nil {
		derrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
