package commands

import (
	"fmt"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	if err := config.Init(root.Config, i.Force); err != nil {
		return derrors.Wrap(err, derrors.CategoryConfig, derrors.SeverityError, "failed to write configuration").
			WithKind(derrors.KindConfig).
			WithContext("path", root.Config)
	}
	_, err := fmt.Fprintf(g.Out, "Wrote example configuration to %s\n", root.Config)
	return err
}
