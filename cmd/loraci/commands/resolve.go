package commands

import (
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/loraci/internal/trigger"
)

// ResolveCmd implements the 'resolve' command.
type ResolveCmd struct {
	Ref string `required:"" help:"Reference to resolve, refs/heads/<branch>"`
}

func (r *ResolveCmd) Run(g *Global, _ *CLI) error {
	branch, err := trigger.ResolveBranch(r.Ref)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.Out, branch)
	return err
}

// CheckTriggerCmd implements the 'check-trigger' command. It never clones
// or runs anything.
type CheckTriggerCmd struct {
	Ref  string `required:"" help:"Pushed reference, refs/heads/<branch>"`
	JSON bool   `name:"json" help:"Print the decision as JSON"`
}

func (c *CheckTriggerCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	decision, err := trigger.NewFilter(cfg.Trigger).Decide(c.Ref)
	if err != nil {
		return err
	}

	if c.JSON {
		return json.NewEncoder(g.Out).Encode(decision)
	}
	verdict := "skip"
	if decision.Trigger {
		verdict = "trigger"
	}
	_, err = fmt.Fprintf(g.Out, "%s %s: %s\n", verdict, decision.Branch, decision.Reason)
	return err
}
