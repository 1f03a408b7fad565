package trigger

import (
	"path"

	"git.home.luguber.info/inful/loraci/internal/config"
)

// Filter applies the "push to any branch except ..." rule.
type Filter struct {
	mode   config.FilterMode
	except []string
}

// NewFilter builds a filter from the trigger configuration.
func NewFilter(cfg config.TriggerConfig) *Filter {
	mode := cfg.Mode
	if mode == "" {
		mode = config.FilterExclude
	}
	return &Filter{mode: mode, except: append([]string(nil), cfg.ExceptBranches...)}
}

// Decision explains a filter verdict.
type Decision struct {
	Ref     string `json:"ref"`
	Branch  string `json:"branch"`
	Trigger bool   `json:"trigger"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
}

// ShouldTrigger reports whether a push to branch starts a job.
func (f *Filter) ShouldTrigger(branch string) bool {
	trigger, _ := f.match(branch)
	return trigger
}

// Decide resolves ref and applies the filter. Malformed references are
// returned as errors, never as a negative decision.
func (f *Filter) Decide(ref string) (Decision, error) {
	branch, err := ResolveBranch(ref)
	if err != nil {
		return Decision{Ref: ref}, err
	}
	d := Decision{Ref: ref, Branch: branch}
	d.Trigger, d.Pattern = f.match(branch)
	switch {
	case f.mode == config.FilterIgnoreExcept:
		d.Reason = "filter mode ignore-except triggers every branch"
	case d.Trigger:
		d.Reason = "branch is not excluded"
	default:
		d.Reason = "branch matches exception " + d.Pattern
	}
	return d, nil
}

// Mode returns the configured filter mode.
func (f *Filter) Mode() config.FilterMode { return f.mode }

func (f *Filter) match(branch string) (bool, string) {
	if f.mode == config.FilterIgnoreExcept {
		return true, ""
	}
	for _, pattern := range f.except {
		if pattern == branch {
			return false, pattern
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return false, pattern
		}
	}
	return true, ""
}
