package pipeline

import (
	"git.home.luguber.info/inful/loraci/internal/config"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/process"
)

// FineTuneCommand builds the fine-tuning invocation:
// <python> <entrypoint> --base_model <path> --config <json> [--load_8bit] [extra...]
func FineTuneCommand(cfg config.FineTuneConfig, dir string) process.Command {
	args := []string{cfg.Entrypoint, "--base_model", cfg.BaseModel, "--config", cfg.ConfigPath}
	if cfg.LoadIn8Bit() {
		args = append(args, "--load_8bit")
	}
	args = append(args, cfg.ExtraArgs...)
	return process.Command{
		Step:    string(job.StepFineTune),
		Program: cfg.Python,
		Args:    args,
		Dir:     dir,
		Env:     cfg.Env,
		Timeout: config.ParseDurationOr(cfg.Timeout, 0),
	}
}

// InferenceCommand builds the smoke test invocation with its five positional
// arguments: model family, base model, adapter, prompt, expected answer.
func InferenceCommand(cfg config.InferenceConfig, dir string) process.Command {
	return process.Command{
		Step:    string(job.StepInference),
		Program: cfg.Python,
		Args: []string{
			cfg.Script,
			cfg.ModelFamily,
			cfg.BaseModel,
			cfg.AdapterPath,
			cfg.Prompt,
			cfg.Expected,
		},
		Dir:     dir,
		Env:     cfg.Env,
		Timeout: config.ParseDurationOr(cfg.Timeout, 0),
	}
}
