package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// ValidateConfig checks a defaulted configuration. Errors are classified
// config errors carrying the offending field.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	for _, check := range []func() error{
		cv.validateRepository,
		cv.validateWorkspace,
		cv.validateTrigger,
		cv.validateJob,
		cv.validateRetry,
		cv.validateHistory,
		cv.validateDaemon,
		cv.validateNotify,
		cv.validateArtifacts,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateRepository() error {
	repo := cv.config.Repository
	if strings.TrimSpace(repo.URL) == "" {
		return derrors.ConfigInvalid("repository.url", "must not be empty")
	}
	if !repo.Auth.Type.IsValid() {
		return derrors.ConfigInvalid("repository.auth.type", fmt.Sprintf("unsupported auth type: %s", repo.Auth.Type))
	}
	switch repo.Auth.Type {
	case AuthTypeBasic:
		if repo.Auth.Username == "" || repo.Auth.Password == "" {
			return derrors.ConfigInvalid("repository.auth", "basic auth requires username and password")
		}
	case AuthTypeToken:
		if repo.Auth.Token == "" {
			return derrors.ConfigInvalid("repository.auth.token", "token auth requires a token")
		}
	case AuthTypeSSH:
		if repo.Auth.KeyPath == "" {
			return derrors.ConfigInvalid("repository.auth.key_path", "ssh auth requires a key path")
		}
	}
	return nil
}

func (cv *configurationValidator) validateWorkspace() error {
	ws := cv.config.Workspace
	clean := path.Clean(ws.Path)
	if clean == "/" || clean == "." {
		return derrors.ConfigInvalid("workspace.path", "refusing to use root or current directory as workspace")
	}
	switch ws.Isolation {
	case IsolationShared, IsolationPerRun:
	default:
		return derrors.ConfigInvalid("workspace.isolation", fmt.Sprintf("unsupported isolation mode: %s", ws.Isolation))
	}
	return validateDuration("workspace.lock_timeout", ws.LockTimeout)
}

func (cv *configurationValidator) validateTrigger() error {
	tr := cv.config.Trigger
	switch tr.Mode {
	case FilterExclude, FilterIgnoreExcept:
	default:
		return derrors.ConfigInvalid("trigger.mode", fmt.Sprintf("unsupported filter mode: %s", tr.Mode))
	}
	for _, pattern := range tr.ExceptBranches {
		if _, err := path.Match(pattern, ""); err != nil {
			return derrors.ConfigInvalid("trigger.except_branches", fmt.Sprintf("bad pattern %q: %v", pattern, err))
		}
	}
	return nil
}

func (cv *configurationValidator) validateJob() error {
	ft := cv.config.FineTune
	if ft.Entrypoint == "" {
		return derrors.ConfigInvalid("finetune.entrypoint", "must not be empty")
	}
	if err := validateDuration("finetune.timeout", ft.Timeout); err != nil {
		return err
	}
	inf := cv.config.Inference
	if inf.Script == "" {
		return derrors.ConfigInvalid("inference.script", "must not be empty")
	}
	return validateDuration("inference.timeout", inf.Timeout)
}

func (cv *configurationValidator) validateRetry() error {
	r := cv.config.Retry
	if NormalizeRetryBackoff(string(r.Backoff)) == "" {
		return derrors.ConfigInvalid("retry.backoff", fmt.Sprintf("unsupported backoff: %s", r.Backoff))
	}
	initial, err := time.ParseDuration(r.InitialDelay)
	if err != nil || initial <= 0 {
		return derrors.ConfigInvalid("retry.initial_delay", fmt.Sprintf("invalid duration %q", r.InitialDelay))
	}
	maxDelay, err := time.ParseDuration(r.MaxDelay)
	if err != nil || maxDelay <= 0 {
		return derrors.ConfigInvalid("retry.max_delay", fmt.Sprintf("invalid duration %q", r.MaxDelay))
	}
	if initial > maxDelay {
		return derrors.ConfigInvalid("retry.initial_delay", "must not exceed retry.max_delay")
	}
	return nil
}

func (cv *configurationValidator) validateHistory() error {
	h := cv.config.History
	switch h.Driver {
	case HistorySQLite, HistoryPostgres:
		if h.DSN == "" {
			return derrors.ConfigInvalid("history.dsn", "required for "+string(h.Driver))
		}
	case HistoryNone:
	default:
		return derrors.ConfigInvalid("history.driver", fmt.Sprintf("unsupported driver: %s", h.Driver))
	}
	return validateDuration("history.retention", h.Retention)
}

func (cv *configurationValidator) validateDaemon() error {
	d := cv.config.Daemon
	if !strings.HasPrefix(d.WebhookPath, "/") {
		return derrors.ConfigInvalid("daemon.webhook_path", "must start with /")
	}
	if err := validateDuration("daemon.poll.interval", d.Poll.Interval); err != nil {
		return err
	}
	if d.Poll.Enabled {
		if iv, _ := time.ParseDuration(d.Poll.Interval); iv < time.Second {
			return derrors.ConfigInvalid("daemon.poll.interval", "must be at least 1s")
		}
	}
	if cv.config.History.Retention != "" {
		if _, err := cron.ParseStandard(d.RetentionSchedule); err != nil {
			return derrors.ConfigInvalid("daemon.retention_schedule", err.Error())
		}
	}
	seen := make(map[string]bool, len(d.Schedules))
	for i, sc := range d.Schedules {
		field := fmt.Sprintf("daemon.schedules[%d]", i)
		if sc.Name == "" {
			return derrors.ConfigInvalid(field+".name", "required")
		}
		if seen[sc.Name] {
			return derrors.ConfigInvalid(field+".name", "duplicate schedule name "+sc.Name)
		}
		seen[sc.Name] = true
		if _, err := cron.ParseStandard(sc.Cron); err != nil {
			return derrors.ConfigInvalid(field+".cron", err.Error())
		}
		if !strings.HasPrefix(sc.Ref, "refs/heads/") || sc.Ref == "refs/heads/" {
			return derrors.ConfigInvalid(field+".ref", "must be refs/heads/<branch>")
		}
	}
	return nil
}

func (cv *configurationValidator) validateNotify() error {
	n := cv.config.Notify
	if n.Enabled && n.URL == "" {
		return derrors.ConfigInvalid("notify.url", "required when notify is enabled")
	}
	return nil
}

func (cv *configurationValidator) validateArtifacts() error {
	a := cv.config.Artifacts
	if !a.Enabled {
		return nil
	}
	if a.Endpoint == "" {
		return derrors.ConfigInvalid("artifacts.endpoint", "required when artifacts are enabled")
	}
	if a.Bucket == "" {
		return derrors.ConfigInvalid("artifacts.bucket", "required when artifacts are enabled")
	}
	return nil
}

func validateDuration(field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return derrors.ConfigInvalid(field, fmt.Sprintf("invalid duration %q", raw))
	}
	if d < 0 {
		return derrors.ConfigInvalid(field, "must not be negative")
	}
	return nil
}

// ParseDurationOr parses an optional duration field, returning def when empty or invalid.
func ParseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
