package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Defaults reproducing the stock m-LoRA CI workflow.
const (
	DefaultRepositoryURL = "git@github.com:TUDB-Labs/multi-lora-fine-tune.git"
	DefaultWorkspacePath = "/workspace/multi-lora-fine-tune"
	DefaultPython        = "python"
	DefaultEntrypoint    = "mlora.py"
	DefaultBaseModel     = "/data/llama-7b-hf"
	DefaultFineTuneJSON  = "./config/dummy.json"
	DefaultInferScript   = "./inference.py"
	DefaultModelFamily   = "llama"
	DefaultAdapterPath   = "./lora_1"
	DefaultPrompt        = "What is m-LoRA?"
	DefaultExpected      = "Multi-LoRA"
	DefaultExceptBranch  = "main"
	DefaultSSHKey        = "~/.ssh/id_rsa"
	DefaultListenAddr    = ":8090"
	DefaultWebhookPath   = "/webhook"
	DefaultQueueSize     = 16
	DefaultPollInterval  = "2m"
	DefaultHistoryDSN    = "loraci-history.db"
	DefaultNotifySubject = "loraci.jobs"
	DefaultRetentionCron = "0 3 * * *"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs every domain applier in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the applier chain used by Load.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&RepositoryDefaultApplier{},
			&WorkspaceDefaultApplier{},
			&TriggerDefaultApplier{},
			&JobDefaultApplier{},
			&RetryDefaultApplier{},
			&LoggingDefaultApplier{},
			&HistoryDefaultApplier{},
			&DaemonDefaultApplier{},
			&NotifyDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// GetApplierByDomain returns a specific domain applier (useful for testing)
func (c *CompositeDefaultApplier) GetApplierByDomain(domain string) DefaultApplier {
	for _, applier := range c.appliers {
		if applier.Domain() == domain {
			return applier
		}
	}
	return nil
}

// RepositoryDefaultApplier fills the clone URL, depth and auth method.
type RepositoryDefaultApplier struct{}

func (r *RepositoryDefaultApplier) Domain() string { return "repository" }

func (r *RepositoryDefaultApplier) ApplyDefaults(cfg *Config) error {
	repo := &cfg.Repository
	if repo.URL == "" {
		repo.URL = DefaultRepositoryURL
	}
	if repo.Depth == 0 {
		repo.Depth = 1
	}
	if repo.Auth.Type == "" {
		if IsSSHURL(repo.URL) {
			repo.Auth.Type = AuthTypeSSH
		} else {
			repo.Auth.Type = AuthTypeNone
		}
	} else if t := NormalizeAuthType(string(repo.Auth.Type)); t != "" {
		repo.Auth.Type = t
	}
	if repo.Auth.Type == AuthTypeSSH && repo.Auth.KeyPath == "" {
		repo.Auth.KeyPath = DefaultSSHKey
	}
	repo.Auth.KeyPath = ExpandHome(repo.Auth.KeyPath)
	return nil
}

// CloneDepth converts the configured depth into a go-git depth (0 = full history).
func (r RepositoryConfig) CloneDepth() int {
	if r.Depth < 0 {
		return 0
	}
	return r.Depth
}

// WorkspaceDefaultApplier fills the checkout path and isolation mode.
type WorkspaceDefaultApplier struct{}

func (w *WorkspaceDefaultApplier) Domain() string { return "workspace" }

func (w *WorkspaceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = DefaultWorkspacePath
	}
	cfg.Workspace.Path = ExpandHome(cfg.Workspace.Path)
	switch IsolationMode(strings.ToLower(strings.TrimSpace(string(cfg.Workspace.Isolation)))) {
	case "", IsolationShared:
		cfg.Workspace.Isolation = IsolationShared
	case IsolationPerRun, "per_run", "perrun":
		cfg.Workspace.Isolation = IsolationPerRun
	}
	return nil
}

// TriggerDefaultApplier fills the exception list and filter mode.
type TriggerDefaultApplier struct{}

func (t *TriggerDefaultApplier) Domain() string { return "trigger" }

func (t *TriggerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Trigger.ExceptBranches == nil {
		cfg.Trigger.ExceptBranches = []string{DefaultExceptBranch}
	}
	switch FilterMode(strings.ToLower(strings.TrimSpace(string(cfg.Trigger.Mode)))) {
	case "", FilterExclude:
		cfg.Trigger.Mode = FilterExclude
	case FilterIgnoreExcept:
		cfg.Trigger.Mode = FilterIgnoreExcept
	}
	return nil
}

// JobDefaultApplier fills the fine-tune and inference command contracts.
type JobDefaultApplier struct{}

func (j *JobDefaultApplier) Domain() string { return "job" }

func (j *JobDefaultApplier) ApplyDefaults(cfg *Config) error {
	ft := &cfg.FineTune
	setIfEmpty(&ft.Python, DefaultPython)
	setIfEmpty(&ft.Entrypoint, DefaultEntrypoint)
	setIfEmpty(&ft.BaseModel, DefaultBaseModel)
	setIfEmpty(&ft.ConfigPath, DefaultFineTuneJSON)
	if ft.Load8Bit == nil {
		on := true
		ft.Load8Bit = &on
	}

	inf := &cfg.Inference
	setIfEmpty(&inf.Python, ft.Python)
	setIfEmpty(&inf.Script, DefaultInferScript)
	setIfEmpty(&inf.ModelFamily, DefaultModelFamily)
	setIfEmpty(&inf.BaseModel, ft.BaseModel)
	setIfEmpty(&inf.AdapterPath, DefaultAdapterPath)
	setIfEmpty(&inf.Prompt, DefaultPrompt)
	setIfEmpty(&inf.Expected, DefaultExpected)
	return nil
}

// RetryDefaultApplier keeps clone retries disabled unless asked for.
type RetryDefaultApplier struct{}

func (r *RetryDefaultApplier) Domain() string { return "retry" }

func (r *RetryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = RetryBackoffLinear
	} else if m := NormalizeRetryBackoff(string(cfg.Retry.Backoff)); m != "" {
		cfg.Retry.Backoff = m
	}
	setIfEmpty(&cfg.Retry.InitialDelay, "1s")
	setIfEmpty(&cfg.Retry.MaxDelay, "30s")
	return nil
}

// LoggingDefaultApplier normalizes level and format.
type LoggingDefaultApplier struct{}

func (l *LoggingDefaultApplier) Domain() string { return "logging" }

func (l *LoggingDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	return nil
}

// HistoryDefaultApplier selects the sqlite store by default.
type HistoryDefaultApplier struct{}

func (h *HistoryDefaultApplier) Domain() string { return "history" }

func (h *HistoryDefaultApplier) ApplyDefaults(cfg *Config) error {
	driver := HistoryDriver(strings.ToLower(strings.TrimSpace(string(cfg.History.Driver))))
	switch driver {
	case "", "sqlite3":
		driver = HistorySQLite
	case "postgresql", "pgx":
		driver = HistoryPostgres
	}
	cfg.History.Driver = driver
	if driver == HistorySQLite && cfg.History.DSN == "" {
		cfg.History.DSN = filepath.Join(filepath.Dir(cfg.Workspace.Path), DefaultHistoryDSN)
	}
	return nil
}

// DaemonDefaultApplier fills listener, queue and poll settings.
type DaemonDefaultApplier struct{}

func (d *DaemonDefaultApplier) Domain() string { return "daemon" }

func (d *DaemonDefaultApplier) ApplyDefaults(cfg *Config) error {
	setIfEmpty(&cfg.Daemon.ListenAddr, DefaultListenAddr)
	setIfEmpty(&cfg.Daemon.WebhookPath, DefaultWebhookPath)
	if cfg.Daemon.QueueSize <= 0 {
		cfg.Daemon.QueueSize = DefaultQueueSize
	}
	setIfEmpty(&cfg.Daemon.Poll.Interval, DefaultPollInterval)
	setIfEmpty(&cfg.Daemon.RetentionSchedule, DefaultRetentionCron)
	return nil
}

// NotifyDefaultApplier fills the NATS subject.
type NotifyDefaultApplier struct{}

func (n *NotifyDefaultApplier) Domain() string { return "notify" }

func (n *NotifyDefaultApplier) ApplyDefaults(cfg *Config) error {
	setIfEmpty(&cfg.Notify.Subject, DefaultNotifySubject)
	return nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
