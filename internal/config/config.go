package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// CurrentVersion is the configuration schema version written by Init and
// accepted by Load.
const CurrentVersion = "1.0"

// DefaultConfigPath is the file the CLI reads when --config is not given.
const DefaultConfigPath = "loraci.yaml"

// Config is the complete runner configuration. Every section is optional;
// an empty file reproduces the stock m-LoRA workflow.
type Config struct {
	Version    string           `yaml:"version"`
	Repository RepositoryConfig `yaml:"repository"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	FineTune   FineTuneConfig   `yaml:"finetune"`
	Inference  InferenceConfig  `yaml:"inference"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
	History    HistoryConfig    `yaml:"history"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Notify     NotifyConfig     `yaml:"notify"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
}

// RepositoryConfig describes the external project that is cloned for every job.
type RepositoryConfig struct {
	URL  string     `yaml:"url"`
	Auth AuthConfig `yaml:"auth"`
	// Depth is the clone depth. 0 means the default shallow clone (1);
	// a negative value requests full history.
	Depth int `yaml:"depth,omitempty"`
}

// IsolationMode selects how jobs share the runner workspace.
type IsolationMode string

const (
	IsolationShared IsolationMode = "shared"
	IsolationPerRun IsolationMode = "per-run"
)

// WorkspaceConfig controls where the checkout lives and how it is guarded.
type WorkspaceConfig struct {
	Path        string        `yaml:"path"`
	Isolation   IsolationMode `yaml:"isolation"`
	LockTimeout string        `yaml:"lock_timeout,omitempty"` // 0 fails fast when busy
	KeepRuns    bool          `yaml:"keep_runs,omitempty"`    // per-run only
}

// FilterMode resolves the ambiguity of an "except" branch qualifier.
type FilterMode string

const (
	// FilterExclude never triggers on listed branches.
	FilterExclude FilterMode = "exclude"
	// FilterIgnoreExcept triggers on every branch, ignoring the list.
	FilterIgnoreExcept FilterMode = "ignore-except"
)

// TriggerConfig decides which pushes start a job.
type TriggerConfig struct {
	ExceptBranches []string   `yaml:"except_branches"`
	Mode           FilterMode `yaml:"mode"`
}

// FineTuneConfig is the command-line contract of the fine-tuning entry point.
type FineTuneConfig struct {
	Python        string            `yaml:"python"`
	Entrypoint    string            `yaml:"entrypoint"`
	BaseModel     string            `yaml:"base_model"`
	ConfigPath    string            `yaml:"config"`
	Load8Bit      *bool             `yaml:"load_8bit,omitempty"`
	ExtraArgs     []string          `yaml:"extra_args,omitempty"`
	Timeout       string            `yaml:"timeout,omitempty"`
	VerifyAdapter bool              `yaml:"verify_adapter,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
}

// LoadIn8Bit reports whether --load_8bit is passed (default true).
func (f FineTuneConfig) LoadIn8Bit() bool { return f.Load8Bit == nil || *f.Load8Bit }

// InferenceConfig is the command-line contract of the inference smoke test.
type InferenceConfig struct {
	Python       string            `yaml:"python"`
	Script       string            `yaml:"script"`
	ModelFamily  string            `yaml:"model_family"`
	BaseModel    string            `yaml:"base_model"`
	AdapterPath  string            `yaml:"adapter_path"`
	Prompt       string            `yaml:"prompt"`
	Expected     string            `yaml:"expected"`
	Timeout      string            `yaml:"timeout,omitempty"`
	VerifyOutput bool              `yaml:"verify_output,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// HistoryDriver selects the job history backend.
type HistoryDriver string

const (
	HistorySQLite   HistoryDriver = "sqlite"
	HistoryPostgres HistoryDriver = "postgres"
	HistoryNone     HistoryDriver = "none"
)

// HistoryConfig configures the job event store.
type HistoryConfig struct {
	Driver    HistoryDriver `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	Retention string        `yaml:"retention,omitempty"` // e.g. 720h; empty keeps everything
}

// DaemonConfig configures the long-running webhook/poll mode.
type DaemonConfig struct {
	ListenAddr    string     `yaml:"listen_addr"`
	WebhookPath   string     `yaml:"webhook_path"`
	WebhookSecret string     `yaml:"webhook_secret,omitempty"`
	QueueSize     int        `yaml:"queue_size"`
	Poll          PollConfig `yaml:"poll"`
	// RetentionSchedule is the cron expression for history cleanup.
	RetentionSchedule string           `yaml:"retention_schedule,omitempty"`
	Schedules         []ScheduleConfig `yaml:"schedules,omitempty"`
}

// ScheduleConfig runs a job for a fixed ref on a cron schedule.
type ScheduleConfig struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
	Ref  string `yaml:"ref"`
}

// PollConfig enables the remote-head poll trigger.
type PollConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// NotifyConfig publishes job results to NATS.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Subject   string `yaml:"subject"`
	JetStream bool   `yaml:"jetstream,omitempty"`
}

// ArtifactsConfig uploads the produced adapter to S3-compatible storage.
type ArtifactsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	Region    string `yaml:"region,omitempty"`
}

// Load reads a configuration file, expands ${VAR} references, applies
// defaults and validates the result. A missing file at the default path is
// not an error: the built-in defaults are used instead.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, derrors.Wrap(err, derrors.CategoryConfig, derrors.SeverityFatal, "failed to parse config").
				WithKind(derrors.KindConfig).
				WithContext("path", configPath)
		}
	case os.IsNotExist(err) && configPath == DefaultConfigPath:
		// defaults only
	case os.IsNotExist(err):
		return nil, derrors.ConfigNotFound(configPath)
	default:
		return nil, derrors.Wrap(err, derrors.CategoryConfig, derrors.SeverityFatal, "failed to read config file").
			WithKind(derrors.KindConfig).
			WithContext("path", configPath)
	}

	if cfg.Version != "" && cfg.Version != CurrentVersion {
		return nil, derrors.ConfigInvalid("version", fmt.Sprintf("unsupported configuration version %s (expected %s)", cfg.Version, CurrentVersion))
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) error {
	return NewDefaultApplier().ApplyDefaults(cfg)
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Version = CurrentVersion
	example.Repository.Auth.Passphrase = "${LORACI_SSH_PASSPHRASE}"
	example.Daemon.WebhookSecret = "${LORACI_WEBHOOK_SECRET}"
	example.History.Retention = "720h"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
