package config

import "time"

// Config represents the main project configuration (autoforge.yaml).
type Config struct {
	Name     string       `yaml:"name" json:"name"`
	Version  string       `yaml:"version" json:"version"`
	Server   ServerConfig `yaml:"server" json:"server"`
	Store    StoreConfig  `yaml:"store" json:"store"`
	Logging  LoggingConfig `yaml:"logging" json:"logging"`
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`
	VCS      VCSConfig    `yaml:"vcs" json:"vcs"`
	Webhook  WebhookConfig `yaml:"webhook" json:"webhook"`
	Hooks    HooksConfig  `yaml:"hooks" json:"hooks"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP API surface (§6).
type ServerConfig struct {
	Port int `yaml:"port" json:"port"` // default 3000, overridden by $PORT
}

// StoreConfig configures the Store backend (§4.1).
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite, memory
	Path   string `yaml:"path" json:"path"`     // file path or $DATABASE_URL
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
}

// DefaultsConfig provides orchestrator-wide defaults (§4.9, §5).
type DefaultsConfig struct {
	MaxParallel int    `yaml:"max_parallel" json:"max_parallel"` // subtask concurrency bound
	MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"` // per-stage attempt cap before escalation
	Timeout     string `yaml:"timeout" json:"timeout"`           // e.g. "30m", bound on waiting for CI checks
}

// ParsedTimeout converts Timeout to a time.Duration.
func (d *DefaultsConfig) ParsedTimeout() (time.Duration, error) {
	if d.Timeout == "" {
		return 30 * time.Minute, nil
	}
	return time.ParseDuration(d.Timeout)
}

// VCSConfig configures the consumed VCS adapter (§6).
type VCSConfig struct {
	Provider string       `yaml:"provider" json:"provider"` // github
	Token    string       `yaml:"token,omitempty" json:"-"`
	Retry    RetryPolicyConfig `yaml:"retry" json:"retry"` // GITHUB_RETRY_*
}

// WebhookConfig configures webhook-driven task creation (§6).
type WebhookConfig struct {
	TriggerLabel string `yaml:"trigger_label" json:"trigger_label"` // issue label that creates a Task
}

// RetryPolicyConfig is the YAML-facing shape of a retry policy. Load fills
// in defaults and Validate checks it; no caller converts it into a backoff
// schedule, so the GitHub client keeps vcs.DefaultRetryPolicy.
type RetryPolicyConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   string  `yaml:"base_delay" json:"base_delay"`
	Multiplier  float64 `yaml:"multiplier" json:"multiplier"`
	MaxDelay    string  `yaml:"max_delay" json:"max_delay"`
}

// HooksConfig configures lifecycle event hooks (§9 TaskEventKind observers).
type HooksConfig struct {
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Hooks   []HookConfig `yaml:"hooks" json:"hooks"`
}

// HookConfig defines a single hook.
type HookConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`         // shell, webhook, log, pause
	Events   []string `yaml:"events" json:"events"`     // TaskEventKind names to match
	Blocking bool     `yaml:"blocking" json:"blocking"`
	Command  string   `yaml:"command,omitempty" json:"command,omitempty"`   // for shell hooks
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`           // for webhook hooks
	Message  string   `yaml:"message,omitempty" json:"message,omitempty"`   // for pause hooks
	Level    string   `yaml:"level,omitempty" json:"level,omitempty"`       // for log hooks (debug, info, warn)
}

// MetricsConfig configures orchestration metrics export (§6). ExportPath
// empty means metrics are only held in memory for GET /api/metrics
// and never flushed to disk.
type MetricsConfig struct {
	ExportPath string `yaml:"export_path" json:"export_path"`
}

// ModelConfig is the Model Router's position → model identifier table
// (§4.3), loaded from model_config.yaml.
type ModelConfig struct {
	Models map[string]string `yaml:"models" json:"models"`
}
