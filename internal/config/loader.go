package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads the main project configuration from <dir>/autoforge.yaml.
func Load(dir string) (*Config, error) {
	configFile := filepath.Join(dir, "autoforge.yaml")

	content, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content = []byte(interpolateEnv(string(content)))

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadModelConfig loads the Model Router's position table from
// <dir>/model_config.yaml.
func LoadModelConfig(dir string) (*ModelConfig, error) {
	configFile := filepath.Join(dir, "model_config.yaml")

	content, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultModelConfig(), nil
		}
		return nil, fmt.Errorf("failed to read model config file: %w", err)
	}

	content = []byte(interpolateEnv(string(content)))

	var cfg ModelConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}

	if cfg.Models == nil {
		cfg.Models = map[string]string{}
	}
	applyModelDefaults(&cfg)

	if err := validateModelConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values.
func interpolateEnv(content string) string {
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	varPattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := varPattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(varName, "input.") || strings.HasPrefix(varName, "output.") {
			return match
		}
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return content
}

func defaultConfig() *Config {
	return &Config{
		Name:    "autoforge-project",
		Version: "1.0",
		Server: ServerConfig{
			Port: 3000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   ".autoforge/state.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Defaults: DefaultsConfig{
			MaxParallel: 4,
			MaxAttempts: 3,
			Timeout:     "30m",
		},
		VCS: VCSConfig{
			Provider: "github",
			Retry: RetryPolicyConfig{
				MaxAttempts: 5,
				BaseDelay:   "1s",
				Multiplier:  2,
				MaxDelay:    "30s",
			},
		},
		Webhook: WebhookConfig{
			TriggerLabel: "autoforge",
		},
	}
}

func applyDefaults(cfg *Config) {
	d := defaultConfig()

	if cfg.Name == "" {
		cfg.Name = d.Name
	}
	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := parsePort(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = d.Store.Path
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Store.Path = url
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Defaults.MaxParallel == 0 {
		cfg.Defaults.MaxParallel = d.Defaults.MaxParallel
	}
	if cfg.Defaults.MaxAttempts == 0 {
		cfg.Defaults.MaxAttempts = d.Defaults.MaxAttempts
	}
	if cfg.Defaults.Timeout == "" {
		cfg.Defaults.Timeout = d.Defaults.Timeout
	}
	if cfg.VCS.Provider == "" {
		cfg.VCS.Provider = d.VCS.Provider
	}
	if cfg.VCS.Token == "" {
		cfg.VCS.Token = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.VCS.Retry.MaxAttempts == 0 {
		cfg.VCS.Retry = d.VCS.Retry
	}
	if v := os.Getenv("GITHUB_RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.VCS.Retry.MaxAttempts = atoiOr(v, cfg.VCS.Retry.MaxAttempts)
	}
	if cfg.Webhook.TriggerLabel == "" {
		cfg.Webhook.TriggerLabel = d.Webhook.TriggerLabel
	}
}

func defaultModelConfig() *ModelConfig {
	cfg := &ModelConfig{Models: map[string]string{}}
	applyModelDefaults(cfg)
	return cfg
}

// applyModelDefaults fills in a minimally viable position table so
// modelFor/escalationModel are never undefined (§8 property 8).
func applyModelDefaults(cfg *ModelConfig) {
	defaults := map[string]string{
		"planner":          "claude-opus-4",
		"fixer":            "claude-sonnet-4",
		"reviewer":         "claude-sonnet-4",
		"escalation_1":     "claude-opus-4",
		"escalation_2":     "claude-opus-4-1m",
		"coder_XS_default": "claude-haiku-4",
		"coder_S_default":  "claude-sonnet-4",
		"coder_M_default":  "claude-sonnet-4",
	}
	for position, model := range defaults {
		if _, ok := cfg.Models[position]; !ok {
			cfg.Models[position] = model
		}
	}
}

func parsePort(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

func atoiOr(s string, fallback int) int {
	n, err := parsePort(s)
	if err != nil {
		return fallback
	}
	return n
}
