package config

import (
	"fmt"
	"strings"
	"time"
)

// validateConfig validates the main project configuration, accumulating
// every violation before returning (the teacher's accumulated-errors style).
func validateConfig(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Store.Driver] {
		errs = append(errs, fmt.Sprintf("invalid store driver: %s", cfg.Store.Driver))
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		errs = append(errs, "sqlite store requires a path")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("invalid logging level: %s", cfg.Logging.Level))
	}

	if cfg.Defaults.MaxParallel < 1 {
		errs = append(errs, "defaults.max_parallel must be >= 1")
	}
	if cfg.Defaults.MaxAttempts < 1 {
		errs = append(errs, "defaults.max_attempts must be >= 1")
	}
	if _, err := cfg.Defaults.ParsedTimeout(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid defaults.timeout: %s", err))
	}

	validVCS := map[string]bool{"github": true}
	if !validVCS[cfg.VCS.Provider] {
		errs = append(errs, fmt.Sprintf("invalid vcs provider: %s", cfg.VCS.Provider))
	}
	if err := validateRetryPolicy(cfg.VCS.Retry); err != nil {
		errs = append(errs, fmt.Sprintf("vcs.retry: %s", err))
	}

	if cfg.Webhook.TriggerLabel == "" {
		errs = append(errs, "webhook.trigger_label is required")
	}

	for _, h := range cfg.Hooks.Hooks {
		if err := validateHook(h); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRetryPolicy(p RetryPolicyConfig) error {
	var errs []string
	if p.MaxAttempts < 1 {
		errs = append(errs, "max_attempts must be >= 1")
	}
	if p.BaseDelay != "" {
		if _, err := time.ParseDuration(p.BaseDelay); err != nil {
			errs = append(errs, fmt.Sprintf("invalid base_delay %q: %s", p.BaseDelay, err))
		}
	}
	if p.MaxDelay != "" {
		if _, err := time.ParseDuration(p.MaxDelay); err != nil {
			errs = append(errs, fmt.Sprintf("invalid max_delay %q: %s", p.MaxDelay, err))
		}
	}
	if p.Multiplier < 1 {
		errs = append(errs, "multiplier must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHook(h HookConfig) error {
	var errs []string
	if h.Name == "" {
		errs = append(errs, "hook name is required")
	}
	validTypes := map[string]bool{"shell": true, "webhook": true, "log": true, "pause": true}
	if !validTypes[h.Type] {
		errs = append(errs, fmt.Sprintf("hook %s: invalid type %q", h.Name, h.Type))
	}
	if h.Type == "shell" && h.Command == "" {
		errs = append(errs, fmt.Sprintf("hook %s: shell hook requires a command", h.Name))
	}
	if h.Type == "webhook" && h.URL == "" {
		errs = append(errs, fmt.Sprintf("hook %s: webhook hook requires a url", h.Name))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateModelConfig checks that every fixed position required by the
// Model Router's resolution chain (§4.3, §8 property 8) is resolvable.
func validateModelConfig(cfg *ModelConfig) error {
	var errs []string

	required := []string{"planner", "fixer", "reviewer", "escalation_1"}
	for _, position := range required {
		if cfg.Models[position] == "" {
			errs = append(errs, fmt.Sprintf("missing required model position: %s", position))
		}
	}

	// Every complexity tier must resolve through its own default or
	// escalation_1, or modelFor would be undefined for that tier. Tiers
	// match store.Complexity's uppercase values (XS, S, M), since
	// model.Router builds its lookup key as coder_<complexity>_default.
	for _, complexity := range []string{"XS", "S", "M"} {
		hasDefault := cfg.Models["coder_"+complexity+"_default"] != ""
		if !hasDefault && cfg.Models["escalation_1"] == "" {
			errs = append(errs, fmt.Sprintf("coder_%s has no default and no escalation_1 fallback", complexity))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("model config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
