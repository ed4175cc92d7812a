package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Webhook.TriggerLabel != "autoforge" {
		t.Errorf("expected default trigger label 'autoforge', got %s", cfg.Webhook.TriggerLabel)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
name: demo
server:
  port: 8080
store:
  driver: memory
defaults:
  max_parallel: 8
  max_attempts: 5
  timeout: 45m
webhook:
  trigger_label: ship-it
`
	if err := os.WriteFile(filepath.Join(dir, "autoforge.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected driver memory, got %s", cfg.Store.Driver)
	}
	if cfg.Defaults.MaxParallel != 8 {
		t.Errorf("expected max_parallel 8, got %d", cfg.Defaults.MaxParallel)
	}
	if cfg.Webhook.TriggerLabel != "ship-it" {
		t.Errorf("expected trigger label 'ship-it', got %s", cfg.Webhook.TriggerLabel)
	}
}

func TestLoad_EnvInterpolation(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("TEST_AUTOFORGE_TOKEN", "secret-token")
	defer os.Unsetenv("TEST_AUTOFORGE_TOKEN")

	content := `
vcs:
  provider: github
  token: ${TEST_AUTOFORGE_TOKEN}
`
	if err := os.WriteFile(filepath.Join(dir, "autoforge.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.VCS.Token != "secret-token" {
		t.Errorf("expected interpolated token, got %q", cfg.VCS.Token)
	}
}

func TestLoadModelConfig_DefaultsResolveEveryTier(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadModelConfig(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, position := range []string{"planner", "fixer", "reviewer", "escalation_1", "escalation_2"} {
		if cfg.Models[position] == "" {
			t.Errorf("expected default model for %s", position)
		}
	}
}

func TestLoadModelConfig_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
models:
  planner: custom-planner-model
  coder_XS_default: custom-coder-model
`
	if err := os.WriteFile(filepath.Join(dir, "model_config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadModelConfig(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Models["planner"] != "custom-planner-model" {
		t.Errorf("expected custom planner model, got %s", cfg.Models["planner"])
	}
	// Defaults still fill in positions the override didn't touch.
	if cfg.Models["fixer"] == "" {
		t.Error("expected fixer default to still be filled in")
	}
}
