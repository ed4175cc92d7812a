package config

import "testing"

func TestValidateConfig_RejectsBadPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	applyDefaults(cfg)
	cfg.Server.Port = -1

	if err := validateConfig(cfg); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestValidateConfig_RejectsBadStoreDriver(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Driver = "postgres-but-unsupported"

	if err := validateConfig(cfg); err == nil {
		t.Error("expected error for unsupported store driver")
	}
}

func TestValidateConfig_RejectsMissingTriggerLabel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Webhook.TriggerLabel = ""

	if err := validateConfig(cfg); err == nil {
		t.Error("expected error for missing webhook trigger label")
	}
}

func TestValidateConfig_AccumulatesErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	cfg.Store.Driver = "bogus"
	cfg.Logging.Level = "bogus"

	err := validateConfig(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"port", "store driver", "logging level"} {
		if !contains(msg, want) {
			t.Errorf("expected error message to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateHook_ShellRequiresCommand(t *testing.T) {
	h := HookConfig{Name: "notify", Type: "shell"}
	if err := validateHook(h); err == nil {
		t.Error("expected error for shell hook without command")
	}
}

func TestValidateModelConfig_RequiresCorePositions(t *testing.T) {
	cfg := &ModelConfig{Models: map[string]string{}}
	if err := validateModelConfig(cfg); err == nil {
		t.Error("expected error for empty model table")
	}
}

func TestValidateModelConfig_PassesWithDefaults(t *testing.T) {
	cfg := defaultModelConfig()
	if err := validateModelConfig(cfg); err != nil {
		t.Errorf("expected default model config to validate, got: %s", err)
	}
}

// TestValidateModelConfig_TiersMatchStoreComplexityCasing guards against
// the validator checking lowercase tier keys while store.Complexity (and
// the Router's lookup) use uppercase — a lowercase-only coder default
// must not satisfy the validator even though escalation_1 is absent.
func TestValidateModelConfig_TiersMatchStoreComplexityCasing(t *testing.T) {
	cfg := &ModelConfig{Models: map[string]string{
		"planner":          "claude-opus-4",
		"fixer":            "claude-sonnet-4",
		"reviewer":         "claude-sonnet-4",
		"coder_xs_default": "claude-haiku-4", // wrong case, must not satisfy the XS tier
		// escalation_1 deliberately absent: the XS tier has no fallback
		// left once its lowercase default is correctly ignored.
	}}
	err := validateModelConfig(cfg)
	if err == nil {
		t.Fatal("expected validation failure: lowercase coder_xs_default should not satisfy the XS tier")
	}
	if !contains(err.Error(), "coder_XS") {
		t.Errorf("expected error to name the XS tier, got: %s", err)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
