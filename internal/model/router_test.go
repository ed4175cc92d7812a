package model

import (
	"context"
	"testing"

	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/store"
)

// TestRouter_ModelFor_DefaultConfigResolvesEveryComplexityTier guards
// against the position table and the router disagreeing on complexity
// tier casing: it builds the Router from config.LoadModelConfig's shipped
// defaults (not a hand-built fixture) so a default key that silently
// never matches store.Complexity's uppercase values shows up here instead
// of only at runtime.
func TestRouter_ModelFor_DefaultConfigResolvesEveryComplexityTier(t *testing.T) {
	cfg, err := config.LoadModelConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadModelConfig: %v", err)
	}
	r := New(cfg, store.NewMemoryStore())

	cases := []struct {
		complexity store.Complexity
		want       string
	}{
		{store.ComplexityXS, cfg.Models["coder_XS_default"]},
		{store.ComplexityS, cfg.Models["coder_S_default"]},
		{store.ComplexityM, cfg.Models["coder_M_default"]},
	}
	for _, c := range cases {
		got, err := r.ModelFor("coder", c.complexity, store.EffortMedium)
		if err != nil {
			t.Fatalf("ModelFor(%s): %v", c.complexity, err)
		}
		if got != c.want {
			t.Errorf("complexity %s: expected its own default %q, got %q (fell through to escalation?)", c.complexity, c.want, got)
		}
	}
}

func newTestRouter(models map[string]string) *Router {
	return New(&config.ModelConfig{Models: models}, store.NewMemoryStore())
}

func TestRouter_ModelFor_FixedPositions(t *testing.T) {
	r := newTestRouter(map[string]string{
		StagePlanner: "claude-opus-4",
		StageFixer:   "claude-sonnet-4",
	})

	got, err := r.ModelFor(StagePlanner, "", "")
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	if got != "claude-opus-4" {
		t.Errorf("expected claude-opus-4, got %s", got)
	}
}

func TestRouter_ModelFor_UnknownPosition(t *testing.T) {
	r := newTestRouter(map[string]string{})
	if _, err := r.ModelFor("nonexistent", "", ""); err == nil {
		t.Fatal("expected error for unknown position")
	}
}

func TestRouter_ModelFor_CoderExactMatch(t *testing.T) {
	r := newTestRouter(map[string]string{
		"coder_S_high":     "claude-opus-4",
		"coder_S_default":  "claude-sonnet-4",
		StageEscalation1:   "claude-opus-4-1m",
	})

	got, err := r.ModelFor("coder", store.ComplexityS, store.EffortHigh)
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	if got != "claude-opus-4" {
		t.Errorf("expected exact-match model, got %s", got)
	}
}

func TestRouter_ModelFor_CoderFallsBackToDefault(t *testing.T) {
	r := newTestRouter(map[string]string{
		"coder_S_default":  "claude-sonnet-4",
		StageEscalation1:   "claude-opus-4-1m",
	})

	got, err := r.ModelFor("coder", store.ComplexityS, store.EffortHigh)
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	if got != "claude-sonnet-4" {
		t.Errorf("expected default fallback, got %s", got)
	}
}

func TestRouter_ModelFor_CoderFallsBackToEscalation(t *testing.T) {
	r := newTestRouter(map[string]string{
		StageEscalation1: "claude-opus-4-1m",
	})

	got, err := r.ModelFor("coder", store.ComplexityXL, store.EffortLow)
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	if got != "claude-opus-4-1m" {
		t.Errorf("expected escalation_1 fallback, got %s", got)
	}
}

func TestRouter_ModelFor_CoderNoFallbackAvailable(t *testing.T) {
	r := newTestRouter(map[string]string{})
	if _, err := r.ModelFor("coder", store.ComplexityM, store.EffortMedium); err == nil {
		t.Fatal("expected error when no fallback resolves")
	}
}

func TestRouter_EscalationModel(t *testing.T) {
	r := newTestRouter(map[string]string{
		StageEscalation1: "claude-opus-4-1m",
		StageEscalation2: "claude-opus-4-1m-max",
	})

	m1, err := r.EscalationModel(1)
	if err != nil {
		t.Fatalf("EscalationModel(1): %v", err)
	}
	if m1 != "claude-opus-4-1m" {
		t.Errorf("expected escalation_1 model, got %s", m1)
	}

	m2, err := r.EscalationModel(2)
	if err != nil {
		t.Fatalf("EscalationModel(2): %v", err)
	}
	if m2 != "claude-opus-4-1m-max" {
		t.Errorf("expected escalation_2 model, got %s", m2)
	}
}

func TestRouter_SetModel_RecordsAudit(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(map[string]string{StagePlanner: "claude-opus-3"})

	if err := r.SetModel(ctx, StagePlanner, "claude-opus-4", "operator"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	got, err := r.ModelFor(StagePlanner, "", "")
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	if got != "claude-opus-4" {
		t.Errorf("expected updated model, got %s", got)
	}

	audit, err := r.AuditLog(ctx, StagePlanner)
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit))
	}
	if audit[0].OldModel != "claude-opus-3" || audit[0].NewModel != "claude-opus-4" {
		t.Errorf("unexpected audit entry: %+v", audit[0])
	}
}
