// Package model implements the Model Router (§4.3): a position → model
// identifier table with a fallback resolution chain for coding
// positions and an append-only audit log of every change to the table.
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/google/uuid"
)

// Stage names for the non-coding positions.
const (
	StagePlanner     = "planner"
	StageFixer       = "fixer"
	StageReviewer    = "reviewer"
	StageEscalation1 = "escalation_1"
	StageEscalation2 = "escalation_2"
)

// Router resolves a stage (and, for coding, a complexity/effort pair) to
// a concrete model identifier, backed by a mutable position table and an
// audit log.
type Router struct {
	mu     sync.RWMutex
	models map[string]string
	store  store.Store
}

// New builds a Router from a loaded ModelConfig.
func New(cfg *config.ModelConfig, st store.Store) *Router {
	models := make(map[string]string, len(cfg.Models))
	for k, v := range cfg.Models {
		models[k] = v
	}
	return &Router{models: models, store: st}
}

// ModelFor resolves the model for stage. For "coder", complexity and
// effort select the position via the §4.3 fallback chain:
// coder_{complexity}_{effort} -> coder_{complexity}_default -> escalation_1.
func (r *Router) ModelFor(stage string, complexity store.Complexity, effort store.Effort) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if stage != "coder" {
		model, ok := r.models[stage]
		if !ok {
			return "", fmt.Errorf("no model configured for position %q", stage)
		}
		return model, nil
	}

	candidates := []string{
		fmt.Sprintf("coder_%s_%s", complexity, effort),
		fmt.Sprintf("coder_%s_default", complexity),
		StageEscalation1,
	}
	for _, position := range candidates {
		if model, ok := r.models[position]; ok {
			return model, nil
		}
	}
	return "", fmt.Errorf("no model resolved for coder complexity=%s effort=%s after exhausting fallback chain", complexity, effort)
}

// EscalationModel resolves escalation_1 or escalation_2 by level (1 or 2).
func (r *Router) EscalationModel(level int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	position := StageEscalation1
	if level >= 2 {
		position = StageEscalation2
	}
	model, ok := r.models[position]
	if !ok {
		return "", fmt.Errorf("no model configured for position %q", position)
	}
	return model, nil
}

// SetModel changes the model for position and records the change in the
// audit log. changedBy identifies the operator or system making the
// change, for traceability.
func (r *Router) SetModel(ctx context.Context, position, newModel, changedBy string) error {
	r.mu.Lock()
	old := r.models[position]
	r.models[position] = newModel
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	return r.store.AppendModelConfigAudit(ctx, store.ModelConfigAudit{
		ID:        uuid.New().String(),
		Position:  position,
		OldModel:  old,
		NewModel:  newModel,
		ChangedAt: time.Now(),
		ChangedBy: changedBy,
	})
}

// AuditLog returns the audit history for position, or every position if
// position is empty.
func (r *Router) AuditLog(ctx context.Context, position string) ([]store.ModelConfigAudit, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListModelConfigAudit(ctx, position)
}

// Snapshot returns a copy of the current position table.
func (r *Router) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make(map[string]string, len(r.models))
	for k, v := range r.models {
		cp[k] = v
	}
	return cp
}
