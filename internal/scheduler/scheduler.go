// Package scheduler drives a depgraph.Graph's subtasks through a
// bounded worker pool (§4.7 getNextExecutableSubtasks), feeding newly
// executable subtasks in continuously as earlier ones complete rather
// than waiting for an entire parallel stage to finish.
package scheduler

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/autoforge/autoforge/internal/depgraph"
	"github.com/autoforge/autoforge/internal/event"
)

// ErrorStrategy controls what the scheduler does when one subtask's
// executor returns an error, mirroring the three strategies the
// teacher's worker pool supports.
type ErrorStrategy string

const (
	// FailFast cancels all running subtasks and returns immediately.
	FailFast ErrorStrategy = "fail-fast"
	// CompleteRunning stops scheduling new subtasks but lets in-flight
	// ones finish before returning.
	CompleteRunning ErrorStrategy = "complete-running"
	// ContinueAll keeps scheduling every subtask whose dependencies are
	// satisfied, regardless of sibling failures.
	ContinueAll ErrorStrategy = "continue-all"
)

// Executor runs one subtask to completion — the Coder → Test → Fixer
// loop → Reviewer sequence is orchestrated elsewhere; the scheduler
// only cares about the subtask's eventual success or failure.
type Executor func(ctx context.Context, subtaskID string) error

// Scheduler bounds concurrency across a dependency graph's subtasks.
type Scheduler struct {
	Graph         *depgraph.Graph
	MaxParallel   int
	ErrorStrategy ErrorStrategy
	Bus           *event.Bus
}

// New builds a Scheduler. maxParallel defaults to 3 (§4.7) and strategy
// to FailFast when unset.
func New(graph *depgraph.Graph, maxParallel int, strategy ErrorStrategy, bus *event.Bus) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 3
	}
	if strategy == "" {
		strategy = FailFast
	}
	return &Scheduler{Graph: graph, MaxParallel: maxParallel, ErrorStrategy: strategy, Bus: bus}
}

type result struct {
	id  string
	err error
}

// Run drives every subtask in s.Graph to completion via exec, honoring
// the configured error strategy. It returns a map of subtask id to the
// error exec produced for it (only for subtasks that failed) and, under
// FailFast/CompleteRunning, the first error observed (nil under
// ContinueAll — callers inspect the per-subtask map instead).
func (s *Scheduler) Run(ctx context.Context, taskID string, exec Executor) (map[string]error, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithMaxGoroutines(s.MaxParallel).WithContext(ctx)

	completed := make(map[string]bool)
	inProgress := make(map[string]bool)
	errs := make(map[string]error)
	results := make(chan result, s.MaxParallel)
	active := 0

	submit := func(id string) {
		inProgress[id] = true
		active++
		s.emit(taskID, id, event.KindSubtaskDispatched)
		p.Go(func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("subtask %s executor panicked: %v", id, r)
					results <- result{id: id, err: err}
				}
			}()
			err = exec(ctx, id)
			results <- result{id: id, err: err}
			return err
		})
	}

	for _, id := range s.Graph.NextExecutable(completed, inProgress, s.MaxParallel) {
		submit(id)
	}

	var firstErr error
	blocked := false
	for active > 0 {
		r := <-results
		active--
		delete(inProgress, r.id)

		if r.err != nil {
			errs[r.id] = r.err
			s.emit(taskID, r.id, event.KindSubtaskFailed)
			if firstErr == nil && s.ErrorStrategy != ContinueAll {
				firstErr = r.err
			}
			switch s.ErrorStrategy {
			case FailFast:
				cancel()
				s.drainRemaining(results, active)
				return errs, firstErr
			case CompleteRunning:
				blocked = true
			}
		} else {
			completed[r.id] = true
			s.emit(taskID, r.id, event.KindSubtaskCompleted)
		}

		if blocked {
			continue
		}
		for _, id := range s.Graph.NextExecutable(completed, inProgress, s.MaxParallel-active) {
			submit(id)
		}
	}

	_ = p.Wait() // per-goroutine errors already captured via results
	return errs, firstErr
}

func (s *Scheduler) drainRemaining(results chan result, active int) {
	for active > 0 {
		<-results
		active--
	}
}

func (s *Scheduler) emit(taskID, subtaskID string, kind event.Kind) {
	if s.Bus == nil {
		return
	}
	s.Bus.Emit(event.New(taskID, kind, "subtask "+subtaskID).
		WithPayload(map[string]interface{}{"subtaskId": subtaskID}))
}
