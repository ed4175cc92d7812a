package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autoforge/autoforge/internal/depgraph"
	"github.com/autoforge/autoforge/internal/store"
)

func buildGraph(defs ...store.SubtaskDefinition) *depgraph.Graph {
	return depgraph.Build(defs)
}

func def(id string, deps ...string) store.SubtaskDefinition {
	return store.SubtaskDefinition{ID: id, Dependencies: deps}
}

func TestRun_RespectsDependencyOrder(t *testing.T) {
	g := buildGraph(def("s1"), def("s2", "s1"))

	var mu sync.Mutex
	var order []string
	exec := func(ctx context.Context, id string) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return nil
	}

	s := New(g, 3, FailFast, nil)
	errs, err := s.Run(context.Background(), "task-1", exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no failures, got %v", errs)
	}
	if len(order) != 2 || order[0] != "s1" || order[1] != "s2" {
		t.Errorf("expected s1 before s2, got %v", order)
	}
}

func TestRun_BoundsConcurrencyToMaxParallel(t *testing.T) {
	g := buildGraph(def("s1"), def("s2"), def("s3"), def("s4"))

	var mu sync.Mutex
	var concurrent, maxSeen int
	exec := func(ctx context.Context, id string) error {
		mu.Lock()
		concurrent++
		if concurrent > maxSeen {
			maxSeen = concurrent
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}

	s := New(g, 2, FailFast, nil)
	if _, err := s.Run(context.Background(), "task-1", exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent executions, saw %d", maxSeen)
	}
}

func TestRun_FailFastStopsSchedulingNewWork(t *testing.T) {
	g := buildGraph(def("s1"), def("s2"), def("s3", "s1", "s2"))

	exec := func(ctx context.Context, id string) error {
		if id == "s1" {
			return errors.New("boom")
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	s := New(g, 2, FailFast, nil)
	errs, err := s.Run(context.Background(), "task-1", exec)
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := errs["s1"]; !ok {
		t.Errorf("expected s1's failure recorded, got %v", errs)
	}
	if _, ok := errs["s3"]; ok {
		t.Errorf("s3 should never have run since it depends on the failed s1")
	}
}

func TestRun_ExecutorPanicSurfacesAsSubtaskError(t *testing.T) {
	g := buildGraph(def("s1"), def("s2"))

	exec := func(ctx context.Context, id string) error {
		if id == "s1" {
			panic("executor blew up")
		}
		return nil
	}

	s := New(g, 2, ContinueAll, nil)
	done := make(chan struct{})
	var errs map[string]error
	go func() {
		errs, _ = s.Run(context.Background(), "task-1", exec)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run deadlocked instead of surfacing the panic as a subtask error")
	}

	if _, ok := errs["s1"]; !ok {
		t.Errorf("expected s1's panic recorded as an error, got %v", errs)
	}
	if _, ok := errs["s2"]; ok {
		t.Errorf("s2 should have succeeded independently, got %v", errs)
	}
}

func TestRun_ContinueAllRunsIndependentBranches(t *testing.T) {
	g := buildGraph(def("s1"), def("s2"))

	exec := func(ctx context.Context, id string) error {
		if id == "s1" {
			return errors.New("boom")
		}
		return nil
	}

	s := New(g, 2, ContinueAll, nil)
	errs, _ := s.Run(context.Background(), "task-1", exec)
	if _, ok := errs["s1"]; !ok {
		t.Errorf("expected s1 failure recorded, got %v", errs)
	}
	if _, ok := errs["s2"]; ok {
		t.Errorf("s2 should have succeeded independently, got %v", errs)
	}
}
