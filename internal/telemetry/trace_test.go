package telemetry

import (
	"context"
	"testing"
)

func TestTraceContext_NewAndChild(t *testing.T) {
	root := NewTraceContext("run-123")

	if root.RunID != "run-123" {
		t.Errorf("expected RunID 'run-123', got %q", root.RunID)
	}
	if root.TraceID == "" {
		t.Error("expected non-empty TraceID")
	}
	if root.SpanID == "" {
		t.Error("expected non-empty SpanID")
	}
	if root.ParentID != "" {
		t.Error("expected empty ParentID for root")
	}

	child := root.ChildSpan()
	if child.TraceID != root.TraceID {
		t.Error("child should inherit TraceID")
	}
	if child.ParentID != root.SpanID {
		t.Error("child ParentID should be parent's SpanID")
	}
	if child.SpanID == root.SpanID {
		t.Error("child should have a different SpanID")
	}
}

func TestTraceContext_WithTaskAttemptStage(t *testing.T) {
	tc := NewTraceContext("run-1")
	withTask := tc.WithTaskID("task-42")
	withAttempt := withTask.WithAttempt(2)
	withStage := withAttempt.WithStage("coding")

	if withTask.TaskID != "task-42" {
		t.Errorf("expected task id 'task-42', got %q", withTask.TaskID)
	}
	if withAttempt.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", withAttempt.Attempt)
	}
	if withStage.Stage != "coding" {
		t.Errorf("expected stage 'coding', got %q", withStage.Stage)
	}
	// Original unchanged
	if tc.TaskID != "" {
		t.Error("original should not be modified")
	}
}

func TestTraceContext_ContextPropagation(t *testing.T) {
	tc := NewTraceContext("run-2")
	ctx := ContextWithTrace(context.Background(), tc)

	extracted := TraceFromContext(ctx)
	if extracted == nil {
		t.Fatal("expected trace in context")
	}
	if extracted.RunID != "run-2" {
		t.Errorf("expected RunID 'run-2', got %q", extracted.RunID)
	}

	// nil context returns nil
	if TraceFromContext(context.Background()) != nil {
		t.Error("expected nil trace from empty context")
	}
}

func TestTraceContext_Fields(t *testing.T) {
	tc := NewTraceContext("run-3")
	tc = tc.WithTaskID("task-7").WithStage("review")

	fields := tc.Fields()
	if fields["run_id"] != "run-3" {
		t.Error("expected run_id in fields")
	}
	if fields["task_id"] != "task-7" {
		t.Error("expected task_id in fields")
	}
	if fields["stage"] != "review" {
		t.Error("expected stage in fields")
	}
}

func TestLogger_WithTrace(t *testing.T) {
	logger := NewLogger(true)
	tc := NewTraceContext("run-4")
	ctx := ContextWithTrace(context.Background(), tc)

	traced := logger.WithTrace(ctx)
	if traced == nil {
		t.Fatal("expected non-nil logger")
	}

	// Should not panic with nil trace
	noTrace := logger.WithTrace(context.Background())
	if noTrace == nil {
		t.Fatal("expected non-nil logger even without trace")
	}
}
