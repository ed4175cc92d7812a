package breakdown

import (
	"testing"

	"github.com/autoforge/autoforge/internal/agents"
	"github.com/autoforge/autoforge/internal/store"
)

func TestRun_PairsTestSiblingsIntoOneSubtask(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/widget.ts", "src/widget.test.ts"},
			PlanSteps:   []string{"modify src/widget.ts to add a size prop"},
		},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Subtasks) != 1 {
		t.Fatalf("expected one subtask pairing the test sibling, got %d: %+v", len(out.Subtasks), out.Subtasks)
	}
	if len(out.Subtasks[0].TargetFiles) != 2 {
		t.Errorf("expected both files in one subtask, got %v", out.Subtasks[0].TargetFiles)
	}
}

func TestRun_MergesSameDirectoryFilesWithinLineBudget(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/api/foo.ts", "src/api/bar.ts"},
			PlanSteps:   []string{"modify src/api/foo.ts", "modify src/api/bar.ts"},
		},
		TargetFileLines: map[string]int{"src/api/foo.ts": 10, "src/api/bar.ts": 10},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Subtasks) != 1 {
		t.Fatalf("expected files in the same directory to merge into one subtask, got %d", len(out.Subtasks))
	}
	if out.Subtasks[0].EstimatedComplexity != store.ComplexityXS {
		t.Errorf("expected XS complexity for 20 lines, got %s", out.Subtasks[0].EstimatedComplexity)
	}
}

func TestRun_DoesNotMergeAcrossLineBudget(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/api/foo.ts", "src/api/bar.ts"},
			PlanSteps:   []string{"modify src/api/foo.ts", "modify src/api/bar.ts"},
		},
		TargetFileLines: map[string]int{"src/api/foo.ts": 60, "src/api/bar.ts": 60},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Subtasks) != 2 {
		t.Fatalf("expected two separate subtasks once merged lines exceed the budget, got %d", len(out.Subtasks))
	}
}

func TestRun_FailsWhenAGroupExceedsSBudget(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/big.ts", "src/big.test.ts"},
			PlanSteps:   []string{"modify src/big.ts"},
		},
		TargetFileLines: map[string]int{"src/big.ts": 90, "src/big.test.ts": 90},
	}

	if _, err := Run(in); err == nil {
		t.Fatal("expected breakdown to fail when a group exceeds the S budget")
	}
}

func TestRun_DerivesDependencyFromCreatedTypesFile(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/types.ts", "src/api/api.ts"},
			PlanSteps: []string{
				"create src/types.ts with the shared Widget type",
				"modify src/api/api.ts to import Widget from types",
			},
		},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Subtasks) != 2 {
		t.Fatalf("expected two subtasks, got %d: %+v", len(out.Subtasks), out.Subtasks)
	}

	var creator, modifier *store.SubtaskDefinition
	for i := range out.Subtasks {
		st := &out.Subtasks[i]
		if st.TargetFiles[0] == "src/types.ts" {
			creator = st
		} else {
			modifier = st
		}
	}
	if creator == nil || modifier == nil {
		t.Fatalf("expected one creator and one modifier subtask, got %+v", out.Subtasks)
	}
	if len(modifier.Dependencies) != 1 || modifier.Dependencies[0] != creator.ID {
		t.Errorf("expected modifier to depend on creator %s, got %v", creator.ID, modifier.Dependencies)
	}
}

func TestRun_AcceptanceCriteriaFallsBackWhenNoTextualMatch(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/widget.ts"},
			PlanSteps:   []string{"modify src/widget.ts"},
		},
		AcceptanceCriteria: []string{"the checkout flow completes"},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.Subtasks[0].AcceptanceCriteria
	if len(got) != 2 || got[0] != "compiles" || got[1] != "properly typed" {
		t.Errorf("expected generic fallback criteria, got %v", got)
	}
}

func TestRun_AcceptanceCriteriaMatchesByFilename(t *testing.T) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			TargetFiles: []string{"src/widget.ts"},
			PlanSteps:   []string{"modify src/widget.ts"},
		},
		AcceptanceCriteria: []string{"src/widget.ts renders without error", "the checkout flow completes"},
	}

	out, err := Run(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.Subtasks[0].AcceptanceCriteria
	if len(got) != 1 || got[0] != "src/widget.ts renders without error" {
		t.Errorf("expected only the filename-matching criterion, got %v", got)
	}
}

func TestRun_RejectsEmptyTargetFiles(t *testing.T) {
	if _, err := Run(agents.BreakdownInput{}); err == nil {
		t.Fatal("expected error for empty target files")
	}
}
