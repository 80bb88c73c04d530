package service

import (
	"errors"
	"testing"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/capability"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
)

func TestClassifyRequirement(t *testing.T) {
	cases := []struct {
		req  string
		want capability.Tag
	}{
		{"Implement the user login endpoint", capability.CodeGeneration},
		{"Write unit tests for the parser", capability.TestWriting},
		{"Review the authentication changes", capability.CodeReview},
		{"Document the public API", capability.Documentation},
		{"Investigate the memory leak", capability.Analysis},
		{"Add coverage for edge cases", capability.TestWriting},
	}
	for _, tc := range cases {
		got, ok := classifyRequirement(tc.req)
		if !ok {
			t.Errorf("classifyRequirement(%q) matched nothing", tc.req)
			continue
		}
		if got != tc.want {
			t.Errorf("classifyRequirement(%q) = %s, want %s", tc.req, got, tc.want)
		}
	}
}

func TestDecomposeBuildsGraph(t *testing.T) {
	obj := &objective.Objective{
		ID:          "obj-1",
		Description: "Ship the payments feature",
		Requirements: []string{
			"Implement the payment endpoint",
			"Write tests for the payment endpoint",
		},
	}

	tasks, err := decompose(obj)
	if err != nil {
		t.Fatalf("decompose failed: %v", err)
	}

	// analysis + 2 requirements + review
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(tasks))
	}

	analysis := tasks[0]
	if analysis.Capability != capability.Analysis {
		t.Errorf("first task capability = %s, want %s", analysis.Capability, capability.Analysis)
	}
	if analysis.State != task.StateReady {
		t.Errorf("analysis state = %s, want %s", analysis.State, task.StateReady)
	}

	for _, mid := range tasks[1:3] {
		if mid.State != task.StatePending {
			t.Errorf("requirement task state = %s, want %s", mid.State, task.StatePending)
		}
		if len(mid.DependsOn) != 1 || mid.DependsOn[0] != analysis.ID {
			t.Errorf("requirement task should depend on analysis, got %v", mid.DependsOn)
		}
	}

	review := tasks[3]
	if review.Capability != capability.CodeReview {
		t.Errorf("review capability = %s, want %s", review.Capability, capability.CodeReview)
	}
	if len(review.DependsOn) != 2 {
		t.Errorf("review should depend on both requirement tasks, got %v", review.DependsOn)
	}
}

func TestDecomposeRejectsUnmappableRequirement(t *testing.T) {
	obj := &objective.Objective{
		ID:           "obj-1",
		Description:  "Vague goal",
		Requirements: []string{"???"},
	}

	if _, err := decompose(obj); !errors.Is(err, domain.ErrDecomposition) {
		t.Fatalf("expected ErrDecomposition, got %v", err)
	}
}

func TestDecomposeRejectsEmptyRequirements(t *testing.T) {
	obj := &objective.Objective{ID: "obj-1", Description: "Nothing to do"}

	if _, err := decompose(obj); !errors.Is(err, domain.ErrDecomposition) {
		t.Fatalf("expected ErrDecomposition, got %v", err)
	}
}

func TestValidateAcyclicDetectsCycle(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if err := validateAcyclic(tasks); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestValidateAcyclicRejectsUnknownDependency(t *testing.T) {
	tasks := []task.Task{
		{ID: "a", DependsOn: []string{"ghost"}},
	}
	if err := validateAcyclic(tasks); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}
