package orchestrator

import (
	"context"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/errs"
)

func noopTask(key string, deps ...string) *Task {
	return &Task{
		Key:       key,
		DependsOn: deps,
		Run:       func(ctx context.Context) error { return nil },
	}
}

func TestNewPlanRejectsCycle(t *testing.T) {
	a := noopTask("a", "b")
	b := noopTask("b", "a")
	_, err := NewPlan([]*Task{a, b})
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for cycle, got %v", err)
	}
}

func TestNewPlanRejectsDanglingDependency(t *testing.T) {
	a := noopTask("a", "ghost")
	_, err := NewPlan([]*Task{a})
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for dangling dependency, got %v", err)
	}
}

func TestNewPlanRejectsDuplicateKey(t *testing.T) {
	a1 := noopTask("a")
	a2 := noopTask("a")
	_, err := NewPlan([]*Task{a1, a2})
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for duplicate key, got %v", err)
	}
}

func TestNewPlanAcceptsDiamond(t *testing.T) {
	a := noopTask("a")
	b := noopTask("b", "a")
	c := noopTask("c", "a")
	d := noopTask("d", "b", "c")
	plan, err := NewPlan([]*Task{a, b, c, d})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if len(plan.Tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(plan.Tasks))
	}
}
