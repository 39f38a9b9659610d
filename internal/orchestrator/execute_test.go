package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func recordingTask(key string, calls *int32, fail bool, deps ...string) *Task {
	return &Task{
		Key:       key,
		DependsOn: deps,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(calls, 1)
			if fail {
				return fmt.Errorf("task %s failed", key)
			}
			return nil
		},
	}
}

func TestExecuteRunsDiamondToCompletion(t *testing.T) {
	var calls int32
	a := recordingTask("a", &calls, false)
	b := recordingTask("b", &calls, false, "a")
	c := recordingTask("c", &calls, false, "a")
	d := recordingTask("d", &calls, false, "b", "c")
	plan, err := NewPlan([]*Task{a, b, c, d})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	exec := NewExecutor(2)
	results, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 task invocations, got %d", calls)
	}
	for _, r := range results {
		if r.Skipped || r.Err != nil {
			t.Fatalf("task %s: expected success, got skipped=%v err=%v", r.Key, r.Skipped, r.Err)
		}
	}
}

func TestExecuteIsolatesSiblingFailure(t *testing.T) {
	var calls int32
	root := recordingTask("root", &calls, false)
	failing := recordingTask("vm-a", &calls, true, "root")
	failingChild := recordingTask("vm-a-ready", &calls, false, "vm-a")
	sibling := recordingTask("vm-b", &calls, false, "root")
	siblingChild := recordingTask("vm-b-ready", &calls, false, "vm-b")

	plan, err := NewPlan([]*Task{root, failing, failingChild, sibling, siblingChild})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	exec := NewExecutor(4)
	results, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	byKey := make(map[string]Result, len(results))
	for _, r := range results {
		byKey[r.Key] = r
	}

	if byKey["vm-a"].Err == nil {
		t.Fatal("expected vm-a to fail")
	}
	if !byKey["vm-a-ready"].Skipped {
		t.Fatal("expected vm-a-ready to be skipped after vm-a failed")
	}
	if byKey["vm-b-ready"].Skipped || byKey["vm-b-ready"].Err != nil {
		t.Fatalf("expected sibling subtree vm-b-ready to complete, got %+v", byKey["vm-b-ready"])
	}
}

func TestExecuteStopsDispatchOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started sync.WaitGroup
	started.Add(1)

	blocking := &Task{
		Key: "blocking",
		Run: func(ctx context.Context) error {
			started.Done()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	dependent := noopTask("dependent", "blocking")

	plan, err := NewPlan([]*Task{blocking, dependent})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	exec := NewExecutor(1)
	done := make(chan []Result, 1)
	go func() {
		results, _ := exec.Execute(ctx, plan)
		done <- results
	}()

	started.Wait()
	cancel()

	select {
	case results := <-done:
		for _, r := range results {
			if r.Key == "blocking" && r.Err == nil {
				t.Fatal("expected blocking task to report cancellation error")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}
