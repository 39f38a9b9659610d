// Package orchestrator implements the Lab Orchestrator from spec §4.3: it
// turns a LabSpec into a dependency-ordered task graph (EnsureNetwork ->
// CreateVM -> WaitForReady -> PostConfig -> ValidateLab) and executes it
// with bounded concurrency, per-task retry, and failure-isolation so one
// VM's failure degrades a lab instead of aborting it outright.
//
// Grounded on the teacher's automation.Scheduler: a ticker-free variant of
// the same "supervised goroutine set reporting through a WaitGroup, torn
// down by context cancellation" shape, generalized from a fixed polling
// interval to a one-shot DAG run.
package orchestrator

import (
	"context"
	"time"
)

// TaskKind names the five task shapes spec §4.3 enumerates.
type TaskKind string

const (
	TaskEnsureNetwork TaskKind = "ensure_network"
	TaskCreateVM      TaskKind = "create_vm"
	TaskWaitForReady  TaskKind = "wait_for_ready"
	TaskPostConfig    TaskKind = "post_config"
	TaskValidateLab   TaskKind = "validate_lab"
)

// Task is one node in a Plan's DAG. Key must be unique within a Plan and is
// used both as the map index and as the lexicographic tie-break key when
// two ready tasks have equal Priority.
type Task struct {
	Key       string
	Kind      TaskKind
	DependsOn []string
	// Priority orders otherwise-unconstrained ready tasks; higher runs
	// first. Ties break on Key, ascending (spec §5 "deterministic
	// scheduling order").
	Priority int
	Timeout  time.Duration
	Retry    bool
	Run      func(ctx context.Context) error
}

// Result records one task's outcome after a Plan has executed.
type Result struct {
	Key      string
	Skipped  bool // true when an ancestor failed (failure-isolation, spec §4.3)
	Err      error
	Started  time.Time
	Finished time.Time
}
