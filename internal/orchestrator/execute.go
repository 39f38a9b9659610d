package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// Executor runs a Plan with bounded concurrency (spec §5 "Shared-resource
// policy": the orchestrator never launches unbounded goroutines against a
// platform adapter).
type Executor struct {
	// Concurrency caps the number of tasks running at once. Zero means 4,
	// matching the teacher's default worker-pool sizing.
	Concurrency int
	Backoff     errs.BackoffPolicy
}

// NewExecutor builds an Executor with the given concurrency bound.
func NewExecutor(concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Executor{Concurrency: concurrency, Backoff: errs.DefaultBackoffPolicy}
}

type doneEvent struct {
	key string
	res Result
}

// Execute runs every task in plan, respecting DependsOn edges, and returns
// one Result per task in plan.Tasks. A task whose ancestor failed is
// recorded as Skipped rather than run (spec §4.3 failure isolation: "one
// VM's CreateVM failure must not abort sibling VMs in the same lab"). ctx
// cancellation stops dispatch of new tasks and is propagated to every
// in-flight task's derived context.
func (e *Executor) Execute(ctx context.Context, plan *Plan) ([]Result, error) {
	dependents := make(map[string][]string, len(plan.Tasks))
	remaining := make(map[string]int, len(plan.Tasks))
	for key, t := range plan.Tasks {
		remaining[key] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], key)
		}
	}

	var mu sync.Mutex
	results := make(map[string]Result, len(plan.Tasks))
	resolved := make(map[string]bool, len(plan.Tasks))
	var ready []string
	for key, n := range remaining {
		if n == 0 {
			ready = append(ready, key)
		}
	}

	sem := semaphore.NewWeighted(int64(e.Concurrency))
	doneCh := make(chan doneEvent, len(plan.Tasks))
	var wg sync.WaitGroup

	popReady := func() (string, bool) {
		if len(ready) == 0 {
			return "", false
		}
		sort.Slice(ready, func(i, j int) bool {
			ti, tj := plan.Tasks[ready[i]], plan.Tasks[ready[j]]
			if ti.Priority != tj.Priority {
				return ti.Priority > tj.Priority
			}
			return ready[i] < ready[j]
		})
		key := ready[0]
		ready = ready[1:]
		return key, true
	}

	// markSkippedSubtree marks every not-yet-resolved descendant of key as
	// skipped, called with mu held.
	var markSkippedSubtree func(key string)
	markSkippedSubtree = func(key string) {
		for _, dep := range dependents[key] {
			if resolved[dep] {
				continue
			}
			resolved[dep] = true
			results[dep] = Result{Key: dep, Skipped: true}
			markSkippedSubtree(dep)
		}
	}

	total := len(plan.Tasks)
	for len(resolved) < total {
		key, ok := popReady()
		if !ok {
			// Nothing dispatchable right now: wait for an in-flight task.
			ev := <-doneCh
			e.settle(ev, dependents, remaining, &mu, resolved, results, &ready, markSkippedSubtree)
			continue
		}

		select {
		case <-ctx.Done():
			mu.Lock()
			resolved[key] = true
			results[key] = Result{Key: key, Skipped: true, Err: ctx.Err()}
			markSkippedSubtree(key)
			mu.Unlock()
			continue
		default:
		}

		task := plan.Tasks[key]
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			resolved[key] = true
			results[key] = Result{Key: key, Skipped: true, Err: err}
			markSkippedSubtree(key)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer sem.Release(1)
			doneCh <- doneEvent{key: t.Key, res: e.runOne(ctx, t)}
		}(task)

		// Drain any completions that arrived while we were dispatching, so
		// newly-ready tasks join the pool without waiting a full cycle.
	drain:
		for {
			select {
			case ev := <-doneCh:
				e.settle(ev, dependents, remaining, &mu, resolved, results, &ready, markSkippedSubtree)
			default:
				break drain
			}
		}
	}

	// Drain any stragglers still running.
	go func() { wg.Wait(); close(doneCh) }()
	for ev := range doneCh {
		e.settle(ev, dependents, remaining, &mu, resolved, results, &ready, markSkippedSubtree)
	}

	out := make([]Result, 0, total)
	for key := range plan.Tasks {
		out = append(out, results[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (e *Executor) settle(
	ev doneEvent,
	dependents map[string][]string,
	remaining map[string]int,
	mu *sync.Mutex,
	resolved map[string]bool,
	results map[string]Result,
	ready *[]string,
	markSkippedSubtree func(string),
) {
	mu.Lock()
	defer mu.Unlock()
	if resolved[ev.key] {
		return
	}
	resolved[ev.key] = true
	results[ev.key] = ev.res

	if ev.res.Err != nil {
		markSkippedSubtree(ev.key)
		return
	}
	for _, dep := range dependents[ev.key] {
		remaining[dep]--
		if remaining[dep] == 0 && !resolved[dep] {
			*ready = append(*ready, dep)
		}
	}
}

// runOne executes a single task's Run under its timeout, retrying with
// errs.Retry when Retry is set and the failure is Transient.
func (e *Executor) runOne(ctx context.Context, t *Task) Result {
	res := Result{Key: t.Key, Started: time.Now()}

	runCtx := ctx
	cancel := func() {}
	if t.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
	}
	defer cancel()

	if t.Retry {
		res.Err = errs.Retry(runCtx, e.Backoff, t.Run)
	} else {
		res.Err = t.Run(runCtx)
	}
	res.Finished = time.Now()

	outcome := "success"
	if res.Err != nil {
		outcome = "failure"
	}
	metrics.TaskRuns.WithLabelValues(string(t.Kind), outcome).Inc()
	metrics.TaskDuration.WithLabelValues(string(t.Kind)).Observe(res.Finished.Sub(res.Started).Seconds())
	return res
}
