package orchestrator

import (
	"context"
	"sort"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

// Plan is a validated, acyclic set of Tasks keyed by Key.
type Plan struct {
	Tasks map[string]*Task
	// order is a fixed topological ordering used only to make iteration
	// (and therefore test output and logs) deterministic; the executor
	// still respects DependsOn and Priority, not this slice, when deciding
	// what to run next.
	order []string
}

// NewPlan validates tasks for duplicate keys, dangling dependencies and
// cycles, returning a Plan ready for Execute. A cycle or dangling reference
// is a Validation error (spec §8: "a lab spec whose dependency graph has a
// cycle must be rejected before any platform call").
func NewPlan(tasks []*Task) (*Plan, error) {
	byKey := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t.Key == "" {
			return nil, errs.NewValidation("task.key", "task of kind %q has an empty key", t.Kind)
		}
		if _, dup := byKey[t.Key]; dup {
			return nil, errs.NewValidation("task.key", "duplicate task key %q", t.Key)
		}
		byKey[t.Key] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byKey[dep]; !ok {
				return nil, errs.NewValidation("task.depends_on", "task %q depends on unknown task %q", t.Key, dep)
			}
		}
	}

	order, err := topoSort(byKey)
	if err != nil {
		return nil, err
	}

	return &Plan{Tasks: byKey, order: order}, nil
}

// topoSort returns a deterministic (lexicographically-tied) topological
// order, or a Validation error if tasks forms a cycle.
func topoSort(tasks map[string]*Task) ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))
	keys := make([]string, 0, len(tasks))
	for k := range tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var order []string
	var stack []string
	var visit func(key string) error
	visit = func(key string) error {
		switch color[key] {
		case black:
			return nil
		case gray:
			return errs.NewValidation("task.depends_on", "dependency cycle detected: %s", cyclePath(stack, key))
		}
		color[key] = gray
		stack = append(stack, key)

		deps := append([]string(nil), tasks[key].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		color[key] = black
		order = append(order, key)
		return nil
	}

	for _, k := range keys {
		if err := visit(k); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func cyclePath(stack []string, closing string) string {
	out := closing
	for i := len(stack) - 1; i >= 0; i-- {
		out = stack[i] + " -> " + out
		if stack[i] == closing {
			break
		}
	}
	return out
}

// BuildLabPlan derives a Plan from a LabSpec following spec §4.3's edge
// rules: every VM's CreateVM task depends on EnsureNetwork for each network
// named in VMNetworks, WaitForReady depends on CreateVM, PostConfig depends
// on WaitForReady, and a single terminal ValidateLab task depends on every
// PostConfig (or WaitForReady, for VMs with no post-config steps) task.
//
// runners supplies the task bodies so BuildLabPlan stays pure with respect
// to any platform adapter or provisioner; the orchestrator package never
// imports platformcap directly.
func BuildLabPlan(spec domain.LabSpec, runners Runners) (*Plan, error) {
	var tasks []*Task

	networkKey := func(name string) string { return "ensure_network:" + name }
	for _, n := range spec.Networks {
		n := n
		tasks = append(tasks, &Task{
			Key:     networkKey(n.Name),
			Kind:    TaskEnsureNetwork,
			Retry:   true,
			Timeout: runners.NetworkTimeout,
			Run:     func(ctx context.Context) error { return runners.EnsureNetwork(ctx, n) },
		})
	}

	vmCreateKey := func(name string) string { return "create_vm:" + name }
	vmReadyKey := func(name string) string { return "wait_for_ready:" + name }
	vmPostConfigKey := func(name string) string { return "post_config:" + name }

	var validateDeps []string
	for _, vm := range spec.VMs {
		vm := vm
		var netDeps []string
		for _, netName := range spec.VMNetworks[vm.Name] {
			netDeps = append(netDeps, networkKey(netName))
		}

		tasks = append(tasks, &Task{
			Key:       vmCreateKey(vm.Name),
			Kind:      TaskCreateVM,
			DependsOn: netDeps,
			Retry:     true,
			Timeout:   runners.CreateVMTimeout,
			Run:       func(ctx context.Context) error { return runners.CreateVM(ctx, vm) },
		})
		tasks = append(tasks, &Task{
			Key:       vmReadyKey(vm.Name),
			Kind:      TaskWaitForReady,
			DependsOn: []string{vmCreateKey(vm.Name)},
			Timeout:   runners.ReadyTimeout,
			Run:       func(ctx context.Context) error { return runners.WaitForReady(ctx, vm.Name) },
		})

		if len(vm.PostConfig) == 0 {
			validateDeps = append(validateDeps, vmReadyKey(vm.Name))
			continue
		}
		tasks = append(tasks, &Task{
			Key:       vmPostConfigKey(vm.Name),
			Kind:      TaskPostConfig,
			DependsOn: []string{vmReadyKey(vm.Name)},
			Retry:     true,
			Timeout:   runners.PostConfigTimeout,
			Run:       func(ctx context.Context) error { return runners.PostConfig(ctx, vm.Name, vm.PostConfig) },
		})
		validateDeps = append(validateDeps, vmPostConfigKey(vm.Name))
	}

	tasks = append(tasks, &Task{
		Key:       "validate_lab",
		Kind:      TaskValidateLab,
		DependsOn: validateDeps,
		Timeout:   runners.ValidateTimeout,
		Run:       func(ctx context.Context) error { return runners.ValidateLab(ctx, spec.Name) },
	})

	return NewPlan(tasks)
}
