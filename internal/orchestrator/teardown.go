package orchestrator

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// TeardownRunners supplies the task bodies for destroy_lab (spec §4.3: a
// lab tears down in the reverse of its deployment order — VMs before their
// networks — so a network delete never races an in-flight VM delete).
type TeardownRunners struct {
	DeleteVM      func(ctx context.Context, vmID string) error
	DeleteNetwork func(ctx context.Context, networkID string) error

	DeleteVMTimeout      time.Duration
	DeleteNetworkTimeout time.Duration
}

// BuildTeardownPlan derives a destroy_lab Plan from a LabRecord: every
// DeleteVM task runs independently (failure-isolated from its siblings),
// and every DeleteNetwork task depends on every DeleteVM task so no network
// is removed while a VM might still be attached to it.
func BuildTeardownPlan(lab domain.LabRecord, runners TeardownRunners) (*Plan, error) {
	var tasks []*Task
	var vmKeys []string

	for _, vmID := range lab.VMIDs {
		vmID := vmID
		key := "delete_vm:" + vmID
		vmKeys = append(vmKeys, key)
		tasks = append(tasks, &Task{
			Key:     key,
			Kind:    TaskCreateVM, // reuses the lifecycle-mutation kind; teardown has no dedicated kind in spec §4.3
			Retry:   true,
			Timeout: runners.DeleteVMTimeout,
			Run:     func(ctx context.Context) error { return runners.DeleteVM(ctx, vmID) },
		})
	}

	for _, networkID := range lab.NetworkIDs {
		networkID := networkID
		tasks = append(tasks, &Task{
			Key:       "delete_network:" + networkID,
			Kind:      TaskEnsureNetwork,
			DependsOn: vmKeys,
			Retry:     true,
			Timeout:   runners.DeleteNetworkTimeout,
			Run:       func(ctx context.Context) error { return runners.DeleteNetwork(ctx, networkID) },
		})
	}

	return NewPlan(tasks)
}
