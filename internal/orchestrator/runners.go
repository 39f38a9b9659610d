package orchestrator

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// Runners supplies the task bodies BuildLabPlan wires into a Plan. Each
// field is a thin adapter the caller writes over its own
// registry/provisioner/postconfig/orchestrator-validation collaborators,
// keeping this package free of any dependency on platformcap or a specific
// config management tool.
type Runners struct {
	EnsureNetwork func(ctx context.Context, spec domain.NetworkSpec) error
	CreateVM      func(ctx context.Context, spec domain.VMSpec) error
	WaitForReady  func(ctx context.Context, vmName string) error
	PostConfig    func(ctx context.Context, vmName string, steps []domain.PostConfigStep) error
	ValidateLab   func(ctx context.Context, labName string) error

	NetworkTimeout    time.Duration
	CreateVMTimeout   time.Duration
	ReadyTimeout      time.Duration
	PostConfigTimeout time.Duration
	ValidateTimeout   time.Duration
}

// DefaultTimeouts fills any zero-valued timeout field with a workable
// default, used by callers that only care about overriding a subset.
func (r Runners) DefaultTimeouts() Runners {
	if r.NetworkTimeout == 0 {
		r.NetworkTimeout = 30 * time.Second
	}
	if r.CreateVMTimeout == 0 {
		r.CreateVMTimeout = 5 * time.Minute
	}
	if r.ReadyTimeout == 0 {
		r.ReadyTimeout = 5 * time.Minute
	}
	if r.PostConfigTimeout == 0 {
		r.PostConfigTimeout = 10 * time.Minute
	}
	if r.ValidateTimeout == 0 {
		r.ValidateTimeout = 30 * time.Second
	}
	return r
}
