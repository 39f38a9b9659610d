package domain

import "time"

// RequestKind is a closed set of actions the Overseer can gate and execute.
type RequestKind string

const (
	RequestDeployLab       RequestKind = "deploy_lab"
	RequestDestroyLab      RequestKind = "destroy_lab"
	RequestDestroyVM       RequestKind = "destroy_vm"
	RequestReconcile       RequestKind = "reconcile"
	RequestManualOverride  RequestKind = "manual_override"
)

// Destructive reports whether this kind targets resource destruction, which
// is what the production-protection and mass-action-cap gates apply to.
func (k RequestKind) Destructive() bool {
	switch k {
	case RequestDestroyLab, RequestDestroyVM:
		return true
	default:
		return false
	}
}

// ApprovalState is the Request lifecycle. Per spec §3 invariants, a Request
// never transitions backwards from any terminal state.
type ApprovalState string

const (
	ApprovalPending   ApprovalState = "pending"
	ApprovalApproved  ApprovalState = "approved"
	ApprovalDenied    ApprovalState = "denied"
	ApprovalExecuting ApprovalState = "executing"
	ApprovalCompleted ApprovalState = "completed"
	ApprovalFailed    ApprovalState = "failed"
)

// Terminal reports whether this state is an end state per spec §3's
// backwards-transition invariant.
func (s ApprovalState) Terminal() bool {
	switch s {
	case ApprovalDenied, ApprovalCompleted, ApprovalFailed:
		return true
	default:
		return false
	}
}

// Role is the minimum authorization level an action requires (spec §4.5
// gating rule 1).
type Role int

const (
	RoleViewer Role = iota
	RoleOperator
	RoleAdmin
)

// Request is the Overseer's exclusively-owned aggregate: one incoming ask,
// gated then (if approved) executed.
type Request struct {
	RequestID      string
	Kind           RequestKind
	Parameters     map[string]string
	TargetRef      string // lab_id, vm_id, or platform id depending on Kind
	TargetTags     map[string]string
	EstimatedScope int // number of VMs a destructive request would affect
	ForceProduction bool
	Requester      string
	RequesterRole  Role
	CreatedAt      time.Time
	ApprovalState  ApprovalState
	DenialReason   string
	DenialRule     string
}

// CanTransitionTo enforces the no-backwards-from-terminal invariant.
func (r Request) CanTransitionTo(next ApprovalState) bool {
	return !r.ApprovalState.Terminal()
}
