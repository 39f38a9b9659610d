package overseer

import (
	"context"
	"fmt"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// tickMonitor is the Monitor loop (spec §4.5 loop 1, 30s default): scan the
// Registry for VMs whose observed state diverges from "healthy" — here,
// RUNNING with no primary IP for longer than policy.StaleIPThreshold, the
// guest-agent-stall signal spec §8 scenario 5 names. For each, the
// knowledge index is consulted for remediation context; if a confident
// match exists and auto-remediation is permitted, a RequestReconcile is
// submitted through the normal gating path (it is, deliberately, just
// another Request — the Monitor loop does not bypass gating to act).
// Otherwise the issue is logged as an alert for an operator to act on.
func (o *Overseer) tickMonitor(ctx context.Context) {
	now := timeNow()

	missingIP := o.reg.ListVMs(func(v domain.VMRecord) bool {
		return v.Status == domain.VMRunning && v.PrimaryIP == "" && v.DeletedAt.IsZero()
	})
	for _, vm := range missingIP {
		if now.Sub(vm.UpdatedAt) < o.policy.StaleIPThreshold {
			continue
		}
		o.handleStaleVM(ctx, vm)
	}

	stalledTools := o.reg.ListVMs(func(v domain.VMRecord) bool {
		return v.Status == domain.VMRunning && v.PrimaryIP != "" &&
			v.GuestToolsState != domain.GuestToolsReporting && v.DeletedAt.IsZero()
	})
	for _, vm := range stalledTools {
		if now.Sub(vm.UpdatedAt) < o.policy.StaleIPThreshold {
			continue
		}
		o.handleStalledGuestTools(ctx, vm)
	}
}

func (o *Overseer) handleStaleVM(ctx context.Context, vm domain.VMRecord) {
	fingerprint := fmt.Sprintf("vm_missing_ip platform=%s", vm.PlatformID)
	var remediation string
	confident := false
	if o.knowledge != nil {
		remediation, confident = o.knowledge.Query(fingerprint)
	}

	if !confident || !o.policy.AutoRemediate {
		o.log.WithField("vm", vm.VMID).
			WithField("remediation", remediation).
			Warn("monitor: vm running with no primary ip past freshness horizon")
		return
	}

	req := domain.Request{
		Kind:          domain.RequestReconcile,
		TargetRef:     vm.VMID,
		Requester:     "overseer-monitor",
		RequesterRole: domain.RoleAdmin,
		Parameters:    map[string]string{"remediation": remediation},
	}
	if _, err := o.Submit(ctx, req); err != nil {
		o.log.WithField("vm", vm.VMID).WithError(err).Warn("monitor: failed to submit auto-remediation request")
	}
}

// handleStalledGuestTools is the other half of spec §8 scenario 5: a VM
// that is reachable (it has a primary IP) but whose guest-integration
// agent has stopped reporting runs the install-agent post-config step
// directly — no platform create/delete call is needed, so this bypasses
// the Request queue and calls the post-config executor in place, the same
// way lab.Facade's PostConfig task runner does.
func (o *Overseer) handleStalledGuestTools(ctx context.Context, vm domain.VMRecord) {
	if o.postconfig == nil {
		return
	}
	fingerprint := fmt.Sprintf("guest_tools_stalled platform=%s", vm.PlatformID)
	remediation, confident := "", false
	if o.knowledge != nil {
		remediation, confident = o.knowledge.Query(fingerprint)
	}
	if !confident || !o.policy.AutoRemediate {
		o.log.WithField("vm", vm.VMID).
			WithField("remediation", remediation).
			Warn("monitor: guest agent not reporting past freshness horizon")
		return
	}

	step := domain.PostConfigStep{
		PlaybookRef: "ops/install_guest_agent.yml",
		Vars:        map[string]string{"platform": string(vm.PlatformID)},
		Group:       "remediation",
	}
	if err := o.postconfig.Run(ctx, vm.VMID, vm.PrimaryIP, []domain.PostConfigStep{step}); err != nil {
		o.log.WithField("vm", vm.VMID).WithError(err).Warn("monitor: guest-agent install remediation failed")
		return
	}
	vm.GuestToolsState = domain.GuestToolsReporting
	if _, err := o.reg.UpsertVM(ctx, vm, domain.SourcePoll); err != nil {
		o.log.WithField("vm", vm.VMID).WithError(err).Warn("monitor: failed to record guest-tools recovery")
	}
}
