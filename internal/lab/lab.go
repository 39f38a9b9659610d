// Package lab is the composition facade binding the Lab Orchestrator
// (internal/orchestrator), the OS Provisioner (internal/osprovisioner), the
// post-config executor (internal/postconfig), the IP pool manager
// (internal/ippool) and the Lab Registry (internal/registry) into the two
// public operations spec §4.3 names at the top of the stack: deploy_lab and
// destroy_lab. Nothing downstream of this package imports platformcap
// directly except what it's handed; this is the one place that turns a
// configured platform's Capability into task bodies for a Plan.
//
// Grounded on the teacher's internal/app/runtime/application.go composition
// root: one struct wiring named collaborators together behind two or three
// top-level methods, rather than a generic "workflow engine".
package lab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/ippool"
	"github.com/ntounix-prog/glassdome/internal/orchestrator"
	"github.com/ntounix-prog/glassdome/internal/osprovisioner"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/internal/postconfig"
	"github.com/ntounix-prog/glassdome/internal/registry"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Facade wires one Registry against a set of configured platforms.
type Facade struct {
	reg        *registry.Registry
	platforms  map[domain.PlatformID]platformcap.Capability
	pools      *ippool.Manager
	postconfig *postconfig.Executor
	orch       *orchestrator.Executor
	log        *logger.Logger

	// readyPollInterval bounds how often WaitForReady re-checks the
	// Registry's projection of a VM; the projection itself is kept current
	// by the polling agents (internal/registry/pollingagent), not by this
	// package polling the platform directly.
	readyPollInterval time.Duration
}

// New builds a Facade. vmConcurrency/postConfigConcurrency follow spec §4.3
// ("bounded concurrency C... default 8 across VMs, 4 across PostConfig");
// the Facade uses the larger of the two as the Executor's single bound,
// since orchestrator.Executor applies one concurrency cap across the whole
// Plan rather than per task-kind.
func New(reg *registry.Registry, platforms map[domain.PlatformID]platformcap.Capability, pools *ippool.Manager, pc *postconfig.Executor, vmConcurrency int, log *logger.Logger) *Facade {
	if log == nil {
		log = logger.NewDefault("lab")
	}
	if vmConcurrency <= 0 {
		vmConcurrency = 8
	}
	return &Facade{
		reg:               reg,
		platforms:         platforms,
		pools:             pools,
		postconfig:        pc,
		orch:              orchestrator.NewExecutor(vmConcurrency),
		log:               log,
		readyPollInterval: 2 * time.Second,
	}
}

// deployment is the mutable, per-call scratch state the task Runners close
// over: the name -> registry-ID mapping, since Task bodies address VMs and
// networks by the LabSpec's human name while the Registry and the platform
// adapter address them by platform-assigned ID.
type deployment struct {
	mu       sync.Mutex
	vmIDs    map[string]string // vm name -> vm id
	netIDs   map[string]string // network name -> network id
	warnings []string
}

// DeployLab runs a LabSpec's full task graph against platformID's
// Capability and records the resulting LabRecord (spec §4.3 deploy_lab,
// §3 the lab state machine: planning -> deploying -> ready|degraded|failed).
func (f *Facade) DeployLab(ctx context.Context, spec domain.LabSpec, platformID domain.PlatformID) (domain.LabRecord, error) {
	cap, ok := f.platforms[platformID]
	if !ok {
		return domain.LabRecord{}, errs.NewValidation("platform_id", "no platform configured with id %q", platformID)
	}

	labID := uuid.NewString()
	rec := domain.LabRecord{
		LabID:     labID,
		Spec:      spec,
		Status:    domain.LabPlanning,
		Tags:      spec.Tags,
		StartTime: time.Now().UTC(),
	}
	if _, err := f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator); err != nil {
		return rec, err
	}

	dep := &deployment{vmIDs: make(map[string]string), netIDs: make(map[string]string)}
	provisioner := osprovisioner.New(cap, f.pools)

	runners := orchestrator.Runners{
		EnsureNetwork: f.ensureNetworkRunner(cap, labID, dep),
		CreateVM:      f.createVMRunner(cap, provisioner, labID, dep),
		WaitForReady:  f.waitForReadyRunner(dep),
		PostConfig:    f.postConfigRunner(dep),
		ValidateLab:   f.validateLabRunner(dep),
	}.DefaultTimeouts()

	plan, err := orchestrator.BuildLabPlan(spec, runners)
	if err != nil {
		rec.Status = domain.LabFailed
		rec.DeploymentLog = append(rec.DeploymentLog, "plan build failed: "+err.Error())
		f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator) //nolint:errcheck
		return rec, err
	}

	rec.Status = domain.LabDeploying
	if _, err := f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator); err != nil {
		return rec, err
	}

	results, _ := f.orch.Execute(ctx, plan)

	dep.mu.Lock()
	for _, id := range dep.vmIDs {
		rec.VMIDs = append(rec.VMIDs, id)
	}
	for _, id := range dep.netIDs {
		rec.NetworkIDs = append(rec.NetworkIDs, id)
	}
	dep.mu.Unlock()

	rec.Status, rec.DeploymentLog = summarizeResults(results)
	rec.EndTime = time.Now().UTC()
	if _, err := f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator); err != nil {
		return rec, err
	}
	return rec, nil
}

// summarizeResults derives the lab's terminal status from a Plan's task
// results (spec §3: a lab is READY only if every VM is READY; any VM
// failure without a full-lab abort yields DEGRADED, not FAILED).
func summarizeResults(results []orchestrator.Result) (domain.LabStatus, []string) {
	var log []string
	failed, skipped := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log = append(log, fmt.Sprintf("%s: %v", r.Key, r.Err))
		}
		if r.Skipped {
			skipped++
		}
	}
	switch {
	case failed == 0 && skipped == 0:
		return domain.LabReady, log
	case failed == len(results):
		return domain.LabFailed, log
	default:
		return domain.LabDegraded, log
	}
}

func (f *Facade) ensureNetworkRunner(cap platformcap.Capability, labID string, dep *deployment) func(context.Context, domain.NetworkSpec) error {
	return func(ctx context.Context, spec domain.NetworkSpec) error {
		rec, err := cap.CreateNetwork(ctx, spec)
		if err != nil {
			return err
		}
		rec.OwnerLab = labID
		rec.CreatedAt = time.Now().UTC()
		if _, err := f.reg.UpsertNetwork(ctx, rec, domain.SourceOrchestrator); err != nil {
			return err
		}
		dep.mu.Lock()
		dep.netIDs[spec.Name] = rec.NetworkID
		dep.mu.Unlock()
		return nil
	}
}

func (f *Facade) createVMRunner(cap platformcap.Capability, provisioner *osprovisioner.Provisioner, labID string, dep *deployment) func(context.Context, domain.VMSpec) error {
	return func(ctx context.Context, spec domain.VMSpec) error {
		if len(spec.Networks) == 0 {
			return errs.NewValidation("networks", "vm %q declares no network attachments", spec.Name)
		}

		// A VM may attach multiple networks; provision against the first and
		// attach the rest natively via the adapter's own CreateVM/Clone path,
		// which already receives the full spec.Networks slice.
		dep.mu.Lock()
		netID, ok := dep.netIDs[networkNameFor(spec, 0)]
		dep.mu.Unlock()
		if !ok {
			return errs.NewPermanent("vm %q: network %q was not created before its dependent task ran", spec.Name, networkNameFor(spec, 0))
		}
		network, ok := f.reg.GetNetwork(netID)
		if !ok {
			return errs.NewPermanent("vm %q: network %q vanished from the registry mid-deploy", spec.Name, netID)
		}

		// Translate per-attachment network names to registry IDs before
		// provisioning, so the Provisioner's IP-policy resolution keys off
		// the same NetworkID the Registry knows.
		resolved := make([]domain.NetworkAttachment, len(spec.Networks))
		for i, att := range spec.Networks {
			dep.mu.Lock()
			id, ok := dep.netIDs[att.NetworkID]
			dep.mu.Unlock()
			if ok {
				att.NetworkID = id
			}
			resolved[i] = att
		}
		spec.Networks = resolved

		vm, err := provisioner.Provision(ctx, spec, network)
		if err != nil {
			return err
		}
		vm.OwnerLab = labID
		vm.Tags = spec.Tags
		if _, err := f.reg.UpsertVM(ctx, vm, domain.SourceOrchestrator); err != nil {
			return err
		}
		_ = cap // adapter already used via provisioner; kept for symmetry with ensureNetworkRunner
		dep.mu.Lock()
		dep.vmIDs[spec.Name] = vm.VMID
		dep.mu.Unlock()
		return nil
	}
}

// networkNameFor returns the name referenced by the nth network attachment
// before attachments have been resolved to registry IDs — at the point
// createVMRunner runs, spec.Networks[i].NetworkID still holds the LabSpec's
// network *name* (BuildLabPlan never rewrites VMSpec; only this package
// does, task-body-locally).
func networkNameFor(spec domain.VMSpec, i int) string {
	if i >= len(spec.Networks) {
		return ""
	}
	return spec.Networks[i].NetworkID
}

func (f *Facade) waitForReadyRunner(dep *deployment) func(context.Context, string) error {
	return func(ctx context.Context, vmName string) error {
		dep.mu.Lock()
		vmID := dep.vmIDs[vmName]
		dep.mu.Unlock()
		if vmID == "" {
			return errs.NewPermanent("vm %q has no recorded id to wait on", vmName)
		}

		ticker := time.NewTicker(f.readyPollInterval)
		defer ticker.Stop()
		for {
			if vm, ok := f.reg.GetVM(vmID); ok {
				if vm.Status == domain.VMError {
					return errs.NewPermanent("vm %q entered error state while waiting for ready", vmName)
				}
				if vm.Ready() && vm.GuestToolsState == domain.GuestToolsReporting {
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return errs.NewTransient(0, "timed out waiting for vm %q to become ready: %v", vmName, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}

func (f *Facade) postConfigRunner(dep *deployment) func(context.Context, string, []domain.PostConfigStep) error {
	return func(ctx context.Context, vmName string, steps []domain.PostConfigStep) error {
		dep.mu.Lock()
		vmID := dep.vmIDs[vmName]
		dep.mu.Unlock()
		vm, ok := f.reg.GetVM(vmID)
		if !ok {
			return errs.NewPermanent("vm %q has no registry record for post-config", vmName)
		}
		if f.postconfig == nil {
			return errs.NewPermanent("post-config requested for vm %q but no executor is configured", vmName)
		}
		return f.postconfig.Run(ctx, vmName, vm.PrimaryIP, steps)
	}
}

func (f *Facade) validateLabRunner(dep *deployment) func(context.Context, string) error {
	return func(ctx context.Context, labName string) error {
		dep.mu.Lock()
		defer dep.mu.Unlock()
		var notReady []string
		for name, id := range dep.vmIDs {
			vm, ok := f.reg.GetVM(id)
			if !ok || !vm.Ready() {
				notReady = append(notReady, name)
			}
		}
		if len(notReady) > 0 {
			return errs.NewPermanent("lab %q has %d vm(s) not ready: %v", labName, len(notReady), notReady)
		}
		return nil
	}
}

// DestroyLab tears down a previously deployed lab: every VM is deleted
// before any of its networks (spec §4.3 teardown ordering), IP allocations
// are released, and the LabRecord is marked DESTROYED. Individual VM/
// network delete failures are recorded but do not prevent the rest of the
// teardown plan from running (spec §5: "already-created platform resources
// are scheduled for teardown but their deletion is itself a best-effort
// task").
func (f *Facade) DestroyLab(ctx context.Context, labID string) (domain.LabRecord, error) {
	rec, ok := f.reg.GetLab(labID)
	if !ok {
		return domain.LabRecord{}, errs.NewResourceMissing("lab", labID)
	}

	rec.Status = domain.LabDestroying
	if _, err := f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator); err != nil {
		return rec, err
	}

	cap, capOK := f.platformFor(rec)
	runners := orchestrator.TeardownRunners{
		DeleteVM:             f.deleteVMRunner(cap, capOK),
		DeleteNetwork:        f.deleteNetworkRunner(cap, capOK),
		DeleteVMTimeout:      2 * time.Minute,
		DeleteNetworkTimeout: 30 * time.Second,
	}

	plan, err := orchestrator.BuildTeardownPlan(rec, runners)
	if err != nil {
		return rec, err
	}

	results, _ := f.orch.Execute(ctx, plan)
	rec.Status, rec.DeploymentLog = summarizeTeardown(results)
	rec.EndTime = time.Now().UTC()
	if _, err := f.reg.UpsertLab(ctx, rec, domain.SourceOrchestrator); err != nil {
		return rec, err
	}
	return rec, nil
}

// platformFor resolves the single platform a lab's VMs are known to live
// on (spec §3: "a VM belongs to exactly one platform"); labs this facade
// deployed are single-platform by construction.
func (f *Facade) platformFor(rec domain.LabRecord) (platformcap.Capability, bool) {
	for _, vmID := range rec.VMIDs {
		vm, ok := f.reg.GetVM(vmID)
		if !ok {
			continue
		}
		if cap, ok := f.platforms[vm.PlatformID]; ok {
			return cap, true
		}
	}
	return nil, false
}

func summarizeTeardown(results []orchestrator.Result) (domain.LabStatus, []string) {
	var log []string
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log = append(log, fmt.Sprintf("%s: %v", r.Key, r.Err))
		}
	}
	if failed > 0 {
		return domain.LabDegraded, log
	}
	return domain.LabDestroyed, log
}

func (f *Facade) deleteVMRunner(cap platformcap.Capability, capOK bool) func(context.Context, string) error {
	return func(ctx context.Context, vmID string) error {
		vm, ok := f.reg.GetVM(vmID)
		if !ok {
			return nil // already gone; delete is idempotent (spec §4.1)
		}
		if capOK {
			if err := cap.DeleteVM(ctx, vmID); err != nil {
				if errs.KindOf(err) != errs.ResourceMissing {
					return err
				}
			}
		}
		f.releaseVMAddresses(vm)
		vm.Status = domain.VMDeleted
		vm.DeletedAt = time.Now().UTC()
		_, err := f.reg.UpsertVM(ctx, vm, domain.SourceOrchestrator)
		return err
	}
}

func (f *Facade) deleteNetworkRunner(cap platformcap.Capability, capOK bool) func(context.Context, string) error {
	return func(ctx context.Context, networkID string) error {
		net, ok := f.reg.GetNetwork(networkID)
		if !ok {
			return nil
		}
		if capOK {
			if err := cap.DeleteNetwork(ctx, networkID); err != nil {
				if errs.KindOf(err) != errs.ResourceMissing {
					return err
				}
			}
		}
		net.DeletedAt = time.Now().UTC()
		_, err := f.reg.UpsertNetwork(ctx, net, domain.SourceOrchestrator)
		return err
	}
}

// releaseVMAddresses returns every statically allocated address a VM held
// back to its pool (spec §4.3 IP policy fallback: addresses must be
// reclaimable or the fallback range permanently drains).
func (f *Facade) releaseVMAddresses(vm domain.VMRecord) {
	if f.pools == nil {
		return
	}
	for _, att := range vm.Spec.Networks {
		if att.IPPolicy != domain.IPPolicyStatic || att.StaticIP == "" {
			continue
		}
		net, ok := f.reg.GetNetwork(att.NetworkID)
		if !ok {
			continue
		}
		if err := f.pools.Release(net.CIDR, att.StaticIP); err != nil {
			f.log.WithField("vm", vm.VMID).WithError(err).Warn("failed to release static ip on teardown")
		}
	}
}
