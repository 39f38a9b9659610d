package overseer

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// enqueue appends id to the persisted queue and wakes one Execute worker.
// Called with an already-approved Request.
func (o *Overseer) enqueue(id string) {
	o.queueMu.Lock()
	o.queue = append(o.queue, id)
	depth := len(o.queue)
	o.queueMu.Unlock()

	metrics.OverseerQueueDepth.Set(float64(depth))
	o.queueCh <- id
}

func (o *Overseer) dequeue(id string) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	for i, qid := range o.queue {
		if qid == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
	metrics.OverseerQueueDepth.Set(float64(len(o.queue)))
}

func (o *Overseer) queueSnapshot() []string {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	out := make([]string, len(o.queue))
	copy(out, o.queue)
	return out
}

func (o *Overseer) queueDepth() int {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return len(o.queue)
}

// runExecuteWorker is one of policy.ExecuteConcurrency workers draining the
// approved-request queue (spec §4.5 loop 2, §5 "single-producer-many-
// consumers within the Execute loop, but with per-resource serialization
// keyed on the request's target"). A panic handling one request is
// recovered and logged so it never takes the whole worker pool down; the
// worker itself restarts immediately since the channel read, not a ticker,
// is its suspension point.
func (o *Overseer) runExecuteWorker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-o.queueCh:
			if !ok {
				return
			}
			o.handleSafely(ctx, id)
		}
	}
}

func (o *Overseer) handleSafely(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("request", id).WithField("panic", r).Error("execute worker panicked handling request")
			o.dequeue(id)
		}
	}()
	o.handleRequest(ctx, id)
}

// handleRequest applies per-resource serialization, dispatches by Kind, and
// records the terminal ApprovalState back to the Registry.
func (o *Overseer) handleRequest(ctx context.Context, id string) {
	req, ok := o.reg.GetRequest(id)
	if !ok {
		o.dequeue(id)
		return
	}

	unlock := o.locks.lock(req.TargetRef)
	defer unlock()

	req.ApprovalState = domain.ApprovalExecuting
	req, err := o.reg.UpsertRequest(ctx, req, domain.SourceOrchestrator)
	if err != nil {
		o.log.WithField("request", id).WithError(err).Error("failed to record executing state")
	}

	dispatchErr := o.dispatch(ctx, req)

	o.statsMu.Lock()
	o.stats.RequestsHandled++
	if dispatchErr != nil {
		o.stats.RequestsFailed++
	}
	o.statsMu.Unlock()

	if dispatchErr != nil {
		req.ApprovalState = domain.ApprovalFailed
		req.DenialReason = dispatchErr.Error()
		o.log.WithField("request", id).WithError(dispatchErr).Warn("request execution failed")
	} else {
		req.ApprovalState = domain.ApprovalCompleted
	}
	if _, err := o.reg.UpsertRequest(ctx, req, domain.SourceOrchestrator); err != nil {
		o.log.WithField("request", id).WithError(err).Error("failed to record terminal request state")
	}
	o.dequeue(id)
	o.persistSessionBestEffort()
}

// dispatch routes an approved Request to its handler (spec §4.5 loop 2:
// "dispatches to the appropriate handler").
func (o *Overseer) dispatch(ctx context.Context, req domain.Request) error {
	switch req.Kind {
	case domain.RequestDeployLab:
		spec, platformID, err := decodeDeploySpec(req)
		if err != nil {
			return err
		}
		_, err = o.dispatcher.DeployLab(ctx, spec, platformID)
		return err

	case domain.RequestDestroyLab:
		_, err := o.dispatcher.DestroyLab(ctx, req.TargetRef)
		return err

	case domain.RequestDestroyVM:
		return o.destroyVM(ctx, req.TargetRef)

	case domain.RequestReconcile:
		return o.reconcile(ctx, req.TargetRef)

	case domain.RequestManualOverride:
		// An operator-originated no-op acknowledgement; its only effect is
		// the StateChange trail Submit/handleRequest already produced.
		return nil

	default:
		return errs.NewValidation("kind", "unrecognized request kind %q", req.Kind)
	}
}

// destroyVM handles a standalone RequestDestroyVM: delete through the
// owning platform's Capability directly, release any static address, and
// mark the VMRecord deleted. Lab-scoped VM deletion instead goes through
// DestroyLab's teardown plan so sibling VMs and the owning network are
// torn down together.
func (o *Overseer) destroyVM(ctx context.Context, vmID string) error {
	vm, ok := o.reg.GetVM(vmID)
	if !ok {
		return nil // delete is idempotent on an already-absent VM (spec §4.1)
	}
	cap, ok := o.platforms[vm.PlatformID]
	if !ok {
		return errs.NewPermanent("no platform configured for vm %q (platform %q)", vmID, vm.PlatformID)
	}
	if err := cap.DeleteVM(ctx, vmID); err != nil && errs.KindOf(err) != errs.ResourceMissing {
		return err
	}
	vm.Status = domain.VMDeleted
	vm.DeletedAt = time.Now().UTC()
	_, err := o.reg.UpsertVM(ctx, vm, domain.SourceOrchestrator)
	return err
}

// reconcile is the Execute-loop half of the Monitor loop's auto-remediation
// path (spec §8 scenario 5): re-attempt IP discovery through the owning
// platform's native guest-integration channel, recording the result if it
// succeeds. It is also reachable directly as a RequestReconcile, e.g. from
// a drift-resolution workflow that wants the Registry's projection
// refreshed immediately rather than waiting for the next poll tier.
func (o *Overseer) reconcile(ctx context.Context, vmID string) error {
	vm, ok := o.reg.GetVM(vmID)
	if !ok {
		return errs.NewResourceMissing("vm", vmID)
	}
	cap, ok := o.platforms[vm.PlatformID]
	if !ok {
		return errs.NewPermanent("no platform configured for vm %q (platform %q)", vmID, vm.PlatformID)
	}

	status, err := cap.GetVMStatus(ctx, vmID)
	if err != nil {
		return err
	}
	vm.Status = status

	if vm.PrimaryIP == "" && status == domain.VMRunning {
		ip, err := cap.GetVMIP(ctx, vmID, 30*time.Second)
		if err == nil && ip != "" {
			vm.PrimaryIP = ip
		}
	}

	_, err = o.reg.UpsertVM(ctx, vm, domain.SourcePoll)
	return err
}
