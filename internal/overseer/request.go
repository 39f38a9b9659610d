package overseer

import (
	"context"
	"encoding/json"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/overseer/gating"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// labSpecParamKey is the Request.Parameters key a RequestDeployLab carries
// its LabSpec under, JSON-encoded. domain.Request.Parameters is a flat
// map[string]string (kept deliberately uninterpreted by gating, which only
// ever reads TargetRef/TargetTags/EstimatedScope), so Execute decodes the
// structured payload itself rather than gating needing to understand it.
const labSpecParamKey = "lab_spec_json"

// platformParamKey names the target platform a RequestDeployLab deploys
// onto.
const platformParamKey = "platform_id"

// EncodeDeploySpec packs a LabSpec and its target platform into the
// Parameters map a RequestDeployLab Request carries. The (out-of-scope)
// API layer calls this before Submit.
func EncodeDeploySpec(spec domain.LabSpec, platformID domain.PlatformID) (map[string]string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, errs.NewValidation("lab_spec", "encode lab spec: %v", err)
	}
	return map[string]string{
		labSpecParamKey:  string(body),
		platformParamKey: string(platformID),
	}, nil
}

func decodeDeploySpec(req domain.Request) (domain.LabSpec, domain.PlatformID, error) {
	raw, ok := req.Parameters[labSpecParamKey]
	if !ok {
		return domain.LabSpec{}, "", errs.NewValidation("parameters", "deploy_lab request %q carries no lab_spec_json", req.RequestID)
	}
	var spec domain.LabSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return domain.LabSpec{}, "", errs.NewValidation("parameters", "decode lab spec for request %q: %v", req.RequestID, err)
	}
	return spec, domain.PlatformID(req.Parameters[platformParamKey]), nil
}

// Submit is the Overseer's single entry point for every incoming Request
// (spec §4.5): it runs the six ordered gating checks, records the outcome
// in the Registry, and — if approved — enqueues the request for the
// Execute loop. The caller (the out-of-scope API layer, or overseer-cli)
// gets back the Request as stored, including DenialReason/DenialRule when
// gating denied it.
func (o *Overseer) Submit(ctx context.Context, req domain.Request) (domain.Request, error) {
	if req.RequestID == "" {
		req.RequestID = newRequestID()
	}
	req.CreatedAt = timeNow()
	req.ApprovalState = domain.ApprovalPending

	decision := gating.Evaluate(req, o.gatingSnapshot(), o.policy.Gating, timeNow())
	if decision.Approved {
		req.ApprovalState = domain.ApprovalApproved
	} else {
		req.ApprovalState = domain.ApprovalDenied
		req.DenialReason = decision.Reason
		req.DenialRule = decision.Rule
		metrics.RequestDenials.WithLabelValues(decision.Rule).Inc()
		o.recordDenied()
	}

	saved, err := o.reg.UpsertRequest(ctx, req, domain.SourceManual)
	if err != nil {
		return saved, err
	}
	if decision.Approved {
		o.enqueue(saved.RequestID)
	}
	o.persistSessionBestEffort()
	return saved, nil
}

// gatingSnapshot builds gating.RegistrySnapshot against the live Registry.
func (o *Overseer) gatingSnapshot() gating.RegistrySnapshot {
	return gating.RegistrySnapshot{
		VMExists: func(id string) bool {
			_, ok := o.reg.GetVM(id)
			return ok
		},
		LabExists: func(id string) bool {
			_, ok := o.reg.GetLab(id)
			return ok
		},
		VMIsProduction: func(id string) bool {
			vm, ok := o.reg.GetVM(id)
			return ok && vm.IsProduction()
		},
		LabIsProduction: func(id string) bool {
			lab, ok := o.reg.GetLab(id)
			return ok && lab.IsProduction()
		},
		PlatformLastPoll: o.reg.PlatformLastPoll,
		TargetPlatform:   o.targetPlatform,
	}
}

// targetPlatform resolves a Request's TargetRef (a lab_id, vm_id, or
// already-opaque platform id) to the PlatformID gating rule 4 checks
// freshness for.
func (o *Overseer) targetPlatform(targetRef string) (domain.PlatformID, bool) {
	if vm, ok := o.reg.GetVM(targetRef); ok {
		return vm.PlatformID, true
	}
	if lab, ok := o.reg.GetLab(targetRef); ok {
		for _, vmID := range lab.VMIDs {
			if vm, ok := o.reg.GetVM(vmID); ok {
				return vm.PlatformID, true
			}
		}
		return "", false
	}
	if _, ok := o.platforms[domain.PlatformID(targetRef)]; ok {
		return domain.PlatformID(targetRef), true
	}
	return "", false
}

func (o *Overseer) recordDenied() {
	o.statsMu.Lock()
	o.stats.RequestsDenied++
	o.statsMu.Unlock()
}

// Stats returns a copy of the session's running counters (overseer-cli status).
func (o *Overseer) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}
