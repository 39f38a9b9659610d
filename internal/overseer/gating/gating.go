// Package gating implements the Overseer's request-gating decision
// function (spec §4.5): six safety checks applied in fixed order to every
// incoming Request, the first failing check denying the request with a
// structured, named reason. It is a pure function over (Request,
// RegistrySnapshot, Policy) — it touches no platform, registry, or clock of
// its own, so it is exercised identically whether called from the
// Overseer's Execute loop or a unit test.
package gating

import (
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// RegistrySnapshot is the narrow read-only view of Registry state gating
// needs: whether the target exists and how fresh the owning platform's
// last successful poll was.
type RegistrySnapshot struct {
	VMExists         func(vmID string) bool
	LabExists        func(labID string) bool
	VMIsProduction   func(vmID string) bool
	LabIsProduction  func(labID string) bool
	PlatformLastPoll func(platformID domain.PlatformID) (time.Time, bool)
	TargetPlatform   func(targetRef string) (domain.PlatformID, bool)
}

// KnowledgeQuery abstracts internal/overseer/knowledge's retrieval
// contract so gating never imports it directly: a ranked-passage search
// over prior incidents matching a request fingerprint.
type KnowledgeQuery func(fingerprint string) (match string, confident bool)

// Policy carries the configured thresholds gating checks against (spec §6
// overseer.mass_action_cap, overseer.freshness_horizon_s).
type Policy struct {
	MinRole          map[domain.RequestKind]domain.Role
	MassActionCap    int
	FreshnessHorizon time.Duration
	Knowledge        KnowledgeQuery
}

// Decision is the gating function's result.
type Decision struct {
	Approved bool
	Reason   string // e.g. "production_protected", "mass_action_exceeded"
	Rule     string // the rule name that produced the decision
}

// Evaluate runs the six ordered checks against req, returning the first
// failing check's Decision, or an approved Decision if every check passes.
func Evaluate(req domain.Request, snap RegistrySnapshot, policy Policy, now time.Time) Decision {
	if d, denied := checkAuthorization(req, policy); denied {
		return d
	}
	if d, denied := checkProductionProtection(req, snap); denied {
		return d
	}
	if d, denied := checkMassActionCap(req, policy); denied {
		return d
	}
	if d, denied := checkPlatformReachability(req, snap, policy, now); denied {
		return d
	}
	if d, denied := checkResourceExistence(req, snap); denied {
		return d
	}
	if d, denied := checkKnowledgePolicy(req, policy); denied {
		return d
	}
	return Decision{Approved: true}
}

// checkAuthorization is gating rule 1: requester must meet the action's
// minimum role level.
func checkAuthorization(req domain.Request, policy Policy) (Decision, bool) {
	min, ok := policy.MinRole[req.Kind]
	if !ok {
		min = domain.RoleOperator
	}
	if req.RequesterRole < min {
		return Decision{Reason: "insufficient_role", Rule: "authorization"}, true
	}
	return Decision{}, false
}

// checkProductionProtection is gating rule 2: destructive actions against
// production-tagged resources are denied without an explicit
// force_production flag.
func checkProductionProtection(req domain.Request, snap RegistrySnapshot) (Decision, bool) {
	if !req.Kind.Destructive() || req.ForceProduction {
		return Decision{}, false
	}
	if isProduction(req, snap) {
		return Decision{Reason: "production_protected", Rule: "production_protection"}, true
	}
	return Decision{}, false
}

func isProduction(req domain.Request, snap RegistrySnapshot) bool {
	if req.TargetTags != nil && req.TargetTags["production"] == "true" {
		return true
	}
	switch req.Kind {
	case domain.RequestDestroyVM:
		return snap.VMIsProduction != nil && snap.VMIsProduction(req.TargetRef)
	case domain.RequestDestroyLab:
		return snap.LabIsProduction != nil && snap.LabIsProduction(req.TargetRef)
	}
	return false
}

// checkMassActionCap is gating rule 3: destruction requests whose
// estimated scope exceeds the configured threshold are denied.
func checkMassActionCap(req domain.Request, policy Policy) (Decision, bool) {
	if !req.Kind.Destructive() {
		return Decision{}, false
	}
	cap := policy.MassActionCap
	if cap <= 0 {
		cap = 5
	}
	if req.EstimatedScope > cap {
		return Decision{Reason: "mass_action_exceeded", Rule: "mass_action_cap"}, true
	}
	return Decision{}, false
}

// checkPlatformReachability is gating rule 4: the targeted platform must
// have had a successful poll within the freshness horizon.
func checkPlatformReachability(req domain.Request, snap RegistrySnapshot, policy Policy, now time.Time) (Decision, bool) {
	if snap.TargetPlatform == nil || snap.PlatformLastPoll == nil {
		return Decision{}, false
	}
	platformID, ok := snap.TargetPlatform(req.TargetRef)
	if !ok {
		return Decision{}, false
	}
	lastPoll, polled := snap.PlatformLastPoll(platformID)
	if !polled {
		return Decision{Reason: "platform_unreachable", Rule: "platform_reachability"}, true
	}
	horizon := policy.FreshnessHorizon
	if horizon <= 0 {
		horizon = 60 * time.Second
	}
	if now.Sub(lastPoll) > horizon {
		return Decision{Reason: "platform_unreachable", Rule: "platform_reachability"}, true
	}
	return Decision{}, false
}

// checkResourceExistence is gating rule 5: the target must exist in the
// Registry, unless the request explicitly creates it.
func checkResourceExistence(req domain.Request, snap RegistrySnapshot) (Decision, bool) {
	if req.Kind == domain.RequestDeployLab {
		return Decision{}, false
	}
	switch req.Kind {
	case domain.RequestDestroyVM:
		if snap.VMExists != nil && !snap.VMExists(req.TargetRef) {
			return Decision{Reason: "resource_missing", Rule: "resource_existence"}, true
		}
	case domain.RequestDestroyLab, domain.RequestReconcile:
		if snap.LabExists != nil && !snap.LabExists(req.TargetRef) {
			return Decision{Reason: "resource_missing", Rule: "resource_existence"}, true
		}
	}
	return Decision{}, false
}

// checkKnowledgePolicy is gating rule 6: the knowledge index is consulted
// for prior incidents matching the request fingerprint.
func checkKnowledgePolicy(req domain.Request, policy Policy) (Decision, bool) {
	if policy.Knowledge == nil {
		return Decision{}, false
	}
	match, confident := policy.Knowledge(fingerprint(req))
	if confident {
		return Decision{Reason: "policy_denied: " + match, Rule: "policy_query"}, true
	}
	return Decision{}, false
}

func fingerprint(req domain.Request) string {
	return string(req.Kind) + "|" + req.TargetRef
}
