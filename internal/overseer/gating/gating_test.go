package gating

import (
	"testing"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

func snapshot() RegistrySnapshot {
	return RegistrySnapshot{
		VMExists:        func(string) bool { return true },
		LabExists:       func(string) bool { return true },
		VMIsProduction:  func(string) bool { return false },
		LabIsProduction: func(string) bool { return false },
		PlatformLastPoll: func(domain.PlatformID) (time.Time, bool) {
			return time.Now().UTC(), true
		},
		TargetPlatform: func(string) (domain.PlatformID, bool) { return "prox-1", true },
	}
}

func basePolicy() Policy {
	return Policy{MassActionCap: 5, FreshnessHorizon: time.Minute}
}

func TestEvaluateDeniesProductionDestroyWithoutForce(t *testing.T) {
	req := domain.Request{
		Kind:           domain.RequestDestroyLab,
		TargetRef:      "lab-prod",
		TargetTags:     map[string]string{"production": "true"},
		EstimatedScope: 1,
		RequesterRole:  domain.RoleAdmin,
	}
	d := Evaluate(req, snapshot(), basePolicy(), time.Now().UTC())
	if d.Approved || d.Reason != "production_protected" || d.Rule != "production_protection" {
		t.Fatalf("expected production_protected denial, got %+v", d)
	}
}

func TestEvaluateApprovesProductionDestroyWithForce(t *testing.T) {
	req := domain.Request{
		Kind:            domain.RequestDestroyLab,
		TargetRef:       "lab-prod",
		TargetTags:      map[string]string{"production": "true"},
		EstimatedScope:  1,
		ForceProduction: true,
		RequesterRole:   domain.RoleAdmin,
	}
	d := Evaluate(req, snapshot(), basePolicy(), time.Now().UTC())
	if !d.Approved {
		t.Fatalf("expected approval with force_production set, got %+v", d)
	}
}

func TestEvaluateDeniesMassActionOverCap(t *testing.T) {
	req := domain.Request{
		Kind:           domain.RequestDestroyLab,
		TargetRef:      "lab-big",
		EstimatedScope: 9,
		RequesterRole:  domain.RoleAdmin,
	}
	d := Evaluate(req, snapshot(), basePolicy(), time.Now().UTC())
	if d.Approved || d.Reason != "mass_action_exceeded" || d.Rule != "mass_action_cap" {
		t.Fatalf("expected mass_action_exceeded denial, got %+v", d)
	}
}

func TestEvaluateDeniesInsufficientRole(t *testing.T) {
	req := domain.Request{
		Kind:          domain.RequestDestroyVM,
		TargetRef:     "vm-1",
		RequesterRole: domain.RoleViewer,
	}
	policy := basePolicy()
	policy.MinRole = map[domain.RequestKind]domain.Role{domain.RequestDestroyVM: domain.RoleAdmin}
	d := Evaluate(req, snapshot(), policy, time.Now().UTC())
	if d.Approved || d.Rule != "authorization" {
		t.Fatalf("expected authorization denial, got %+v", d)
	}
}

func TestEvaluateDeniesUnreachablePlatform(t *testing.T) {
	req := domain.Request{
		Kind:          domain.RequestDestroyVM,
		TargetRef:     "vm-1",
		RequesterRole: domain.RoleAdmin,
	}
	snap := snapshot()
	snap.PlatformLastPoll = func(domain.PlatformID) (time.Time, bool) {
		return time.Now().UTC().Add(-time.Hour), true
	}
	d := Evaluate(req, snap, basePolicy(), time.Now().UTC())
	if d.Approved || d.Rule != "platform_reachability" {
		t.Fatalf("expected platform_reachability denial, got %+v", d)
	}
}

func TestEvaluateDeniesMissingResource(t *testing.T) {
	req := domain.Request{
		Kind:          domain.RequestDestroyVM,
		TargetRef:     "vm-ghost",
		RequesterRole: domain.RoleAdmin,
	}
	snap := snapshot()
	snap.VMExists = func(string) bool { return false }
	d := Evaluate(req, snap, basePolicy(), time.Now().UTC())
	if d.Approved || d.Rule != "resource_existence" {
		t.Fatalf("expected resource_existence denial, got %+v", d)
	}
}

func TestEvaluateDeniesOnKnowledgeMatch(t *testing.T) {
	req := domain.Request{
		Kind:          domain.RequestDestroyVM,
		TargetRef:     "vm-1",
		RequesterRole: domain.RoleAdmin,
	}
	policy := basePolicy()
	policy.Knowledge = func(fingerprint string) (string, bool) {
		return "prior incident GD-42 flagged this exact destroy", true
	}
	d := Evaluate(req, snapshot(), policy, time.Now().UTC())
	if d.Approved || d.Rule != "policy_query" {
		t.Fatalf("expected policy_query denial, got %+v", d)
	}
}

func TestEvaluateApprovesCleanDeployLab(t *testing.T) {
	req := domain.Request{
		Kind:          domain.RequestDeployLab,
		TargetRef:     "lab-new",
		RequesterRole: domain.RoleOperator,
	}
	snap := snapshot()
	snap.LabExists = func(string) bool { return false }
	d := Evaluate(req, snap, basePolicy(), time.Now().UTC())
	if !d.Approved {
		t.Fatalf("expected approval for a fresh deploy_lab, got %+v", d)
	}
}
