package overseer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/overseer/gating"
	"github.com/ntounix-prog/glassdome/internal/registry"
)

type fakeDispatcher struct {
	deployed  chan domain.LabSpec
	destroyed chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{deployed: make(chan domain.LabSpec, 4), destroyed: make(chan string, 4)}
}

func (f *fakeDispatcher) DeployLab(ctx context.Context, spec domain.LabSpec, platformID domain.PlatformID) (domain.LabRecord, error) {
	f.deployed <- spec
	return domain.LabRecord{LabID: "lab-1", Status: domain.LabReady}, nil
}

func (f *fakeDispatcher) DestroyLab(ctx context.Context, labID string) (domain.LabRecord, error) {
	f.destroyed <- labID
	return domain.LabRecord{LabID: labID, Status: domain.LabDestroyed}, nil
}

func testPolicy() Policy {
	return Policy{
		Gating:           gating.Policy{MassActionCap: 5, FreshnessHorizon: time.Hour},
		ExecuteConcurrency: 2,
	}
}

func TestSubmitDeniesProductionDestroyWithoutForce(t *testing.T) {
	reg := registry.New(nil, nil)
	ctx := context.Background()
	if _, err := reg.UpsertLab(ctx, domain.LabRecord{
		LabID:  "lab-prod",
		Status: domain.LabReady,
		Tags:   map[string]string{"production": "true"},
	}, domain.SourceManual); err != nil {
		t.Fatalf("seed lab: %v", err)
	}

	o := New(reg, newFakeDispatcher(), nil, nil, nil, nil, testPolicy(), Intervals{}, "", nil)

	req := domain.Request{
		Kind:          domain.RequestDestroyLab,
		TargetRef:     "lab-prod",
		RequesterRole: domain.RoleAdmin,
	}
	got, err := o.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.ApprovalState != domain.ApprovalDenied || got.DenialReason != "production_protected" {
		t.Fatalf("expected production_protected denial, got %+v", got)
	}
}

func TestSubmitApprovesForcedProductionDestroy(t *testing.T) {
	reg := registry.New(nil, nil)
	ctx := context.Background()
	reg.UpsertLab(ctx, domain.LabRecord{ //nolint:errcheck
		LabID: "lab-prod", Status: domain.LabReady, Tags: map[string]string{"production": "true"},
	}, domain.SourceManual)

	o := New(reg, newFakeDispatcher(), nil, nil, nil, nil, testPolicy(), Intervals{}, "", nil)

	req := domain.Request{
		Kind:            domain.RequestDestroyLab,
		TargetRef:       "lab-prod",
		RequesterRole:   domain.RoleAdmin,
		ForceProduction: true,
	}
	got, err := o.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.ApprovalState != domain.ApprovalApproved {
		t.Fatalf("expected approved, got %+v", got)
	}
}

func TestSubmitDeniesMassActionOverCap(t *testing.T) {
	reg := registry.New(nil, nil)
	o := New(reg, newFakeDispatcher(), nil, nil, nil, nil, testPolicy(), Intervals{}, "", nil)

	req := domain.Request{
		Kind:           domain.RequestDestroyVM,
		TargetRef:      "vm-1",
		EstimatedScope: 20,
		RequesterRole:  domain.RoleAdmin,
	}
	got, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.ApprovalState != domain.ApprovalDenied || got.DenialReason != "mass_action_exceeded" {
		t.Fatalf("expected mass_action_exceeded denial, got %+v", got)
	}
}

func TestApprovedDeployLabRunsThroughExecuteLoop(t *testing.T) {
	reg := registry.New(nil, nil)
	dispatcher := newFakeDispatcher()
	o := New(reg, dispatcher, nil, nil, nil, nil, testPolicy(), Intervals{
		Monitor: time.Hour, Sync: time.Hour, Health: time.Hour,
	}, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(context.Background()) //nolint:errcheck

	spec := domain.LabSpec{Name: "two-vm-lab"}
	params, err := EncodeDeploySpec(spec, "proxmox:pve01")
	if err != nil {
		t.Fatalf("EncodeDeploySpec: %v", err)
	}
	req := domain.Request{
		Kind:          domain.RequestDeployLab,
		TargetRef:     "lab-new",
		Parameters:    params,
		RequesterRole: domain.RoleOperator,
	}
	saved, err := o.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if saved.ApprovalState != domain.ApprovalApproved {
		t.Fatalf("expected approval, got %+v", saved)
	}

	select {
	case got := <-dispatcher.deployed:
		if got.Name != "two-vm-lab" {
			t.Fatalf("expected decoded spec name two-vm-lab, got %q", got.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execute loop to dispatch deploy")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := reg.GetRequest(saved.RequestID); ok && r.ApprovalState == domain.ApprovalCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("request never reached completed state")
}

func TestApprovedDestroyLabRunsThroughExecuteLoop(t *testing.T) {
	reg := registry.New(nil, nil)
	dispatcher := newFakeDispatcher()
	ctx := context.Background()
	if _, err := reg.UpsertLab(ctx, domain.LabRecord{LabID: "lab-2", Status: domain.LabReady}, domain.SourceManual); err != nil {
		t.Fatalf("seed lab: %v", err)
	}

	o := New(reg, dispatcher, nil, nil, nil, nil, testPolicy(), Intervals{
		Monitor: time.Hour, Sync: time.Hour, Health: time.Hour,
	}, "", nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(context.Background()) //nolint:errcheck

	req := domain.Request{Kind: domain.RequestDestroyLab, TargetRef: "lab-2", EstimatedScope: 1, RequesterRole: domain.RoleAdmin}
	saved, err := o.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if saved.ApprovalState != domain.ApprovalApproved {
		t.Fatalf("expected approval, got %+v", saved)
	}

	select {
	case got := <-dispatcher.destroyed:
		if got != "lab-2" {
			t.Fatalf("expected destroy target lab-2, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execute loop to dispatch destroy")
	}
}

func TestSessionPersistsAcrossRestart(t *testing.T) {
	reg := registry.New(nil, nil)
	dispatcher := newFakeDispatcher()
	sessionPath := filepath.Join(t.TempDir(), "overseer-session.json")

	o := New(reg, dispatcher, nil, nil, nil, nil, testPolicy(), Intervals{
		Monitor: time.Hour, Sync: time.Hour, Health: time.Hour,
	}, sessionPath, nil)

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	req := domain.Request{Kind: domain.RequestManualOverride, TargetRef: "vm-1", RequesterRole: domain.RoleAdmin}
	if _, err := o.Submit(ctx, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Allow the execute worker to finish and persist before stopping, so
	// the reloaded stats reflect a handled request rather than a race.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && o.Stats().RequestsHandled == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	o2 := New(reg, dispatcher, nil, nil, nil, nil, testPolicy(), Intervals{
		Monitor: time.Hour, Sync: time.Hour, Health: time.Hour,
	}, sessionPath, nil)
	if err := o2.loadSession(); err != nil {
		t.Fatalf("loadSession: %v", err)
	}
	if o2.Stats().RequestsHandled != 1 {
		t.Fatalf("expected persisted RequestsHandled=1, got %+v", o2.Stats())
	}
}
