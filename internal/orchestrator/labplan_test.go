package orchestrator

import (
	"context"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

func TestBuildLabPlanWiresNetworkAndPostConfigEdges(t *testing.T) {
	spec := domain.LabSpec{
		Name:     "lab-1",
		Networks: []domain.NetworkSpec{{Name: "dmz", Mode: domain.NetworkIsolated}},
		VMs: []domain.VMSpec{
			{Name: "web-1", PostConfig: []domain.PostConfigStep{{PlaybookRef: "harden.yml"}}},
			{Name: "db-1"},
		},
		VMNetworks: map[string][]string{
			"web-1": {"dmz"},
			"db-1":  {"dmz"},
		},
	}

	runners := Runners{
		EnsureNetwork: func(ctx context.Context, n domain.NetworkSpec) error { return nil },
		CreateVM:      func(ctx context.Context, v domain.VMSpec) error { return nil },
		WaitForReady:  func(ctx context.Context, name string) error { return nil },
		PostConfig:    func(ctx context.Context, name string, steps []domain.PostConfigStep) error { return nil },
		ValidateLab:   func(ctx context.Context, name string) error { return nil },
	}.DefaultTimeouts()

	plan, err := BuildLabPlan(spec, runners)
	if err != nil {
		t.Fatalf("BuildLabPlan: %v", err)
	}

	webCreate, ok := plan.Tasks["create_vm:web-1"]
	if !ok {
		t.Fatal("expected create_vm:web-1 task")
	}
	if len(webCreate.DependsOn) != 1 || webCreate.DependsOn[0] != "ensure_network:dmz" {
		t.Fatalf("expected web-1 create to depend on ensure_network:dmz, got %v", webCreate.DependsOn)
	}

	validate, ok := plan.Tasks["validate_lab"]
	if !ok {
		t.Fatal("expected validate_lab task")
	}
	wantDeps := map[string]bool{"post_config:web-1": true, "wait_for_ready:db-1": true}
	if len(validate.DependsOn) != 2 {
		t.Fatalf("expected validate_lab to depend on 2 tasks, got %v", validate.DependsOn)
	}
	for _, d := range validate.DependsOn {
		if !wantDeps[d] {
			t.Fatalf("unexpected validate_lab dependency %q", d)
		}
	}
}

func TestBuildTeardownPlanOrdersNetworksAfterVMs(t *testing.T) {
	lab := domain.LabRecord{
		VMIDs:      []string{"vm-1", "vm-2"},
		NetworkIDs: []string{"net-1"},
	}
	runners := TeardownRunners{
		DeleteVM:      func(ctx context.Context, vmID string) error { return nil },
		DeleteNetwork: func(ctx context.Context, networkID string) error { return nil },
	}

	plan, err := BuildTeardownPlan(lab, runners)
	if err != nil {
		t.Fatalf("BuildTeardownPlan: %v", err)
	}
	netTask, ok := plan.Tasks["delete_network:net-1"]
	if !ok {
		t.Fatal("expected delete_network:net-1 task")
	}
	if len(netTask.DependsOn) != 2 {
		t.Fatalf("expected network delete to depend on both vm deletes, got %v", netTask.DependsOn)
	}
}
