package osprovisioner

import (
	"context"
	"testing"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/ippool"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
)

type fakeCapability struct {
	templates []platformcap.Template
	cloned    domain.VMRecord
	injected  bool
}

func (f *fakeCapability) PlatformID() domain.PlatformID { return "fake" }
func (f *fakeCapability) Kind() domain.PlatformKind     { return domain.PlatformProxmox }

func (f *fakeCapability) CreateVM(ctx context.Context, spec domain.VMSpec) (domain.VMRecord, error) {
	return domain.VMRecord{VMID: "vm-live", Spec: spec, Status: domain.VMRunning}, nil
}
func (f *fakeCapability) StartVM(ctx context.Context, vmID string) error  { return nil }
func (f *fakeCapability) StopVM(ctx context.Context, vmID string) error  { return nil }
func (f *fakeCapability) RebootVM(ctx context.Context, vmID string) error { return nil }
func (f *fakeCapability) DeleteVM(ctx context.Context, vmID string) error { return nil }
func (f *fakeCapability) GetVMStatus(ctx context.Context, vmID string) (domain.VMStatus, error) {
	return domain.VMRunning, nil
}
func (f *fakeCapability) GetVMIP(ctx context.Context, vmID string, timeout time.Duration) (string, error) {
	return "10.0.0.50", nil
}
func (f *fakeCapability) ListVMs(ctx context.Context, filter platformcap.VMFilter) ([]domain.VMRecord, error) {
	return nil, nil
}
func (f *fakeCapability) ListTemplates(ctx context.Context) ([]platformcap.Template, error) {
	return f.templates, nil
}
func (f *fakeCapability) ListNetworks(ctx context.Context) ([]domain.NetworkRecord, error) {
	return nil, nil
}
func (f *fakeCapability) CreateNetwork(ctx context.Context, spec domain.NetworkSpec) (domain.NetworkRecord, error) {
	return domain.NetworkRecord{}, nil
}
func (f *fakeCapability) DeleteNetwork(ctx context.Context, networkID string) error { return nil }
func (f *fakeCapability) CloneFromTemplate(ctx context.Context, templateID string, spec domain.VMSpec, param domain.Parameterization) (domain.VMRecord, error) {
	f.cloned = domain.VMRecord{VMID: "vm-cloned", Spec: spec, Status: domain.VMRunning}
	return f.cloned, nil
}
func (f *fakeCapability) InjectConfig(ctx context.Context, vmID string, param domain.Parameterization) error {
	f.injected = true
	return nil
}

func isolatedNetwork() domain.NetworkRecord {
	return domain.NetworkRecord{NetworkID: "net-1", CIDR: "10.0.0.0/24", Mode: domain.NetworkIsolated}
}

func linuxSpec(networkID string) domain.VMSpec {
	return domain.VMSpec{
		Name:      "lab-vm-1",
		OSFamily:  domain.OSLinux,
		OSVariant: domain.VariantUbuntu,
		Networks:  []domain.NetworkAttachment{{NetworkID: networkID}},
		Credentials: domain.CredentialsBundle{
			SSHUser:      "labadmin",
			SSHPublicKey: "ssh-ed25519 AAAAexample",
		},
	}
}

func TestProvisionClonesWhenTemplateMatches(t *testing.T) {
	pools, err := ippool.NewManager([]ippool.Config{
		{CIDR: "10.0.0.0/24", RangeStart: "10.0.0.10", RangeEnd: "10.0.0.20"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cap := &fakeCapability{templates: []platformcap.Template{
		{ID: "tmpl-ubuntu", OSFamily: domain.OSLinux, OSVariant: domain.VariantUbuntu, HasGuestAgent: true},
	}}
	p := New(cap, pools)

	rec, err := p.Provision(context.Background(), linuxSpec("net-1"), isolatedNetwork())
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if rec.VMID != "vm-cloned" {
		t.Fatalf("expected clone path, got vmid %q", rec.VMID)
	}
	if rec.PrimaryIP == "" {
		t.Fatal("expected a static ip to be assigned")
	}
}

func TestProvisionFallsBackToLiveInstallWithoutTemplate(t *testing.T) {
	pools, _ := ippool.NewManager([]ippool.Config{
		{CIDR: "10.0.0.0/24", RangeStart: "10.0.0.10", RangeEnd: "10.0.0.20"},
	})
	cap := &fakeCapability{}
	p := New(cap, pools)

	rec, err := p.Provision(context.Background(), linuxSpec("net-1"), isolatedNetwork())
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if rec.VMID != "vm-live" {
		t.Fatalf("expected live-install path, got vmid %q", rec.VMID)
	}
	if !cap.injected {
		t.Fatal("expected InjectConfig to be called on the live-install path")
	}
}

func TestProvisionRejectsLinuxSpecWithoutSSHKey(t *testing.T) {
	pools, _ := ippool.NewManager([]ippool.Config{
		{CIDR: "10.0.0.0/24", RangeStart: "10.0.0.10", RangeEnd: "10.0.0.20"},
	})
	cap := &fakeCapability{}
	p := New(cap, pools)

	spec := linuxSpec("net-1")
	spec.Credentials.SSHPublicKey = ""

	_, err := p.Provision(context.Background(), spec, isolatedNetwork())
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestProvisionRejectsRoutedNetworkWithoutDHCPScope(t *testing.T) {
	pools, _ := ippool.NewManager(nil)
	cap := &fakeCapability{}
	p := New(cap, pools)

	routed := domain.NetworkRecord{NetworkID: "net-2", Mode: domain.NetworkRouted}
	_, err := p.Provision(context.Background(), linuxSpec("net-2"), routed)
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for dhcp-less routed network, got %v", err)
	}
}
