// Package platformcap defines the single capability contract every Platform
// Adapter implements (spec §4.1), so lab orchestration, OS provisioning and
// post-configuration are written once against this interface and executed
// against any of the five PlatformKinds. Native clients (go-proxmox,
// govmomi, the AWS/Azure/GCP SDKs) never leak past an adapter's package
// boundary — only this interface and the domain types cross it.
package platformcap

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// VMFilter narrows list_vms results. Zero values mean "no filter on that field".
type VMFilter struct {
	OwnerLab string
	Status   domain.VMStatus
	Tags     map[string]string
}

// Template describes one clonable image the adapter knows about.
type Template struct {
	ID        string
	Name      string
	OSFamily  domain.OSFamily
	OSVariant domain.OSVariant
	OSVersion string
	// HasGuestAgent reports whether the template already bundles the
	// platform's guest-integration agent (spec §4.2 "always installs... when
	// not already present").
	HasGuestAgent bool
	// SupportsVirtIO reports whether VirtIO drivers are pre-baked, affecting
	// the OS Provisioner's disk-controller choice (spec §4.1).
	SupportsVirtIO bool
}

// Capability is the uniform VM/network-lifecycle contract every Platform
// Adapter must satisfy (spec §4.1). Every operation returns a domain value
// or a *errs.Error from the taxonomy in spec §7 (Transient/Permanent/etc);
// callers are expected to use errs.Retry around Transient results.
type Capability interface {
	// PlatformID returns the configured identifier this adapter instance serves.
	PlatformID() domain.PlatformID
	Kind() domain.PlatformKind

	CreateVM(ctx context.Context, spec domain.VMSpec) (domain.VMRecord, error)
	StartVM(ctx context.Context, vmID string) error
	StopVM(ctx context.Context, vmID string) error
	RebootVM(ctx context.Context, vmID string) error
	DeleteVM(ctx context.Context, vmID string) error
	GetVMStatus(ctx context.Context, vmID string) (domain.VMStatus, error)
	// GetVMIP blocks (subject to ctx/timeout) until a primary IP is
	// discoverable via the platform's native guest-integration channel. It
	// must never assume DHCP on an isolated on-prem network (spec §4.1).
	GetVMIP(ctx context.Context, vmID string, timeout time.Duration) (string, error)
	ListVMs(ctx context.Context, filter VMFilter) ([]domain.VMRecord, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	ListNetworks(ctx context.Context) ([]domain.NetworkRecord, error)

	CreateNetwork(ctx context.Context, spec domain.NetworkSpec) (domain.NetworkRecord, error)
	DeleteNetwork(ctx context.Context, networkID string) error

	// CloneFromTemplate is the fast creation path: clone templateID and
	// apply parameterization in one call.
	CloneFromTemplate(ctx context.Context, templateID string, spec domain.VMSpec, param domain.Parameterization) (domain.VMRecord, error)
	// InjectConfig performs post-creation, pre-boot parameterization
	// injection where the platform supports it (cloud-init drive, OVF
	// properties, mounted NoCloud ISO).
	InjectConfig(ctx context.Context, vmID string, param domain.Parameterization) error
}
