// Package osprovisioner implements the provision operation from spec §4.2:
// given a VM intent, a target platform, and a target network, it selects a
// template (or falls back to a live ISO install), chooses a disk controller
// and IP policy, renders the matching guest-bootstrap parameterization, and
// drives the Platform Adapter's clone-and-inject path to produce a running
// VMRecord.
//
// Grounded on the Proxmox provider's clone-then-configure VM creation flow,
// generalized here across all five PlatformKinds via platformcap.Capability.
package osprovisioner

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/cloudinit"
	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/ippool"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
)

// guestAgentPackage names the in-guest agent package to install per
// OSVariant when a template doesn't already bundle it (spec §4.2: "always
// installs... when not already present").
var guestAgentPackage = map[domain.OSVariant]string{
	domain.VariantUbuntu: "qemu-guest-agent",
	domain.VariantKali:   "qemu-guest-agent",
}

// Provisioner binds a Platform Adapter and the IP pool manager used to
// assign static addresses on ISOLATED on-prem networks.
type Provisioner struct {
	cap   platformcap.Capability
	pools *ippool.Manager
	// guestIPTimeout bounds how long GetVMIP may block for a freshly
	// created VM to report an address (spec §4.1 GetVMIP contract).
	guestIPTimeout time.Duration
}

// New builds a Provisioner for one platform adapter.
func New(capability platformcap.Capability, pools *ippool.Manager) *Provisioner {
	return &Provisioner{cap: capability, pools: pools, guestIPTimeout: 5 * time.Minute}
}

// Provision creates one VM from spec against network, choosing the
// cloning-from-template path when the adapter's catalogue has a match and
// falling back to CreateVM (a live/ISO install) otherwise.
func (p *Provisioner) Provision(ctx context.Context, spec domain.VMSpec, network domain.NetworkRecord) (domain.VMRecord, error) {
	if err := validateSpec(spec); err != nil {
		return domain.VMRecord{}, err
	}

	attachment, err := resolveAttachment(spec, network, p.pools)
	if err != nil {
		return domain.VMRecord{}, err
	}
	spec.Networks = replaceAttachment(spec.Networks, attachment)

	templates, err := p.cap.ListTemplates(ctx)
	if err != nil {
		return domain.VMRecord{}, err
	}
	tmpl, hasTemplate := selectTemplate(templates, spec)

	param, err := p.buildParameterization(spec, tmpl, hasTemplate)
	if err != nil {
		return domain.VMRecord{}, err
	}

	var rec domain.VMRecord
	if hasTemplate {
		rec, err = p.cap.CloneFromTemplate(ctx, tmpl.ID, spec, param)
	} else {
		rec, err = p.cap.CreateVM(ctx, spec)
		if err == nil {
			err = p.cap.InjectConfig(ctx, rec.VMID, param)
		}
	}
	if err != nil {
		return domain.VMRecord{}, err
	}

	if attachment.IPPolicy != domain.IPPolicyStatic {
		ip, ipErr := p.cap.GetVMIP(ctx, rec.VMID, p.guestIPTimeout)
		if ipErr != nil {
			return rec, ipErr
		}
		rec.PrimaryIP = ip
	} else {
		rec.PrimaryIP = attachment.StaticIP
	}

	return rec, nil
}

// buildParameterization renders the guest-bootstrap payload matching
// spec.OSFamily, delegating to the iso builder when the adapter has no
// native cloud-init drive (vSphere, bare ESXi: spec §6).
func (p *Provisioner) buildParameterization(spec domain.VMSpec, tmpl platformcap.Template, hasTemplate bool) (domain.Parameterization, error) {
	switch spec.OSFamily {
	case domain.OSLinux:
		pkg := ""
		if !hasTemplate || !tmpl.HasGuestAgent {
			pkg = guestAgentPackage[spec.OSVariant]
		}
		return cloudinit.BuildLinuxCloudInit(spec, pkg)
	case domain.OSWindows:
		if hasTemplate {
			return cloudinit.BuildWindowsCloudbaseInit(spec)
		}
		return cloudinit.BuildWindowsAutounattend(spec)
	default:
		return nil, errs.NewValidation("os_family", "unsupported os family %q", spec.OSFamily)
	}
}

// resolveAttachment applies spec §4.2's IP policy selection: ISOLATED
// on-prem networks get a pool-allocated static address, ROUTED on-prem
// networks observe DHCP, and anything else defers to the platform.
func resolveAttachment(spec domain.VMSpec, network domain.NetworkRecord, pools *ippool.Manager) (domain.NetworkAttachment, error) {
	att, ok := findAttachment(spec.Networks, network.NetworkID)
	if !ok {
		return domain.NetworkAttachment{}, errs.NewValidation("networks", "vm spec %q has no attachment for network %q", spec.Name, network.NetworkID)
	}

	switch network.Mode {
	case domain.NetworkIsolated:
		if pools == nil {
			return domain.NetworkAttachment{}, errs.NewPermanent("isolated network %q requires a configured ip pool", network.NetworkID)
		}
		alloc, err := pools.Allocate(network.CIDR, spec.Name)
		if err != nil {
			return domain.NetworkAttachment{}, err
		}
		att.IPPolicy = domain.IPPolicyStatic
		att.StaticIP = alloc.IP
	case domain.NetworkRouted:
		if network.CIDR != "" {
			att.IPPolicy = domain.IPPolicyDHCPObserved
			att.StaticIP = ""
		} else {
			return domain.NetworkAttachment{}, errs.NewValidation("network", "routed network %q has no dhcp scope configured: refusing silent dhcp assumption", network.NetworkID)
		}
	default:
		att.IPPolicy = domain.IPPolicyPlatformAssigned
		att.StaticIP = ""
	}
	return att, nil
}

func findAttachment(atts []domain.NetworkAttachment, networkID string) (domain.NetworkAttachment, bool) {
	for _, a := range atts {
		if a.NetworkID == networkID {
			return a, true
		}
	}
	return domain.NetworkAttachment{}, false
}

func replaceAttachment(atts []domain.NetworkAttachment, updated domain.NetworkAttachment) []domain.NetworkAttachment {
	out := make([]domain.NetworkAttachment, len(atts))
	for i, a := range atts {
		if a.NetworkID == updated.NetworkID {
			out[i] = updated
			continue
		}
		out[i] = a
	}
	return out
}
