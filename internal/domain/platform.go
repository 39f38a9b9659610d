// Package domain holds the platform-neutral entity types shared by every
// Glassdome component: VMs, networks, labs, requests, state changes, drift
// records and IP allocations. Nothing here reaches into a specific
// platform's native types — that translation lives in internal/platform/*.
package domain

// PlatformKind names a family of virtualization platform this module knows
// how to drive. It is a closed set: adding a new platform means adding a new
// adapter package and a new constant here, never a free-form string.
type PlatformKind string

const (
	PlatformProxmox PlatformKind = "proxmox"
	PlatformESXi    PlatformKind = "esxi"
	PlatformAWS     PlatformKind = "aws"
	PlatformAzure   PlatformKind = "azure"
	PlatformGCP     PlatformKind = "gcp"
)

// OnPrem reports whether this platform kind is an on-prem hypervisor (as
// opposed to a public cloud), which matters for the static-IP / no-DHCP
// policy on ISOLATED networks (spec §4.2, §9 Open Questions).
func (k PlatformKind) OnPrem() bool {
	return k == PlatformProxmox || k == PlatformESXi
}

// PlatformID identifies one configured platform endpoint, e.g.
// "proxmox:pve01" or "aws:us-east-1". It is opaque to every component except
// the config loader and the adapter registry that resolves it.
type PlatformID string

// PlatformRef pairs an opaque id with its kind, avoiding string-sniffing at
// call sites that need to branch on capability (e.g. IP policy selection).
type PlatformRef struct {
	ID   PlatformID
	Kind PlatformKind
}
