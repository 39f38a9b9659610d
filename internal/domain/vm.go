package domain

import "time"

// OSFamily is the top-level guest operating system family.
type OSFamily string

const (
	OSLinux   OSFamily = "linux"
	OSWindows OSFamily = "windows"
)

// OSVariant narrows OSFamily to a concrete distribution/edition used for
// template lookup and disk-controller selection.
type OSVariant string

const (
	VariantUbuntu        OSVariant = "ubuntu"
	VariantKali          OSVariant = "kali"
	VariantPfSense       OSVariant = "pfsense"
	VariantWindowsServer OSVariant = "windows-server"
)

// DiskController is chosen by the OS Provisioner per spec §4.1 ("Disk
// controller choice"): Windows guests default to SATA unless VirtIO drivers
// are pre-baked; Linux guests default to VirtIO-SCSI.
type DiskController string

const (
	ControllerVirtIOSCSI DiskController = "virtio-scsi"
	ControllerSATA        DiskController = "sata"
)

// NetworkMode is the attachment mode of a network a VM can join.
type NetworkMode string

const (
	NetworkIsolated NetworkMode = "isolated"
	NetworkRouted   NetworkMode = "routed"
	NetworkBridged  NetworkMode = "bridged"
)

// IPPolicy is decided by the OS Provisioner from the target network's mode
// (spec §4.2 "IP policy selection").
type IPPolicy string

const (
	IPPolicyStatic           IPPolicy = "static"             // ISOLATED on-prem: pool-allocated
	IPPolicyDHCPObserved     IPPolicy = "dhcp_observed"       // ROUTED on-prem with DHCP
	IPPolicyPlatformAssigned IPPolicy = "platform_assigned"   // cloud default network
)

// NetworkAttachment binds a VM to one network, carrying the VLAN tag (if
// any) the adapter must apply to the NIC at attach time.
type NetworkAttachment struct {
	NetworkID  string
	VLANTag    int // 0 means untagged
	IPPolicy   IPPolicy
	StaticIP   string // populated when IPPolicy == IPPolicyStatic
}

// CredentialsBundle carries the guest-access credentials a VMSpec requests.
// Exactly one of PublicKey (Linux, required — password auth is disabled in
// base images) or AdminPassword (Windows) is expected to be set, enforced by
// the OS Provisioner, not by this struct.
type CredentialsBundle struct {
	SSHUser        string
	SSHPublicKey   string // PEM/OpenSSH authorized_keys line
	AdminUser      string
	AdminPassword  string
}

// PostConfigStep names one configuration-management step to run once the VM
// is reachable (spec §4.3 PostConfig task / §1 "deliberate vulnerability
// injection").
type PostConfigStep struct {
	PlaybookRef string
	Vars        map[string]string
	Group       string // inventory group this step's target VM belongs to
}

// VMSpec is the platform-neutral description of a VM to create. It is
// request-scoped input; adapters translate it into native create calls.
type VMSpec struct {
	Name        string
	OSFamily    OSFamily
	OSVariant   OSVariant
	OSVersion   string
	Cores       int
	MemoryMiB   int
	DiskGiB     int
	Networks    []NetworkAttachment
	Credentials CredentialsBundle
	PostConfig  []PostConfigStep
	Tags        map[string]string
}

// VMStatus is the lifecycle state of a VM as observed through an adapter
// (spec §4.1 "States for a VM observed through an adapter").
type VMStatus string

const (
	VMPending  VMStatus = "pending"
	VMCreating VMStatus = "creating"
	VMRunning  VMStatus = "running"
	VMStopped  VMStatus = "stopped"
	VMError    VMStatus = "error"
	VMDeleted  VMStatus = "deleted"
)

// Terminal reports whether no further lifecycle transition is expected.
func (s VMStatus) Terminal() bool { return s == VMDeleted }

// GuestToolsState tracks whether the in-guest agent (qemu-guest-agent,
// VMware Tools, SSM agent, ...) has reported in, gating READY.
type GuestToolsState string

const (
	GuestToolsUnknown  GuestToolsState = "unknown"
	GuestToolsPending  GuestToolsState = "pending"
	GuestToolsReporting GuestToolsState = "reporting"
)

// VMRecord is the Registry's authoritative view of one VM.
type VMRecord struct {
	VMID            string
	PlatformID      PlatformID
	Spec            VMSpec
	Status          VMStatus
	PrimaryIP       string
	GuestToolsState GuestToolsState
	OwnerLab        string // empty for standalone VMs
	Tags            map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       time.Time
}

// IsProduction reports whether gating's production-protection rule applies,
// per the explicit-tag-scheme decision in DESIGN.md (fails closed: absent or
// non-"true" tag means not production).
func (v VMRecord) IsProduction() bool {
	return v.Tags != nil && v.Tags["production"] == "true"
}

// Ready reports the per-VM half of the LabRecord-READY invariant (spec §3):
// RUNNING and has a primary IP.
func (v VMRecord) Ready() bool {
	return v.Status == VMRunning && v.PrimaryIP != ""
}
