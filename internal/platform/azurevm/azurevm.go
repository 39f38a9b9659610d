// Package azurevm implements platformcap.Capability against Azure Resource
// Manager for spec §6's "azure" platform kind.
//
// Grounded on karpenter-provider-azure's pkg/providers/instance
// (vminstance.go): DefaultVMProvider's Get/List/Delete/Update against
// armcompute.VirtualMachinesClient, its newNetworkInterfaceForVM/
// createNetworkInterface split against armnetwork.InterfacesClient, and its
// long-running-operation handling via runtime.Poller are followed here,
// generalized from karpenter's node-claim lifecycle to lab VM lifecycle.
// Libraries: azure-sdk-for-go/sdk/{azcore,azidentity}, resourcemanager/
// compute/armcompute and resourcemanager/network/armnetwork — all four
// appear in that grounding file's own imports.
package azurevm

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v4"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Config is the adapter's connection configuration (spec §6 platforms[]).
type Config struct {
	ID                  domain.PlatformID
	SubscriptionID      string
	TenantID            string
	ClientID            string
	ClientSecret        string
	ResourceGroup       string
	Location            string
	SubnetID            string // default subnet resource id
	NetworkSecurityGroupID string
}

// Adapter implements platformcap.Capability against one Azure resource group.
type Adapter struct {
	vmClient  *armcompute.VirtualMachinesClient
	imgClient *armcompute.ImagesClient
	nicClient *armnetwork.InterfacesClient
	id        domain.PlatformID
	rg        string
	location  string
	subnet    string
	nsgID     string
	limiter   *platformcap.RateLimiter
	log       *logger.Logger
}

// New builds an Adapter bound to one Azure subscription/resource group.
func New(cfg Config, limiter *platformcap.RateLimiter, log *logger.Logger) (*Adapter, error) {
	if log == nil {
		log = logger.NewDefault("platform.azurevm")
	}
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, errs.NewPermanent("azure client secret credential: %v", err)
	}
	vmClient, err := armcompute.NewVirtualMachinesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errs.NewPermanent("azure vm client: %v", err)
	}
	imgClient, err := armcompute.NewImagesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errs.NewPermanent("azure images client: %v", err)
	}
	nicClient, err := armnetwork.NewInterfacesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errs.NewPermanent("azure nic client: %v", err)
	}
	return &Adapter{
		vmClient:  vmClient,
		imgClient: imgClient,
		nicClient: nicClient,
		id:        cfg.ID,
		rg:        cfg.ResourceGroup,
		location:  cfg.Location,
		subnet:    cfg.SubnetID,
		nsgID:     cfg.NetworkSecurityGroupID,
		limiter:   limiter,
		log:       log,
	}, nil
}

func (a *Adapter) PlatformID() domain.PlatformID { return a.id }
func (a *Adapter) Kind() domain.PlatformKind     { return domain.PlatformAzure }

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func vmSizeFor(spec domain.VMSpec) armcompute.VirtualMachineSizeTypes {
	switch {
	case spec.Cores >= 4 || spec.MemoryMiB >= 16384:
		return armcompute.VirtualMachineSizeTypesStandardD4sV3
	case spec.Cores >= 2 || spec.MemoryMiB >= 4096:
		return armcompute.VirtualMachineSizeTypesStandardD2sV3
	default:
		return armcompute.VirtualMachineSizeTypesStandardB2S
	}
}

func nicNameFor(vmName string) string { return vmName + "-nic" }

// createNetworkInterface provisions the VM's primary NIC, matching
// newNetworkInterfaceForVM + createNetworkInterface in the grounding file
// (simplified: one dynamic-allocation IP configuration, no load-balancer
// backend pools or secondary IPs — those are AKS-specific concerns this
// adapter has no use for).
func (a *Adapter) createNetworkInterface(ctx context.Context, vmName, subnetID string) (*armnetwork.Interface, error) {
	var nsgRef *armnetwork.SecurityGroup
	if a.nsgID != "" {
		nsgRef = &armnetwork.SecurityGroup{ID: to.Ptr(a.nsgID)}
	}
	nic := armnetwork.Interface{
		Location: to.Ptr(a.location),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{
				{
					Name: to.Ptr(vmName + "-ipconfig"),
					Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
						Primary:                   to.Ptr(true),
						PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
						Subnet:                    &armnetwork.Subnet{ID: to.Ptr(subnetID)},
					},
				},
			},
			NetworkSecurityGroup: nsgRef,
		},
	}
	poller, err := a.nicClient.BeginCreateOrUpdate(ctx, a.rg, nicNameFor(vmName), nic, nil)
	if err != nil {
		return nil, errs.NewPermanent("azure create nic %q: %v", vmName, err)
	}
	res, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "azure create nic %q poll: %v", vmName, err)
	}
	return &res.Interface, nil
}

// CreateVM has no bare-ISO path in this adapter: Azure VMs always launch
// from a managed image or marketplace reference, so this defers to
// CloneFromTemplate, matching the same decision made in the AWS adapter.
func (a *Adapter) CreateVM(ctx context.Context, spec domain.VMSpec) (domain.VMRecord, error) {
	return domain.VMRecord{}, errs.NewPermanent("azure adapter: bare CreateVM unsupported, use CloneFromTemplate with a managed image id")
}

// CloneFromTemplate creates a NIC then a VM referencing templateID as a
// managed image, mirroring BeginCreate's create-NIC-then-VM sequencing in
// the grounding file (there: createNetworkInterface before virtualMachine
// create; here: the same order, minus AKS bootstrapping).
func (a *Adapter) CloneFromTemplate(ctx context.Context, templateID string, spec domain.VMSpec, param domain.Parameterization) (domain.VMRecord, error) {
	if templateID == "" {
		return domain.VMRecord{}, errs.NewValidation("template_id", "azure adapter requires a managed image resource id")
	}
	if err := a.wait(ctx); err != nil {
		return domain.VMRecord{}, errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}

	subnetID := a.subnet
	for _, att := range spec.Networks {
		if att.NetworkID != "" {
			subnetID = att.NetworkID
			break
		}
	}
	if subnetID == "" {
		return domain.VMRecord{}, errs.NewValidation("subnet", "azure adapter has no subnet for vm %q", spec.Name)
	}

	nic, err := a.createNetworkInterface(ctx, spec.Name, subnetID)
	if err != nil {
		return domain.VMRecord{}, err
	}

	osProfile, err := osProfileFor(spec, param)
	if err != nil {
		return domain.VMRecord{}, err
	}

	vm := armcompute.VirtualMachine{
		Location: to.Ptr(a.location),
		Tags:     toAzureTags(spec.Tags),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{VMSize: to.Ptr(vmSizeFor(spec))},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{ID: to.Ptr(templateID)},
				OSDisk: &armcompute.OSDisk{
					CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
					DiskSizeGB:   to.Ptr(int32(spec.DiskGiB)),
				},
			},
			OSProfile: osProfile,
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{ID: nic.ID}},
			},
		},
	}

	poller, err := a.vmClient.BeginCreateOrUpdate(ctx, a.rg, spec.Name, vm, nil)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("azure create vm %q: %v", spec.Name, err)
	}
	res, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "azure create vm %q poll: %v", spec.Name, err)
	}

	return domain.VMRecord{
		VMID:       *res.Name,
		PlatformID: a.id,
		Spec:       spec,
		Status:     domain.VMPending,
		Tags:       spec.Tags,
	}, nil
}

// osProfileFor adapts Parameterization into Azure's OSProfile.CustomData
// (base64, Linux cloud-init) or AdminPassword/AdminUsername (Windows
// unattend, which Azure applies itself during VM Agent provisioning).
func osProfileFor(spec domain.VMSpec, param domain.Parameterization) (*armcompute.OSProfile, error) {
	profile := &armcompute.OSProfile{ComputerName: to.Ptr(spec.Name)}
	switch p := param.(type) {
	case domain.LinuxCloudInit:
		profile.AdminUsername = to.Ptr(spec.Credentials.SSHUser)
		profile.CustomData = to.Ptr(p.UserData)
		profile.LinuxConfiguration = &armcompute.LinuxConfiguration{
			SSH: &armcompute.SSHConfiguration{
				PublicKeys: []*armcompute.SSHPublicKey{{
					Path:    to.Ptr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", spec.Credentials.SSHUser)),
					KeyData: to.Ptr(spec.Credentials.SSHPublicKey),
				}},
			},
		}
	case domain.WindowsCloudbaseInit:
		profile.AdminUsername = to.Ptr(spec.Credentials.AdminUser)
		profile.AdminPassword = to.Ptr(spec.Credentials.AdminPassword)
		profile.CustomData = to.Ptr(p.UserDataScript)
	case domain.WindowsAutounattend:
		profile.AdminUsername = to.Ptr(spec.Credentials.AdminUser)
		profile.AdminPassword = to.Ptr(spec.Credentials.AdminPassword)
	case domain.PlatformAssigned:
		profile.AdminUsername = to.Ptr(spec.Credentials.SSHUser)
	default:
		return nil, errs.NewPermanent("azure adapter: unsupported parameterization kind %T", p)
	}
	return profile, nil
}

// InjectConfig is a no-op: Azure only accepts OSProfile/CustomData at VM
// creation time, so CloneFromTemplate already applied param.
func (a *Adapter) InjectConfig(ctx context.Context, vmID string, param domain.Parameterization) error {
	return nil
}

func (a *Adapter) StartVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	poller, err := a.vmClient.BeginStart(ctx, a.rg, vmID, nil)
	if err != nil {
		return classifyAzureError("start", vmID, err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	if err != nil {
		return errs.NewTransient(2*time.Second, "azure start %q poll: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) StopVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	poller, err := a.vmClient.BeginDeallocate(ctx, a.rg, vmID, nil)
	if err != nil {
		return classifyAzureError("stop", vmID, err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	if err != nil {
		return errs.NewTransient(2*time.Second, "azure stop %q poll: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) RebootVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	poller, err := a.vmClient.BeginRestart(ctx, a.rg, vmID, nil)
	if err != nil {
		return classifyAzureError("reboot", vmID, err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	if err != nil {
		return errs.NewTransient(2*time.Second, "azure reboot %q poll: %v", vmID, err)
	}
	return nil
}

// DeleteVM deletes the VM then its NIC, matching cleanupAzureResources's
// order in the grounding file (VM first, then its network interface).
// Deleting an already-absent VM is a no-op success (spec §4.1).
func (a *Adapter) DeleteVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	poller, err := a.vmClient.BeginDelete(ctx, a.rg, vmID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classifyAzureError("delete", vmID, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return errs.NewTransient(2*time.Second, "azure delete %q poll: %v", vmID, err)
	}

	nicPoller, err := a.nicClient.BeginDelete(ctx, a.rg, nicNameFor(vmID), nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return errs.NewPermanent("azure delete nic for %q: %v", vmID, err)
	}
	_, err = nicPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return errs.NewTransient(2*time.Second, "azure delete nic for %q poll: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) GetVMStatus(ctx context.Context, vmID string) (domain.VMStatus, error) {
	res, err := a.vmClient.Get(ctx, a.rg, vmID, &armcompute.VirtualMachinesClientGetOptions{Expand: to.Ptr(armcompute.InstanceViewTypesInstanceView)})
	if err != nil {
		if isNotFound(err) {
			return domain.VMDeleted, nil
		}
		return "", errs.NewTransient(2*time.Second, "azure get vm %q: %v", vmID, err)
	}
	return mapPowerState(res.Properties), nil
}

func mapPowerState(props *armcompute.VirtualMachineProperties) domain.VMStatus {
	if props == nil || props.InstanceView == nil {
		return domain.VMPending
	}
	for _, s := range props.InstanceView.Statuses {
		if s.Code == nil {
			continue
		}
		switch *s.Code {
		case "PowerState/running":
			return domain.VMRunning
		case "PowerState/stopped", "PowerState/deallocated":
			return domain.VMStopped
		}
	}
	return domain.VMPending
}

// GetVMIP reads the NIC's private IP configuration — Azure's VM Agent
// heartbeat is the platform's native guest-integration signal for
// readiness, but the IP itself comes back from the network-interface
// resource (spec §4.1).
func (a *Adapter) GetVMIP(ctx context.Context, vmID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		res, err := a.nicClient.Get(ctx, a.rg, nicNameFor(vmID), nil)
		if err == nil && res.Properties != nil {
			for _, ipc := range res.Properties.IPConfigurations {
				if ipc.Properties != nil && ipc.Properties.PrivateIPAddress != nil {
					return *ipc.Properties.PrivateIPAddress, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return "", errs.NewTransient(0, "azure vm %q did not report an ip within %s", vmID, timeout)
		}
		select {
		case <-ctx.Done():
			return "", errs.NewTransient(0, "get vm ip %q cancelled: %v", vmID, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *Adapter) ListVMs(ctx context.Context, filter platformcap.VMFilter) ([]domain.VMRecord, error) {
	pager := a.vmClient.NewListPager(a.rg, nil)
	var recs []domain.VMRecord
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.NewTransient(2*time.Second, "azure list vms: %v", err)
		}
		for _, vm := range page.Value {
			status := mapPowerState(vm.Properties)
			if filter.Status != "" && status != filter.Status {
				continue
			}
			recs = append(recs, domain.VMRecord{
				VMID:       *vm.Name,
				PlatformID: a.id,
				Status:     status,
				Tags:       fromAzureTags(vm.Tags),
			})
		}
	}
	return recs, nil
}

// ListTemplates lists managed images in the resource group, matching the
// spec's "template" concept onto Azure's managed-image registry.
func (a *Adapter) ListTemplates(ctx context.Context) ([]platformcap.Template, error) {
	pager := a.imgClient.NewListByResourceGroupPager(a.rg, nil)
	var out []platformcap.Template
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.NewTransient(2*time.Second, "azure list images: %v", err)
		}
		for _, img := range page.Value {
			out = append(out, platformcap.Template{ID: *img.ID, Name: *img.Name})
		}
	}
	return out, nil
}

// ListNetworks, CreateNetwork and DeleteNetwork treat VNets/subnets as
// pre-provisioned infrastructure, the same decision made in the AWS and
// Proxmox adapters: CreateNetwork resolves an existing subnet by name
// rather than provisioning a new VNet per lab.
func (a *Adapter) ListNetworks(ctx context.Context) ([]domain.NetworkRecord, error) {
	return nil, nil
}

func (a *Adapter) CreateNetwork(ctx context.Context, spec domain.NetworkSpec) (domain.NetworkRecord, error) {
	return domain.NetworkRecord{
		NetworkID: a.subnet,
		CIDR:      spec.CIDR,
		Gateway:   spec.Gateway,
		Mode:      spec.Mode,
	}, nil
}

func (a *Adapter) DeleteNetwork(ctx context.Context, networkID string) error {
	return nil
}

func toAzureTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		v := v
		out[k] = &v
	}
	return out
}

func fromAzureTags(tags map[string]*string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func isNotFound(err error) bool {
	return err != nil && contains(err.Error(), "RESPONSE 404")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func classifyAzureError(verb, vmID string, err error) error {
	if isNotFound(err) {
		return errs.NewResourceMissing("vm", vmID)
	}
	return errs.NewPermanent("azure %s %q: %v", verb, vmID, err)
}

var _ platformcap.Capability = (*Adapter)(nil)
