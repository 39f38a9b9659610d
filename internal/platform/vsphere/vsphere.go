// Package vsphere implements platformcap.Capability against VMware
// vSphere/ESXi for spec §6's "esxi" platform kind.
//
// Grounded on cluster-api-provider-vsphere's govmomi provisioner
// (cloud/vsphere/provisioner/govmomi): a soap.ParseURL + govmomi.NewClient
// session, a find.Finder scoped to a datacenter, and
// types.VirtualMachineCloneSpec-driven cloning. That package predates
// object.VirtualMachine's modern helper methods, so this adapter calls
// through object.VirtualMachine/object.Task directly — the same
// github.com/vmware/govmomi the grounding file imports, used the way the
// rest of the govmomi ecosystem (and cluster-api-provider-vsphere's newer
// controllers) calls it.
package vsphere

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Config is the adapter's connection configuration (spec §6 platforms[]).
type Config struct {
	ID             domain.PlatformID
	Endpoint       string // https://vcenter.lab/sdk
	User           string
	Password       string
	Datacenter     string
	Datastore      string
	ResourcePool   string
	Folder         string
	VerifyTLS      bool
}

// Adapter implements platformcap.Capability for one vSphere vCenter/ESXi
// endpoint.
type Adapter struct {
	client  *govmomi.Client
	finder  *find.Finder
	id      domain.PlatformID
	cfg     Config
	limiter *platformcap.RateLimiter
	log     *logger.Logger
}

// New authenticates against cfg.Endpoint and scopes a Finder to cfg.Datacenter.
func New(ctx context.Context, cfg Config, limiter *platformcap.RateLimiter, log *logger.Logger) (*Adapter, error) {
	if log == nil {
		log = logger.NewDefault("platform.vsphere")
	}
	u, err := soap.ParseURL(cfg.Endpoint)
	if err != nil || u == nil {
		return nil, errs.NewValidation("endpoint", "invalid vsphere endpoint %q: %v", cfg.Endpoint, err)
	}
	u.User = url.UserPassword(cfg.User, cfg.Password)

	client, err := govmomi.NewClient(ctx, u, !cfg.VerifyTLS)
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "vsphere login %q: %v", cfg.Endpoint, err)
	}

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.DatacenterOrDefault(ctx, cfg.Datacenter)
	if err != nil {
		return nil, errs.NewPermanent("vsphere datacenter %q: %v", cfg.Datacenter, err)
	}
	finder.SetDatacenter(dc)

	return &Adapter{client: client, finder: finder, id: cfg.ID, cfg: cfg, limiter: limiter, log: log}, nil
}

func (a *Adapter) PlatformID() domain.PlatformID { return a.id }
func (a *Adapter) Kind() domain.PlatformKind     { return domain.PlatformESXi }

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) resolveVM(ctx context.Context, vmID string) (*object.VirtualMachine, error) {
	vm, err := a.finder.VirtualMachine(ctx, vmID)
	if err != nil {
		return nil, errs.NewResourceMissing("vm", vmID)
	}
	return vm, nil
}

// CreateVM is unsupported without a template on vSphere (spec §9 Open
// Questions resolves this adapter to clone-only; a bare-metal OVF import
// path is out of scope). Callers always reach this through
// osprovisioner, which only calls CreateVM when ListTemplates found
// nothing — that is itself a Permanent failure for this platform.
func (a *Adapter) CreateVM(ctx context.Context, spec domain.VMSpec) (domain.VMRecord, error) {
	return domain.VMRecord{}, errs.NewPermanent("vsphere adapter requires a template; no live-iso install path is implemented for %q", spec.Name)
}

// CloneFromTemplate clones templateID's VM into cfg.Folder/ResourcePool/
// Datastore and applies param as OVF/ExtraConfig properties before power-on
// (spec §4.1 clone-and-inject path).
func (a *Adapter) CloneFromTemplate(ctx context.Context, templateID string, spec domain.VMSpec, param domain.Parameterization) (domain.VMRecord, error) {
	if err := a.wait(ctx); err != nil {
		return domain.VMRecord{}, errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	tmpl, err := a.finder.VirtualMachine(ctx, templateID)
	if err != nil {
		return domain.VMRecord{}, errs.NewResourceMissing("template", templateID)
	}

	pool, err := a.finder.ResourcePoolOrDefault(ctx, a.cfg.ResourcePool)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("vsphere resource pool %q: %v", a.cfg.ResourcePool, err)
	}
	folder, err := a.finder.FolderOrDefault(ctx, a.cfg.Folder)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("vsphere folder %q: %v", a.cfg.Folder, err)
	}
	ds, err := a.finder.DatastoreOrDefault(ctx, a.cfg.Datastore)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("vsphere datastore %q: %v", a.cfg.Datastore, err)
	}
	dsRef := ds.Reference()
	poolRef := pool.Reference()

	extraConfig, err := extraConfigFor(param)
	if err != nil {
		return domain.VMRecord{}, err
	}

	cloneSpec := types.VirtualMachineCloneSpec{
		Location: types.VirtualMachineRelocateSpec{
			Pool:      &poolRef,
			Datastore: &dsRef,
		},
		Config: &types.VirtualMachineConfigSpec{
			NumCPUs:      int32(spec.Cores),
			MemoryMB:     int64(spec.MemoryMiB),
			ExtraConfig:  extraConfig,
		},
		PowerOn: false,
	}

	task, err := tmpl.Clone(ctx, folder, spec.Name, cloneSpec)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("vsphere clone %q from %q: %v", spec.Name, templateID, err)
	}
	result, err := task.WaitForResult(ctx, nil)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "vsphere clone %q task: %v", spec.Name, err)
	}

	newVM := object.NewVirtualMachine(a.client.Client, result.Result.(types.ManagedObjectReference))
	inventoryPath, err := object.NewCommon(a.client.Client, newVM.Reference()).ObjectName(ctx)
	vmID := spec.Name
	if err == nil && inventoryPath != "" {
		vmID = inventoryPath
	}

	if powerTask, err := newVM.PowerOn(ctx); err == nil {
		_ = powerTask.Wait(ctx)
	}

	return domain.VMRecord{
		VMID:       vmID,
		PlatformID: a.id,
		Spec:       spec,
		Status:     domain.VMPending,
		Tags:       spec.Tags,
	}, nil
}

// extraConfigFor renders param into vSphere guestinfo ExtraConfig entries.
// Linux guests with cloud-init-enabled templates read guestinfo.userdata/
// metadata (base64); anything else (Windows, platform-assigned) is folded
// into a NoCloud/ConfigDrive ISO by internal/cloudinit/iso and attached as
// a CD-ROM by the caller, so it needs no ExtraConfig entry here.
func extraConfigFor(param domain.Parameterization) ([]types.BaseOptionValue, error) {
	li, ok := param.(domain.LinuxCloudInit)
	if !ok {
		return nil, nil
	}
	return []types.BaseOptionValue{
		&types.OptionValue{Key: "guestinfo.userdata", Value: li.UserData},
		&types.OptionValue{Key: "guestinfo.userdata.encoding", Value: "base64"},
		&types.OptionValue{Key: "guestinfo.metadata", Value: li.MetaData},
		&types.OptionValue{Key: "guestinfo.metadata.encoding", Value: "base64"},
	}, nil
}

// InjectConfig is a no-op on vSphere: parameterization is applied as
// ExtraConfig at clone time (CloneFromTemplate) or via an attached
// NoCloud ISO the caller mounts directly through the adapter's CD-ROM
// device, not through this API.
func (a *Adapter) InjectConfig(ctx context.Context, vmID string, param domain.Parameterization) error {
	return nil
}

func (a *Adapter) StartVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}
	task, err := vm.PowerOn(ctx)
	if err != nil {
		return errs.NewPermanent("vsphere power on %q: %v", vmID, err)
	}
	if err := task.Wait(ctx); err != nil {
		return errs.NewTransient(2*time.Second, "vsphere power on %q task: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) StopVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}
	task, err := vm.PowerOff(ctx)
	if err != nil {
		return errs.NewPermanent("vsphere power off %q: %v", vmID, err)
	}
	if err := task.Wait(ctx); err != nil {
		return errs.NewTransient(2*time.Second, "vsphere power off %q task: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) RebootVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}
	if err := vm.RebootGuest(ctx); err != nil {
		return errs.NewPermanent("vsphere reboot %q: %v", vmID, err)
	}
	return nil
}

// DeleteVM powers off (if running) then destroys the VM; deleting an
// already-absent VM is a no-op success (spec §4.1).
func (a *Adapter) DeleteVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		if errs.KindOf(err) == errs.ResourceMissing {
			return nil
		}
		return err
	}

	var o mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"runtime.powerState"}, &o); err == nil {
		if o.Runtime.PowerState == types.VirtualMachinePowerStatePoweredOn {
			if task, err := vm.PowerOff(ctx); err == nil {
				_ = task.Wait(ctx)
			}
		}
	}

	task, err := vm.Destroy(ctx)
	if err != nil {
		return errs.NewPermanent("vsphere destroy %q: %v", vmID, err)
	}
	if err := task.Wait(ctx); err != nil {
		return errs.NewTransient(2*time.Second, "vsphere destroy %q task: %v", vmID, err)
	}
	return nil
}

func (a *Adapter) GetVMStatus(ctx context.Context, vmID string) (domain.VMStatus, error) {
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		if errs.KindOf(err) == errs.ResourceMissing {
			return domain.VMDeleted, nil
		}
		return "", err
	}
	var o mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"runtime.powerState"}, &o); err != nil {
		return "", errs.NewTransient(2*time.Second, "vsphere properties %q: %v", vmID, err)
	}
	switch o.Runtime.PowerState {
	case types.VirtualMachinePowerStatePoweredOn:
		return domain.VMRunning, nil
	case types.VirtualMachinePowerStatePoweredOff:
		return domain.VMStopped, nil
	default:
		return domain.VMPending, nil
	}
}

// GetVMIP polls VMware Tools' reported guest.ipAddress (spec §4.1: "must
// use the platform's native guest-integration channel").
func (a *Adapter) GetVMIP(ctx context.Context, vmID string, timeout time.Duration) (string, error) {
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(timeout)
	for {
		var o mo.VirtualMachine
		if err := vm.Properties(ctx, vm.Reference(), []string{"guest.ipAddress"}, &o); err == nil {
			if o.Guest != nil && o.Guest.IpAddress != "" {
				return o.Guest.IpAddress, nil
			}
		}
		if time.Now().After(deadline) {
			return "", errs.NewTransient(0, "vmware tools on %q did not report an ip within %s", vmID, timeout)
		}
		select {
		case <-ctx.Done():
			return "", errs.NewTransient(0, "get vm ip %q cancelled: %v", vmID, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *Adapter) ListVMs(ctx context.Context, filter platformcap.VMFilter) ([]domain.VMRecord, error) {
	vms, err := a.finder.VirtualMachineList(ctx, "*")
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return nil, nil
		}
		return nil, errs.NewTransient(2*time.Second, "vsphere list vms: %v", err)
	}

	refs := make([]types.ManagedObjectReference, len(vms))
	for i, vm := range vms {
		refs[i] = vm.Reference()
	}
	var infos []mo.VirtualMachine
	pc := property.DefaultCollector(a.client.Client)
	if err := pc.Retrieve(ctx, refs, []string{"name", "runtime.powerState", "config.extraConfig"}, &infos); err != nil {
		return nil, errs.NewTransient(2*time.Second, "vsphere retrieve vm properties: %v", err)
	}

	out := make([]domain.VMRecord, 0, len(infos))
	for _, info := range infos {
		var status domain.VMStatus
		switch info.Runtime.PowerState {
		case types.VirtualMachinePowerStatePoweredOn:
			status = domain.VMRunning
		case types.VirtualMachinePowerStatePoweredOff:
			status = domain.VMStopped
		default:
			status = domain.VMPending
		}
		if filter.Status != "" && status != filter.Status {
			continue
		}
		out = append(out, domain.VMRecord{
			VMID:       info.Name,
			PlatformID: a.id,
			Spec:       domain.VMSpec{Name: info.Name},
			Status:     status,
		})
	}
	return out, nil
}

// ListTemplates lists every VM under cfg.Folder whose name carries the
// "-template" suffix convention; vSphere has no first-class "is template"
// distinction surfaced by the Finder beyond config.template, which this
// keeps simple by convention rather than an extra property fetch.
func (a *Adapter) ListTemplates(ctx context.Context) ([]platformcap.Template, error) {
	vms, err := a.finder.VirtualMachineList(ctx, "*-template")
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return nil, nil
		}
		return nil, errs.NewTransient(2*time.Second, "vsphere list templates: %v", err)
	}
	out := make([]platformcap.Template, 0, len(vms))
	for _, vm := range vms {
		name := strings.TrimSuffix(vm.Name(), "-template")
		out = append(out, platformcap.Template{ID: vm.InventoryPath, Name: name})
	}
	return out, nil
}

// ListNetworks, CreateNetwork and DeleteNetwork are no-ops here: vSphere
// port groups are provisioned out of band (standard/distributed vSwitch
// configuration on the host, spec §6's scope is VM lifecycle, not SDN).
// CreateNetwork resolves an existing port group by VLAN-tag-encoded name.
func (a *Adapter) ListNetworks(ctx context.Context) ([]domain.NetworkRecord, error) {
	return nil, nil
}

func (a *Adapter) CreateNetwork(ctx context.Context, spec domain.NetworkSpec) (domain.NetworkRecord, error) {
	name := spec.Name
	if _, err := a.finder.Network(ctx, name); err != nil {
		return domain.NetworkRecord{}, errs.NewPermanent("vsphere port group %q not found; create it on the vSwitch first: %v", name, err)
	}
	return domain.NetworkRecord{
		NetworkID: fmt.Sprintf("%s:%s", a.id, name),
		CIDR:      spec.CIDR,
		Gateway:   spec.Gateway,
		VLANTag:   spec.VLANTag,
		Mode:      spec.Mode,
	}, nil
}

func (a *Adapter) DeleteNetwork(ctx context.Context, networkID string) error {
	return nil
}

var _ platformcap.Capability = (*Adapter)(nil)
