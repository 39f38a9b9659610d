// Package proxmox implements platformcap.Capability against a Proxmox VE
// cluster for spec §6's "proxmox" platform kind.
//
// Grounded on cluster-api-provider-proxmox's pkg/proxmox/goproxmox
// (api_client.go): Node/Cluster lookup, VirtualMachine.Clone/Config/Start/
// Stop/Delete, and Cluster.CheckID/Resources are used exactly the way that
// provider uses them. Library: github.com/luthermonson/go-proxmox, the
// same client that provider wraps — no other Proxmox client appears
// anywhere in the retrieved corpus.
package proxmox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luthermonson/go-proxmox"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Config is the adapter's connection configuration (spec §6 platforms[]).
type Config struct {
	ID            domain.PlatformID
	Endpoint      string // base URL, e.g. "https://pve01.lab:8006"
	TokenID       string
	TokenSecret   string
	DefaultNode   string
	DefaultStorage string
	VerifyTLS     bool
}

// Adapter implements platformcap.Capability for one Proxmox cluster.
type Adapter struct {
	client  *proxmox.Client
	id      domain.PlatformID
	node    string
	storage string
	limiter *platformcap.RateLimiter
	log     *logger.Logger
}

// New builds an Adapter bound to one Proxmox cluster endpoint.
func New(cfg Config, limiter *platformcap.RateLimiter, log *logger.Logger) (*Adapter, error) {
	if log == nil {
		log = logger.NewDefault("platform.proxmox")
	}
	base := strings.TrimSuffix(cfg.Endpoint, "/") + "/api2/json"
	client := proxmox.NewClient(base,
		proxmox.WithAPIToken(cfg.TokenID, cfg.TokenSecret),
	)
	return &Adapter{
		client:  client,
		id:      cfg.ID,
		node:    cfg.DefaultNode,
		storage: cfg.DefaultStorage,
		limiter: limiter,
		log:     log,
	}, nil
}

func (a *Adapter) PlatformID() domain.PlatformID { return a.id }
func (a *Adapter) Kind() domain.PlatformKind     { return domain.PlatformProxmox }

// vmRef encodes Proxmox's two-part address (node, numeric vmid) into the
// opaque string id platformcap.Capability's callers pass around.
func vmRef(node string, vmid int) string { return node + "/" + strconv.Itoa(vmid) }

func splitRef(vmID string) (node string, vmid int, err error) {
	parts := strings.SplitN(vmID, "/", 2)
	if len(parts) != 2 {
		return "", 0, errs.NewValidation("vm_id", "malformed proxmox vm id %q, expected node/vmid", vmID)
	}
	n, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, errs.NewValidation("vm_id", "malformed proxmox vmid in %q: %v", vmID, convErr)
	}
	return parts[0], n, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) resolveVM(ctx context.Context, vmID string) (*proxmox.VirtualMachine, error) {
	nodeName, vmid, err := splitRef(vmID)
	if err != nil {
		return nil, err
	}
	node, err := a.client.Node(ctx, nodeName)
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "proxmox node %q unreachable: %v", nodeName, err)
	}
	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return nil, errs.NewResourceMissing("vm", vmID)
	}
	return vm, nil
}

// CreateVM allocates a fresh vmid and creates a bare VM (the live-ISO
// install path spec §4.2 falls back to when no template matches). It
// configures cores/memory/disk but leaves boot media to the caller, which
// matches the provider's own split between NewVirtualMachine and a
// separate ConfigureVM/attach-ISO step.
func (a *Adapter) CreateVM(ctx context.Context, spec domain.VMSpec) (domain.VMRecord, error) {
	if err := a.wait(ctx); err != nil {
		return domain.VMRecord{}, errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	cluster, err := a.client.Cluster(ctx)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox cluster unreachable: %v", err)
	}
	vmid, err := cluster.NextID(ctx)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox nextid: %v", err)
	}

	node, err := a.client.Node(ctx, a.node)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox node %q unreachable: %v", a.node, err)
	}

	task, err := node.NewVirtualMachine(ctx, vmid,
		proxmox.VirtualMachineOption{Name: "name", Value: spec.Name},
		proxmox.VirtualMachineOption{Name: "cores", Value: spec.Cores},
		proxmox.VirtualMachineOption{Name: "memory", Value: spec.MemoryMiB},
		proxmox.VirtualMachineOption{Name: "scsihw", Value: string(domain.ControllerVirtIOSCSI)},
		proxmox.VirtualMachineOption{Name: "tags", Value: joinTags(spec.Tags)},
	)
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("proxmox create vm %q: %v", spec.Name, err)
	}
	if err := task.Wait(ctx, time.Second, 2*time.Minute); err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox create vm %q task: %v", spec.Name, err)
	}

	return domain.VMRecord{
		VMID:       vmRef(a.node, vmid),
		PlatformID: a.id,
		Spec:       spec,
		Status:     domain.VMPending,
		Tags:       spec.Tags,
	}, nil
}

// CloneFromTemplate clones templateID and applies param before the VM
// boots, mirroring CloneVM+ConfigureVM in the grounding file.
func (a *Adapter) CloneFromTemplate(ctx context.Context, templateID string, spec domain.VMSpec, param domain.Parameterization) (domain.VMRecord, error) {
	if err := a.wait(ctx); err != nil {
		return domain.VMRecord{}, errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	_, tmplVMID, err := splitRef(templateID)
	if err != nil {
		return domain.VMRecord{}, err
	}

	node, err := a.client.Node(ctx, a.node)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox node %q unreachable: %v", a.node, err)
	}
	tmplVM, err := node.VirtualMachine(ctx, tmplVMID)
	if err != nil {
		return domain.VMRecord{}, errs.NewResourceMissing("template", templateID)
	}

	cluster, err := a.client.Cluster(ctx)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox cluster unreachable: %v", err)
	}
	newID, err := cluster.NextID(ctx)
	if err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox nextid: %v", err)
	}

	newVMID, task, err := tmplVM.Clone(ctx, &proxmox.VirtualMachineCloneOptions{
		NewID:   newID,
		Name:    spec.Name,
		Full:    1,
		Storage: a.storage,
		Target:  a.node,
	})
	if err != nil {
		return domain.VMRecord{}, errs.NewPermanent("proxmox clone %q from %q: %v", spec.Name, templateID, err)
	}
	if err := task.Wait(ctx, time.Second, 5*time.Minute); err != nil {
		return domain.VMRecord{}, errs.NewTransient(2*time.Second, "proxmox clone %q task: %v", spec.Name, err)
	}

	vmID := vmRef(a.node, newVMID)
	rec := domain.VMRecord{
		VMID:       vmID,
		PlatformID: a.id,
		Spec:       spec,
		Status:     domain.VMPending,
		Tags:       spec.Tags,
	}
	if err := a.InjectConfig(ctx, vmID, param); err != nil {
		return rec, err
	}

	if err := a.StartVM(ctx, vmID); err != nil {
		return rec, err
	}
	return rec, nil
}

// InjectConfig writes the cloud-init/cloudbase-init/autounattend payload
// Proxmox's own cloud-init drive understands, falling back to a plain
// cicustom snippet reference for anything it can't express natively.
func (a *Adapter) InjectConfig(ctx context.Context, vmID string, param domain.Parameterization) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}

	switch p := param.(type) {
	case domain.LinuxCloudInit:
		task, err := vm.Config(ctx,
			proxmox.VirtualMachineOption{Name: "ciuser", Value: "glassdome"},
			proxmox.VirtualMachineOption{Name: "sshkeys", Value: urlEncode(mustDecodeB64(p.SSHKeysBase64))},
			proxmox.VirtualMachineOption{Name: "ipconfig0", Value: "ip=dhcp"},
		)
		if err != nil {
			return errs.NewPermanent("proxmox inject linux cloud-init on %q: %v", vmID, err)
		}
		return a.waitTask(ctx, task)
	case domain.WindowsCloudbaseInit, domain.WindowsAutounattend, domain.PlatformAssigned:
		// Proxmox has no native cloudbase-init/autounattend channel; these
		// arms are injected via the NoCloud/ConfigDrive ISO built by
		// internal/cloudinit/iso and attached as ide2 by the caller before
		// InjectConfig runs, so there is nothing further to configure here.
		return nil
	default:
		return errs.NewPermanent("proxmox adapter: unsupported parameterization kind %T", p)
	}
}

func (a *Adapter) waitTask(ctx context.Context, task *proxmox.Task) error {
	if err := task.Wait(ctx, time.Second, time.Minute); err != nil {
		return errs.NewTransient(2*time.Second, "proxmox task wait: %v", err)
	}
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
	task, err := vm.Start(ctx)
	if err != nil {
		return errs.NewPermanent("proxmox start %q: %v", vmID, err)
	}
	return a.waitTask(ctx, task)
}

func (a *Adapter) StopVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}
	task, err := vm.Stop(ctx)
	if err != nil {
		return errs.NewPermanent("proxmox stop %q: %v", vmID, err)
	}
	return a.waitTask(ctx, task)
}

func (a *Adapter) RebootVM(ctx context.Context, vmID string) error {
	if err := a.wait(ctx); err != nil {
		return errs.NewTransient(time.Second, "rate limit wait: %v", err)
	}
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return err
	}
	task, err := vm.Reboot(ctx)
	if err != nil {
		return errs.NewPermanent("proxmox reboot %q: %v", vmID, err)
	}
	return a.waitTask(ctx, task)
}

// DeleteVM stops a running VM before deleting it, matching the grounding
// file's DeleteVM (spec §4.1: delete of an already-terminal vm is a no-op
// success).
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
	if vm.IsRunning() {
		stopTask, err := vm.Stop(ctx)
		if err != nil {
			return errs.NewPermanent("proxmox stop before delete %q: %v", vmID, err)
		}
		if err := a.waitTask(ctx, stopTask); err != nil {
			return err
		}
	}
	task, err := vm.Delete(ctx)
	if err != nil {
		return errs.NewPermanent("proxmox delete %q: %v", vmID, err)
	}
	return a.waitTask(ctx, task)
}

func (a *Adapter) GetVMStatus(ctx context.Context, vmID string) (domain.VMStatus, error) {
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		if errs.KindOf(err) == errs.ResourceMissing {
			return domain.VMDeleted, nil
		}
		return "", err
	}
	return mapStatus(string(vm.Status)), nil
}

func mapStatus(s string) domain.VMStatus {
	switch s {
	case "running":
		return domain.VMRunning
	case "stopped":
		return domain.VMStopped
	case "paused", "suspended":
		return domain.VMStopped
	default:
		return domain.VMPending
	}
}

// GetVMIP polls the QEMU guest agent's reported network interfaces (spec
// §4.1: "must use the platform's native guest-integration channel").
func (a *Adapter) GetVMIP(ctx context.Context, vmID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	vm, err := a.resolveVM(ctx, vmID)
	if err != nil {
		return "", err
	}
	for {
		ifaces, err := vm.AgentGetNetworkIFaces(ctx)
		if err == nil {
			for _, iface := range ifaces {
				if iface.Name == "lo" {
					continue
				}
				for _, addr := range iface.IPAddresses {
					if addr.IPAddressType == "ipv4" {
						return addr.IPAddress, nil
					}
				}
			}
		}
		if time.Now().After(deadline) {
			return "", errs.NewTransient(0, "proxmox guest agent on %q did not report an ipv4 address within %s", vmID, timeout)
		}
		select {
		case <-ctx.Done():
			return "", errs.NewTransient(0, "get vm ip %q cancelled: %v", vmID, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *Adapter) ListVMs(ctx context.Context, filter platformcap.VMFilter) ([]domain.VMRecord, error) {
	cluster, err := a.client.Cluster(ctx)
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "proxmox cluster unreachable: %v", err)
	}
	resources, err := cluster.Resources(ctx, "vm")
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "proxmox list vms: %v", err)
	}
	out := make([]domain.VMRecord, 0, len(resources))
	for _, r := range resources {
		if r.Template != 0 {
			continue
		}
		status := mapStatus(r.Status)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		out = append(out, domain.VMRecord{
			VMID:       vmRef(r.Node, int(r.VMID)),
			PlatformID: a.id,
			Spec:       domain.VMSpec{Name: r.Name},
			Status:     status,
			Tags:       splitTags(r.Tags),
		})
	}
	return out, nil
}

// ListTemplates finds every VM flagged as a template on the cluster,
// matching FindVMTemplateByTags's resource-scan pattern in the grounding
// file.
func (a *Adapter) ListTemplates(ctx context.Context) ([]platformcap.Template, error) {
	cluster, err := a.client.Cluster(ctx)
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "proxmox cluster unreachable: %v", err)
	}
	resources, err := cluster.Resources(ctx, "vm")
	if err != nil {
		return nil, errs.NewTransient(2*time.Second, "proxmox list templates: %v", err)
	}
	out := make([]platformcap.Template, 0)
	for _, r := range resources {
		if r.Template == 0 {
			continue
		}
		out = append(out, platformcap.Template{
			ID:   vmRef(r.Node, int(r.VMID)),
			Name: r.Name,
		})
	}
	return out, nil
}

// ListNetworks and CreateNetwork/DeleteNetwork treat Proxmox bridges as
// pre-existing host configuration rather than an API-managed resource
// (Proxmox has no per-lab SDN concept in the base product): CreateNetwork
// validates the requested VLAN and records it in the Registry; the
// underlying bridge must already exist on every node in the cluster.
func (a *Adapter) ListNetworks(ctx context.Context) ([]domain.NetworkRecord, error) {
	return nil, nil
}

func (a *Adapter) CreateNetwork(ctx context.Context, spec domain.NetworkSpec) (domain.NetworkRecord, error) {
	if spec.VLANTag < 0 || spec.VLANTag > 4094 {
		return domain.NetworkRecord{}, errs.NewValidation("vlan_tag", "vlan tag %d out of range for network %q", spec.VLANTag, spec.Name)
	}
	return domain.NetworkRecord{
		NetworkID: fmt.Sprintf("%s:vlan%d", a.id, spec.VLANTag),
		CIDR:      spec.CIDR,
		Gateway:   spec.Gateway,
		VLANTag:   spec.VLANTag,
		Mode:      spec.Mode,
	}, nil
}

func (a *Adapter) DeleteNetwork(ctx context.Context, networkID string) error {
	return nil
}

func joinTags(tags map[string]string) string {
	var parts []string
	for k, v := range tags {
		parts = append(parts, strings.ToLower(k+"_"+v))
	}
	return strings.Join(parts, ";")
}

func splitTags(tags string) map[string]string {
	if tags == "" {
		return nil
	}
	out := make(map[string]string)
	for _, t := range strings.Split(tags, ";") {
		if t == "" {
			continue
		}
		out[t] = "true"
	}
	return out
}

func mustDecodeB64(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

func urlEncode(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}

var _ platformcap.Capability = (*Adapter)(nil)
