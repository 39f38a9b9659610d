// Package pollingagent runs the tiered polling loops from spec §4.4 that
// keep the Registry's projection of platform-observed state current even
// when no orchestrator task is touching a VM: a fast tier watches VMs mid
// transition, a medium tier chases IP/guest-tools reporting, and a slow
// tier reconciles the adapter's full VM list against the Registry to feed
// drift detection.
//
// Grounded on the teacher's automation.Scheduler start/stop/tick shape,
// run three times over with different tickers instead of one.
package pollingagent

import (
	"context"
	"sync"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/internal/registry"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Tiers holds the three polling cadences (spec §4.4: "1s/10s/30-60s").
type Tiers struct {
	Fast   time.Duration // transitioning VMs: status only
	Medium time.Duration // running VMs missing a primary ip: GetVMIP
	Slow   time.Duration // full ListVMs reconciliation, feeds drift
}

// DefaultTiers matches the spec's named cadence, with the slow tier at the
// low end of its 30-60s range.
var DefaultTiers = Tiers{Fast: time.Second, Medium: 10 * time.Second, Slow: 30 * time.Second}

// DriftSink receives a disagreement between registry-expected and
// platform-observed state; internal/registry/drift implements it.
type DriftSink interface {
	Observe(ctx context.Context, expected, observed domain.VMRecord) error
}

// Agent polls one platform adapter on behalf of the Registry.
type Agent struct {
	cap   platformcap.Capability
	reg   *registry.Registry
	drift DriftSink
	tiers Tiers
	log   *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds an Agent for one platform's Capability.
func New(cap platformcap.Capability, reg *registry.Registry, drift DriftSink, tiers Tiers, log *logger.Logger) *Agent {
	if log == nil {
		log = logger.NewDefault("pollingagent")
	}
	return &Agent{cap: cap, reg: reg, drift: drift, tiers: tiers, log: log}
}

// Name satisfies system.Service.
func (a *Agent) Name() string { return "pollingagent:" + string(a.cap.PlatformID()) }

// PlatformID reports which platform this agent polls, so the Overseer's
// Sync loop can fan out across every registered Agent.
func (a *Agent) PlatformID() domain.PlatformID { return a.cap.PlatformID() }

// SyncNow runs the medium and slow tiers immediately, out of cadence. The
// Overseer's Sync loop (spec §4.5 loop 3, 60s interval) calls this to top
// up resources that fell behind Tier-1 cadence rather than waiting for the
// next scheduled tick.
func (a *Agent) SyncNow(ctx context.Context) {
	a.pollMissingIP(ctx)
	a.pollFullReconcile(ctx)
}

// Start launches the three tiered loops.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	a.wg.Add(3)
	go a.loop(runCtx, a.tiers.Fast, a.pollTransitioning)
	go a.loop(runCtx, a.tiers.Medium, a.pollMissingIP)
	go a.loop(runCtx, a.tiers.Slow, a.pollFullReconcile)

	a.log.WithField("platform", a.cap.PlatformID()).Info("polling agent started")
	return nil
}

// Stop cancels every loop and waits for them to return.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.running = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *Agent) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (a *Agent) pollTransitioning(ctx context.Context) {
	for _, vm := range a.reg.ListVMs(func(v domain.VMRecord) bool {
		return v.PlatformID == a.cap.PlatformID() && !v.Status.Terminal() &&
			(v.Status == domain.VMPending || v.Status == domain.VMCreating)
	}) {
		status, err := a.cap.GetVMStatus(ctx, vm.VMID)
		if err != nil {
			a.log.WithField("vm", vm.VMID).WithError(err).Warn("fast-tier poll failed")
			continue
		}
		a.reg.RecordPlatformHeartbeat(a.cap.PlatformID(), time.Now().UTC())
		if status == vm.Status {
			continue
		}
		vm.Status = status
		if _, err := a.reg.UpsertVM(ctx, vm, domain.SourcePoll); err != nil {
			a.log.WithField("vm", vm.VMID).WithError(err).Warn("fast-tier upsert failed")
		}
	}
}

func (a *Agent) pollMissingIP(ctx context.Context) {
	for _, vm := range a.reg.ListVMs(func(v domain.VMRecord) bool {
		return v.PlatformID == a.cap.PlatformID() && v.Status == domain.VMRunning && v.PrimaryIP == ""
	}) {
		ip, err := a.cap.GetVMIP(ctx, vm.VMID, a.tiers.Medium)
		if err != nil || ip == "" {
			continue
		}
		vm.PrimaryIP = ip
		if _, err := a.reg.UpsertVM(ctx, vm, domain.SourcePoll); err != nil {
			a.log.WithField("vm", vm.VMID).WithError(err).Warn("medium-tier upsert failed")
		}
	}
}

func (a *Agent) pollFullReconcile(ctx context.Context) {
	observed, err := a.cap.ListVMs(ctx, platformcap.VMFilter{})
	if err != nil {
		a.log.WithError(err).Warn("slow-tier reconcile failed")
		return
	}
	a.reg.RecordPlatformHeartbeat(a.cap.PlatformID(), time.Now().UTC())

	byID := make(map[string]domain.VMRecord, len(observed))
	for _, v := range observed {
		byID[v.VMID] = v
	}

	if a.drift == nil {
		return
	}
	for _, expected := range a.reg.ListVMs(func(v domain.VMRecord) bool { return v.PlatformID == a.cap.PlatformID() }) {
		observed, ok := byID[expected.VMID]
		if !ok {
			continue
		}
		if err := a.drift.Observe(ctx, expected, observed); err != nil {
			a.log.WithField("vm", expected.VMID).WithError(err).Warn("drift observation failed")
		}
	}
}
