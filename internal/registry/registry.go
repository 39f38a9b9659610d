// Package registry implements the Lab Registry from spec §4.4: the
// authoritative, event-sourced store of VM/network/lab/request state. Every
// accepted write appends a StateChange with a strictly-increasing
// per-entity version, publishes it on an eventbus.Bus, and persists it
// through persistence.Store; reads always come from the in-memory
// projection, never the log.
//
// Grounded on the teacher's internal/app/storage package shape: a thin,
// mutex-protected map-of-records core (internal/app/storage/memory.go) with
// a swappable backend, generalized here from request/response CRUD to an
// append-only, versioned, subscribable log.
package registry

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/registry/eventbus"
	"github.com/ntounix-prog/glassdome/internal/registry/persistence"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// Registry is the Lab Registry's in-process core.
type Registry struct {
	mu    sync.RWMutex
	bus   eventbus.Bus
	store *persistence.Store

	version uint64 // global monotonic counter; StateChange.Version is assigned from this

	vms      map[string]domain.VMRecord
	networks map[string]domain.NetworkRecord
	labs     map[string]domain.LabRecord
	requests map[string]domain.Request
	drifts   map[string]domain.Drift

	health         *platformHealth
	overseerHealth domain.OverseerHealth
}

// New builds an empty Registry. bus and store may be nil for tests that
// don't need transport or persistence.
func New(bus eventbus.Bus, store *persistence.Store) *Registry {
	return &Registry{
		bus:      bus,
		store:    store,
		vms:      make(map[string]domain.VMRecord),
		networks: make(map[string]domain.NetworkRecord),
		labs:     make(map[string]domain.LabRecord),
		requests: make(map[string]domain.Request),
		drifts:   make(map[string]domain.Drift),
		health:   newPlatformHealth(),
	}
}

// Restore rebuilds the in-memory projection from persisted snapshots and
// the event log tail (spec §4.4 "Registry restart must rebuild in-memory
// state"). Call once, before serving any traffic.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	if err := loadSnapshots(r.store, "vm", &r.vms); err != nil {
		return err
	}
	if err := loadSnapshots(r.store, "network", &r.networks); err != nil {
		return err
	}
	if err := loadSnapshots(r.store, "lab", &r.labs); err != nil {
		return err
	}
	if err := loadSnapshots(r.store, "request", &r.requests); err != nil {
		return err
	}
	if err := loadSnapshots(r.store, "drift", &r.drifts); err != nil {
		return err
	}

	return r.store.ReplayEvents(func(change domain.StateChange) error {
		if change.Version > r.version {
			r.version = change.Version
		}
		return nil
	})
}

// UpsertVM records spec's resulting state transition for vmID (spec §4.4
// upsert: idempotent by VMID — a StateChange is generated only when the
// content differs from the prior value; an unchanged re-upsert, such as a
// tier-1 polling agent re-observing a steady-state VM every second, is a
// silent no-op beyond refreshing the in-memory record's UpdatedAt).
func (r *Registry) UpsertVM(ctx context.Context, rec domain.VMRecord, source domain.ChangeSource) (domain.VMRecord, error) {
	r.mu.Lock()
	prev, existed := r.vms[rec.VMID]
	rec.UpdatedAt = now()
	if !existed {
		rec.CreatedAt = rec.UpdatedAt
	} else {
		rec.CreatedAt = prev.CreatedAt
	}
	changed := !existed || !vmContentEqual(prev, rec)
	r.vms[rec.VMID] = rec
	if !changed {
		r.mu.Unlock()
		return rec, nil
	}
	ref := domain.EntityRef{Kind: "vm", ID: rec.VMID}
	change := r.nextChange(ref, prevOrNil(existed, prev), rec, source)
	r.mu.Unlock()

	if err := r.persistAndPublish(ctx, ref, rec, change); err != nil {
		return rec, err
	}
	return rec, nil
}

// vmContentEqual reports whether a and b are identical apart from UpdatedAt,
// which the registry stamps on every call regardless of caller content.
func vmContentEqual(a, b domain.VMRecord) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// GetVM returns the current record for vmID.
func (r *Registry) GetVM(vmID string) (domain.VMRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.vms[vmID]
	return rec, ok
}

// ListVMs returns every VM matching filter (empty fields match anything).
func (r *Registry) ListVMs(filter func(domain.VMRecord) bool) []domain.VMRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VMRecord, 0, len(r.vms))
	for _, v := range r.vms {
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out
}

// UpsertNetwork is NetworkRecord's half of UpsertVM: idempotent, emits a
// StateChange only when content differs from the prior value.
func (r *Registry) UpsertNetwork(ctx context.Context, rec domain.NetworkRecord, source domain.ChangeSource) (domain.NetworkRecord, error) {
	r.mu.Lock()
	prev, existed := r.networks[rec.NetworkID]
	changed := !existed || !reflect.DeepEqual(prev, rec)
	r.networks[rec.NetworkID] = rec
	if !changed {
		r.mu.Unlock()
		return rec, nil
	}
	ref := domain.EntityRef{Kind: "network", ID: rec.NetworkID}
	change := r.nextChange(ref, prevOrNil(existed, prev), rec, source)
	r.mu.Unlock()

	if err := r.persistAndPublish(ctx, ref, rec, change); err != nil {
		return rec, err
	}
	return rec, nil
}

// GetNetwork returns the current record for networkID.
func (r *Registry) GetNetwork(networkID string) (domain.NetworkRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.networks[networkID]
	return rec, ok
}

// UpsertLab is LabRecord's half of UpsertVM: idempotent, emits a StateChange
// only when content differs from the prior value.
func (r *Registry) UpsertLab(ctx context.Context, rec domain.LabRecord, source domain.ChangeSource) (domain.LabRecord, error) {
	r.mu.Lock()
	prev, existed := r.labs[rec.LabID]
	changed := !existed || !reflect.DeepEqual(prev, rec)
	r.labs[rec.LabID] = rec
	if !changed {
		r.mu.Unlock()
		return rec, nil
	}
	ref := domain.EntityRef{Kind: "lab", ID: rec.LabID}
	change := r.nextChange(ref, prevOrNil(existed, prev), rec, source)
	counts := r.labStatusCountsLocked()
	r.mu.Unlock()

	for status, n := range counts {
		metrics.LabsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	if err := r.persistAndPublish(ctx, ref, rec, change); err != nil {
		return rec, err
	}
	return rec, nil
}

// labStatusCountsLocked tallies labs per status; must be called with r.mu held.
func (r *Registry) labStatusCountsLocked() map[domain.LabStatus]int {
	counts := make(map[domain.LabStatus]int)
	for _, l := range r.labs {
		counts[l.Status]++
	}
	return counts
}

// GetLab returns the current record for labID.
func (r *Registry) GetLab(labID string) (domain.LabRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.labs[labID]
	return rec, ok
}

// ListLabs returns every lab matching filter.
func (r *Registry) ListLabs(filter func(domain.LabRecord) bool) []domain.LabRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.LabRecord, 0, len(r.labs))
	for _, l := range r.labs {
		if filter == nil || filter(l) {
			out = append(out, l)
		}
	}
	return out
}

// UpsertRequest is Request's half of UpsertVM: idempotent, emits a
// StateChange only when content differs from the prior value.
func (r *Registry) UpsertRequest(ctx context.Context, req domain.Request, source domain.ChangeSource) (domain.Request, error) {
	r.mu.Lock()
	prev, existed := r.requests[req.RequestID]
	changed := !existed || !reflect.DeepEqual(prev, req)
	r.requests[req.RequestID] = req
	if !changed {
		r.mu.Unlock()
		return req, nil
	}
	ref := domain.EntityRef{Kind: "request", ID: req.RequestID}
	change := r.nextChange(ref, prevOrNil(existed, prev), req, source)
	r.mu.Unlock()

	if err := r.persistAndPublish(ctx, ref, req, change); err != nil {
		return req, err
	}
	return req, nil
}

// GetRequest returns the current record for requestID.
func (r *Registry) GetRequest(requestID string) (domain.Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[requestID]
	return req, ok
}

// ListRequests returns every Request matching filter, for overseer-cli's
// `requests` command and any operator-facing audit view.
func (r *Registry) ListRequests(filter func(domain.Request) bool) []domain.Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Request, 0, len(r.requests))
	for _, req := range r.requests {
		if filter == nil || filter(req) {
			out = append(out, req)
		}
	}
	return out
}

// Subscribe exposes the underlying bus's cursor-based subscription; callers
// (pollingagent, overseer, CLI watch commands) never touch eventbus
// directly.
func (r *Registry) Subscribe(ctx context.Context, entityKind string, fromVersion uint64) (<-chan domain.StateChange, error) {
	if r.bus == nil {
		ch := make(chan domain.StateChange)
		close(ch)
		return ch, nil
	}
	return r.bus.Subscribe(ctx, entityKind, fromVersion)
}

// nextChange assigns the next global version and builds the StateChange;
// must be called with r.mu held.
func (r *Registry) nextChange(ref domain.EntityRef, prev, next any, source domain.ChangeSource) domain.StateChange {
	r.version++
	return domain.StateChange{
		Version:    r.version,
		EntityRef:  ref,
		Prev:       prev,
		Next:       next,
		DetectedAt: now(),
		Source:     source,
	}
}

func (r *Registry) persistAndPublish(ctx context.Context, ref domain.EntityRef, record any, change domain.StateChange) error {
	if r.store != nil {
		if err := r.store.SaveSnapshot(ref, record); err != nil {
			return err
		}
		if err := r.store.AppendEvent(change); err != nil {
			return err
		}
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, change); err != nil {
			return errs.Wrap(errs.NewTransient(time.Second, "publish state change for %s", ref), err)
		}
	}
	return nil
}

func prevOrNil(existed bool, prev any) any {
	if !existed {
		return nil
	}
	return prev
}

var now = func() time.Time { return time.Now().UTC() }
