package registry

import (
	"context"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// RecordDrift satisfies drift.Sink: it upserts the Drift record into the
// Registry's event-sourced store, keyed by DriftID, so pending drifts
// survive a restart and are visible to the Overseer's Monitor loop the same
// way VMs and labs are.
func (r *Registry) RecordDrift(ctx context.Context, d domain.Drift) error {
	r.mu.Lock()
	prev, existed := r.drifts[d.DriftID]
	r.drifts[d.DriftID] = d
	ref := domain.EntityRef{Kind: "drift", ID: d.DriftID}
	change := r.nextChange(ref, prevOrNil(existed, prev), d, domain.SourcePoll)
	r.mu.Unlock()

	return r.persistAndPublish(ctx, ref, d, change)
}

// ListDrifts returns every Drift matching filter.
func (r *Registry) ListDrifts(filter func(domain.Drift) bool) []domain.Drift {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Drift, 0, len(r.drifts))
	for _, d := range r.drifts {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	return out
}

// ResolveDrift marks a pending drift as reconciled or ignored.
func (r *Registry) ResolveDrift(ctx context.Context, driftID string, resolution domain.DriftResolution) error {
	r.mu.Lock()
	d, ok := r.drifts[driftID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	d.Resolution = resolution
	r.drifts[driftID] = d
	ref := domain.EntityRef{Kind: "drift", ID: driftID}
	change := r.nextChange(ref, d, d, domain.SourcePoll)
	r.mu.Unlock()

	return r.persistAndPublish(ctx, ref, d, change)
}
