package registry

import (
	"context"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

const overseerHealthID = "singleton"

// UpsertOverseerHealth publishes the Overseer's Health-loop self-check into
// the Registry, same event-sourced path as every other entity, so CLI
// `status` and future dashboards can subscribe to it like anything else.
func (r *Registry) UpsertOverseerHealth(ctx context.Context, h domain.OverseerHealth) error {
	r.mu.Lock()
	prev := r.overseerHealth
	r.overseerHealth = h
	ref := domain.EntityRef{Kind: "overseer_health", ID: overseerHealthID}
	change := r.nextChange(ref, prev, h, domain.SourcePoll)
	r.mu.Unlock()

	return r.persistAndPublish(ctx, ref, h, change)
}

// GetOverseerHealth returns the most recently published self-check.
func (r *Registry) GetOverseerHealth() domain.OverseerHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overseerHealth
}
