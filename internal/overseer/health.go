package overseer

import (
	"context"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// tickHealth is the Health loop (spec §4.5 loop 4, 300s default): publish
// an Overseer-health entity into the Registry recording queue depth and
// per-platform reachability as of this check, for a future dashboard or
// `overseer-cli status` to read back.
func (o *Overseer) tickHealth(ctx context.Context) {
	reachable := make(map[domain.PlatformID]bool, len(o.platforms))
	horizon := o.policy.Gating.FreshnessHorizon
	if horizon <= 0 {
		horizon = time.Minute
	}
	now := timeNow()
	for id := range o.platforms {
		lastPoll, polled := o.reg.PlatformLastPoll(id)
		ok := polled && now.Sub(lastPoll) <= horizon
		reachable[id] = ok
		value := 0.0
		if ok {
			value = 1.0
		}
		metrics.PlatformReachable.WithLabelValues(string(id)).Set(value)
	}

	h := domain.OverseerHealth{
		CheckedAt:         now,
		QueueDepth:        o.queueDepth(),
		MonitorElapsed:    o.lastElapsed("monitor"),
		SyncElapsed:       o.lastElapsed("sync"),
		HealthElapsed:     o.lastElapsed("health"),
		PlatformReachable: reachable,
	}
	if err := o.reg.UpsertOverseerHealth(ctx, h); err != nil {
		o.log.WithError(err).Warn("health: failed to publish overseer health")
	}
}
