package overseer

import "context"

// tickSync is the Sync loop (spec §4.5 loop 3, 60s default): drive
// polling-agent fanout so actively watched resources that fell behind
// their Tier-1 cadence get topped up without waiting for the next
// scheduled tick. Each registered Syncer (one per configured platform) is
// nudged independently; a slow or unreachable platform never blocks the
// others since SyncNow is expected to respect ctx itself.
func (o *Overseer) tickSync(ctx context.Context) {
	for _, s := range o.syncers {
		s.SyncNow(ctx)
	}
}
