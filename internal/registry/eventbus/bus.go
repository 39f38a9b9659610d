// Package eventbus implements the Registry's pub/sub transport (spec §4.4):
// every accepted StateChange is published here, and cursor-based
// subscribers replay from a given version before tailing new events,
// tolerating at-least-once delivery (a subscriber must dedupe by Version).
package eventbus

import (
	"context"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// Bus is the transport contract the Registry core publishes through and
// pollingagent/overseer subscribers consume. Two implementations exist:
// Memory (default, in-process) and Redis (multi-process, spec §9 "a
// Registry process restart must not lose undelivered events").
type Bus interface {
	Publish(ctx context.Context, change domain.StateChange) error
	// Subscribe returns a channel delivering every StateChange with
	// Version > fromVersion for entityKind (or every kind, if entityKind is
	// empty), replaying history before tailing live events. The channel is
	// closed when ctx is cancelled.
	Subscribe(ctx context.Context, entityKind string, fromVersion uint64) (<-chan domain.StateChange, error)
}
