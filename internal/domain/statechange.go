package domain

import "time"

// ChangeSource identifies who observed or caused a StateChange.
type ChangeSource string

const (
	SourceOrchestrator ChangeSource = "orchestrator"
	SourcePoll         ChangeSource = "poll"
	SourceManual       ChangeSource = "manual"
)

// EntityRef names one addressable entity in the Registry's change log. Kind
// is one of "vm", "network", "lab", "request", "platform".
type EntityRef struct {
	Kind string
	ID   string
}

func (r EntityRef) String() string { return r.Kind + "/" + r.ID }

// StateChange is one append-only event in the Registry's change log. Per
// spec §3 invariant, Version is strictly greater than the prior event for
// the same EntityRef, and the log is totally ordered per EntityRef.
type StateChange struct {
	Version    uint64
	EntityRef  EntityRef
	Prev       any
	Next       any
	DetectedAt time.Time
	Source     ChangeSource
	Error      *ChangeError // populated when this change represents a failure
}

// ChangeError is the structured error payload a StateChange carries when it
// represents a failure surfaced through the Registry (spec §7 propagation
// policy: "Overseer surfaces all failures via the Registry").
type ChangeError struct {
	Kind          string
	Message       string
	CorrelationID string
}
