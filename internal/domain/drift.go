package domain

import "time"

// DriftResolution is the lifecycle of a detected Drift record.
type DriftResolution string

const (
	DriftPending     DriftResolution = "pending"
	DriftReconciled  DriftResolution = "reconciled"
	DriftIgnored     DriftResolution = "ignored"
)

// Drift captures a disagreement between the orchestrator-declared expected
// state of an entity and what a polling agent most recently observed (spec
// §4.4 "Drift detection"). The declared drift-set fields are status,
// primary_ip, cores, memory, attached networks.
type Drift struct {
	DriftID    string
	EntityRef  EntityRef
	Field      string
	Expected   string
	Observed   string
	DetectedAt time.Time
	Resolution DriftResolution
}
