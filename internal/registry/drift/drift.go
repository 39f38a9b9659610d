// Package drift implements the drift-detection half of spec §4.4: compare
// the Registry's orchestrator-declared expected VM state against what the
// slow-tier poll most recently observed, across the field set the spec
// names (status, primary_ip, cores, memory, attached networks), and record
// a Drift record for anything that disagrees.
package drift

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// Sink persists or republishes a detected Drift; internal/registry.Registry
// satisfies a narrower version of this via UpsertDrift-style wiring left to
// the caller composing the two packages.
type Sink interface {
	RecordDrift(ctx context.Context, d domain.Drift) error
}

// Detector compares expected vs observed VMRecords and reports disagreement
// through a Sink. It keeps no state of its own beyond an id counter.
type Detector struct {
	sink Sink

	mu      sync.Mutex
	counter uint64
}

// New builds a Detector reporting through sink.
func New(sink Sink) *Detector {
	return &Detector{sink: sink}
}

// Observe compares expected (registry's belief) against observed (the
// adapter's latest poll) and reports one Drift record per disagreeing
// field. A VM that has been deliberately deleted (expected.DeletedAt set)
// is never compared: post-teardown platform lag isn't drift.
func (d *Detector) Observe(ctx context.Context, expected, observed domain.VMRecord) error {
	if !expected.DeletedAt.IsZero() {
		return nil
	}

	for _, field := range diff(expected, observed) {
		rec := domain.Drift{
			DriftID:    d.nextID(),
			EntityRef:  domain.EntityRef{Kind: "vm", ID: expected.VMID},
			Field:      field.name,
			Expected:   field.expected,
			Observed:   field.observed,
			DetectedAt: now(),
			Resolution: domain.DriftPending,
		}
		if err := d.sink.RecordDrift(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type fieldDiff struct {
	name     string
	expected string
	observed string
}

// diff compares the drift-set fields named in spec §4.4: status, primary_ip,
// cores, memory, and attached networks.
func diff(expected, observed domain.VMRecord) []fieldDiff {
	var out []fieldDiff
	if expected.Status != observed.Status {
		out = append(out, fieldDiff{"status", string(expected.Status), string(observed.Status)})
	}
	if expected.PrimaryIP != "" && observed.PrimaryIP != "" && expected.PrimaryIP != observed.PrimaryIP {
		out = append(out, fieldDiff{"primary_ip", expected.PrimaryIP, observed.PrimaryIP})
	}
	if expected.Spec.Cores != 0 && observed.Spec.Cores != 0 && expected.Spec.Cores != observed.Spec.Cores {
		out = append(out, fieldDiff{"cores", itoa(expected.Spec.Cores), itoa(observed.Spec.Cores)})
	}
	if expected.Spec.MemoryMiB != 0 && observed.Spec.MemoryMiB != 0 && expected.Spec.MemoryMiB != observed.Spec.MemoryMiB {
		out = append(out, fieldDiff{"memory_mib", itoa(expected.Spec.MemoryMiB), itoa(observed.Spec.MemoryMiB)})
	}
	if netDiff := networkSetDiff(expected.Spec.Networks, observed.Spec.Networks); netDiff != "" {
		out = append(out, fieldDiff{"networks", networkSetString(expected.Spec.Networks), networkSetString(observed.Spec.Networks)})
	}
	return out
}

func networkSetDiff(expected, observed []domain.NetworkAttachment) string {
	if networkSetString(expected) == networkSetString(observed) {
		return ""
	}
	return "mismatch"
}

func networkSetString(atts []domain.NetworkAttachment) string {
	seen := make(map[string]struct{}, len(atts))
	ids := make([]string, 0, len(atts))
	for _, a := range atts {
		if _, dup := seen[a.NetworkID]; dup {
			continue
		}
		seen[a.NetworkID] = struct{}{}
		ids = append(ids, a.NetworkID)
	}
	sort.Strings(ids)
	out := ""
	for _, id := range ids {
		out += id + ","
	}
	return out
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func (d *Detector) nextID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counter++
	return fmt.Sprintf("drift-%d", d.counter)
}

var now = func() time.Time { return time.Now().UTC() }
