package ippool

import (
	"fmt"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/errs"
)

func smallPoolConfig() Config {
	// Mirrors spec §8 scenario 2: a ten-address pool inside a /24, small
	// enough to exhaust in a handful of allocations.
	return Config{
		CIDR:       "10.101.0.0/24",
		RangeStart: "10.101.0.30",
		RangeEnd:   "10.101.0.39",
		Gateway:    "10.101.0.1",
	}
}

func TestAllocateReturnsAddressesInRangeOrder(t *testing.T) {
	m, err := NewManager([]Config{smallPoolConfig()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	a, err := m.Allocate("10.101.0.0/24", "vm-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.IP != "10.101.0.30" {
		t.Fatalf("expected first allocation to be range start 10.101.0.30, got %s", a.IP)
	}
	if a.Fallback {
		t.Fatalf("first-in-range allocation must not be tagged fallback")
	}

	b, err := m.Allocate("10.101.0.0/24", "vm-2")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.IP != "10.101.0.31" {
		t.Fatalf("expected second allocation to be 10.101.0.31, got %s", b.IP)
	}
}

// TestAllocateExhaustionFallsBackToBroadcastMinusOne is spec §8's boundary
// behavior: "IP pool exhaustion must fall back to broadcast-1 and continue
// descending; the test suite must assert the fallback address is reachable
// in isolation" (scenario 2: an 11th allocation into a 10-address pool
// lands on 10.101.0.254).
func TestAllocateExhaustionFallsBackToBroadcastMinusOne(t *testing.T) {
	m, err := NewManager([]Config{smallPoolConfig()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	// Drain the configured range: 10.101.0.30-39 is 10 addresses.
	for i := 0; i < 10; i++ {
		if _, err := m.Allocate("10.101.0.0/24", fmt.Sprintf("vm-%d", i)); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}

	overflow, err := m.Allocate("10.101.0.0/24", "vm-overflow")
	if err != nil {
		t.Fatalf("Allocate (fallback): %v", err)
	}
	if overflow.IP != "10.101.0.254" {
		t.Fatalf("expected fallback to broadcast-1 10.101.0.254, got %s", overflow.IP)
	}
	if !overflow.Fallback {
		t.Fatalf("expected the overflow allocation to be tagged Fallback")
	}

	// A second overflow must descend from .254, never repeating it.
	second, err := m.Allocate("10.101.0.0/24", "vm-overflow-2")
	if err != nil {
		t.Fatalf("Allocate (second fallback): %v", err)
	}
	if second.IP != "10.101.0.253" {
		t.Fatalf("expected descending fallback to 10.101.0.253, got %s", second.IP)
	}
	if second.IP == overflow.IP {
		t.Fatalf("fallback allocations must never repeat an address")
	}
}

// TestAllocateReleaseRoundTrip is spec §8's round-trip law: allocate then
// release returns the pool to its prior state, and repeated allocation
// without release never returns the same IP twice.
func TestAllocateReleaseRoundTrip(t *testing.T) {
	m, err := NewManager([]Config{smallPoolConfig()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	before, err := m.Snapshot("10.101.0.0/24")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("expected empty pool before any allocation, got %d entries", len(before))
	}

	alloc, err := m.Allocate("10.101.0.0/24", "vm-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Release("10.101.0.0/24", alloc.IP); err != nil {
		t.Fatalf("Release: %v", err)
	}

	after, err := m.Snapshot("10.101.0.0/24")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected pool to return to its prior (empty) state after release, got %d entries", len(after))
	}

	// Without release, repeated allocation must never return the same IP.
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		a, err := m.Allocate("10.101.0.0/24", fmt.Sprintf("vm-%d", i))
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if seen[a.IP] {
			t.Fatalf("allocate without release returned duplicate ip %s", a.IP)
		}
		seen[a.IP] = true
	}
}

func TestAllocateUnknownPoolIsValidationError(t *testing.T) {
	m, err := NewManager([]Config{smallPoolConfig()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = m.Allocate("192.168.99.0/24", "vm-1")
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for unconfigured cidr, got %v", err)
	}
}
