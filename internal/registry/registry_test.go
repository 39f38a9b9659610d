package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/registry/eventbus"
)

func TestUpsertVMAssignsMonotonicVersions(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	rec := domain.VMRecord{VMID: "vm-1", Status: domain.VMPending}
	if _, err := reg.UpsertVM(ctx, rec, domain.SourceOrchestrator); err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
	firstVersion := reg.version

	rec.Status = domain.VMRunning
	if _, err := reg.UpsertVM(ctx, rec, domain.SourceOrchestrator); err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
	if reg.version <= firstVersion {
		t.Fatalf("expected version to strictly increase, got %d then %d", firstVersion, reg.version)
	}
}

func TestUpsertVMIsIdempotentByID(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	rec := domain.VMRecord{VMID: "vm-1", Status: domain.VMPending}
	if _, err := reg.UpsertVM(ctx, rec, domain.SourceOrchestrator); err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
	rec.Status = domain.VMRunning
	got, err := reg.UpsertVM(ctx, rec, domain.SourceOrchestrator)
	if err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
	if len(reg.vms) != 1 {
		t.Fatalf("expected a single vm entry, got %d", len(reg.vms))
	}
	if got.Status != domain.VMRunning {
		t.Fatalf("expected updated status to win, got %v", got.Status)
	}
}

// TestUpsertVMIdenticalPayloadEmitsNoStateChange is the §8 round-trip law:
// "upsert(e); upsert(e) (identical payload) emits exactly one StateChange."
// A re-upsert with unchanged content (the steady-state tier-1 poll case)
// must not bump the version or publish a second event.
func TestUpsertVMIdenticalPayloadEmitsNoStateChange(t *testing.T) {
	bus := eventbus.NewMemoryBus(100)
	reg := New(bus, nil)
	ctx := context.Background()

	rec := domain.VMRecord{VMID: "vm-1", Status: domain.VMRunning, PrimaryIP: "10.0.0.5"}
	if _, err := reg.UpsertVM(ctx, rec, domain.SourcePoll); err != nil {
		t.Fatalf("UpsertVM: %v", err)
	}
	versionAfterFirst := reg.version

	for i := 0; i < 3; i++ {
		if _, err := reg.UpsertVM(ctx, rec, domain.SourcePoll); err != nil {
			t.Fatalf("UpsertVM (repeat %d): %v", i, err)
		}
	}
	if reg.version != versionAfterFirst {
		t.Fatalf("identical re-upsert must not bump version: got %d, want %d", reg.version, versionAfterFirst)
	}

	ch, err := reg.Subscribe(ctx, "vm", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the single StateChange from the first upsert to replay")
	}
	select {
	case change, ok := <-ch:
		if ok {
			t.Fatalf("expected exactly one StateChange, got a second: %+v", change)
		}
	case <-time.After(200 * time.Millisecond):
		// No second event arrived within the window: correct.
	}

	// A genuinely changed payload must still emit a new StateChange.
	rec.Status = domain.VMStopped
	if _, err := reg.UpsertVM(ctx, rec, domain.SourcePoll); err != nil {
		t.Fatalf("UpsertVM (changed): %v", err)
	}
	if reg.version != versionAfterFirst+1 {
		t.Fatalf("changed payload must bump version exactly once: got %d, want %d", reg.version, versionAfterFirst+1)
	}
}

func TestSubscribeReplaysFromCursor(t *testing.T) {
	bus := eventbus.NewMemoryBus(100)
	reg := New(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statuses := []domain.VMStatus{domain.VMPending, domain.VMCreating, domain.VMRunning}
	for _, status := range statuses {
		rec := domain.VMRecord{VMID: "vm-1", Status: status}
		if _, err := reg.UpsertVM(ctx, rec, domain.SourceOrchestrator); err != nil {
			t.Fatalf("UpsertVM: %v", err)
		}
	}

	ch, err := reg.Subscribe(ctx, "vm", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case change := <-ch:
		if change.Version != 2 {
			t.Fatalf("expected replay to start at version 2, got %d", change.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a replayed event")
	}
}
