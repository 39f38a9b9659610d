package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "snapshots"), filepath.Join(dir, "events.log"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ref := domain.EntityRef{Kind: "vm", ID: "vm-1"}
	rec := domain.VMRecord{VMID: "vm-1", Status: domain.VMRunning}
	if err := store.SaveSnapshot(ref, rec); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	raw, err := store.LoadSnapshots("vm")
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	if _, ok := raw["vm-1"]; !ok {
		t.Fatal("expected snapshot for vm-1")
	}
}

func TestEventLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "snapshots"), filepath.Join(dir, "events.log"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	for v := uint64(1); v <= 3; v++ {
		change := domain.StateChange{Version: v, EntityRef: domain.EntityRef{Kind: "vm", ID: "vm-1"}}
		if err := store.AppendEvent(change); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	var versions []uint64
	err = store.ReplayEvents(func(c domain.StateChange) error {
		versions = append(versions, c.Version)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[2] != 3 {
		t.Fatalf("expected versions [1 2 3] in order, got %v", versions)
	}
}
