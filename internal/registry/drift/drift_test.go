package drift

import (
	"context"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

type recordingSink struct {
	drifts []domain.Drift
}

func (s *recordingSink) RecordDrift(ctx context.Context, d domain.Drift) error {
	s.drifts = append(s.drifts, d)
	return nil
}

func TestObserveDetectsStatusDrift(t *testing.T) {
	sink := &recordingSink{}
	det := New(sink)

	expected := domain.VMRecord{VMID: "vm-1", Status: domain.VMRunning}
	observed := domain.VMRecord{VMID: "vm-1", Status: domain.VMStopped}

	if err := det.Observe(context.Background(), expected, observed); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(sink.drifts) != 1 || sink.drifts[0].Field != "status" {
		t.Fatalf("expected a single status drift, got %+v", sink.drifts)
	}
}

func TestObserveIgnoresMatchingState(t *testing.T) {
	sink := &recordingSink{}
	det := New(sink)

	rec := domain.VMRecord{
		VMID:   "vm-1",
		Status: domain.VMRunning,
		Spec: domain.VMSpec{
			Cores: 2, MemoryMiB: 2048,
			Networks: []domain.NetworkAttachment{{NetworkID: "net-a"}, {NetworkID: "net-b"}},
		},
	}
	observed := rec
	observed.Spec.Networks = []domain.NetworkAttachment{{NetworkID: "net-b"}, {NetworkID: "net-a"}}

	if err := det.Observe(context.Background(), rec, observed); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(sink.drifts) != 0 {
		t.Fatalf("expected no drift for reordered but equal network set, got %+v", sink.drifts)
	}
}

func TestObserveSkipsDeletedVMs(t *testing.T) {
	sink := &recordingSink{}
	det := New(sink)

	expected := domain.VMRecord{VMID: "vm-1", Status: domain.VMRunning, DeletedAt: now()}
	observed := domain.VMRecord{VMID: "vm-1", Status: domain.VMStopped}

	if err := det.Observe(context.Background(), expected, observed); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(sink.drifts) != 0 {
		t.Fatalf("expected no drift for a deleted vm, got %+v", sink.drifts)
	}
}
