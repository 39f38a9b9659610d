package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

func TestMemoryBusFiltersByEntityKind(t *testing.T) {
	bus := NewMemoryBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "vm", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, domain.StateChange{Version: 1, EntityRef: domain.EntityRef{Kind: "network", ID: "net-1"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.StateChange{Version: 2, EntityRef: domain.EntityRef{Kind: "vm", ID: "vm-1"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case c := <-ch:
		if c.EntityRef.Kind != "vm" || c.Version != 2 {
			t.Fatalf("expected only the vm event to be delivered, got %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a delivered event")
	}
}

func TestMemoryBusReplaysHistoryOnSubscribe(t *testing.T) {
	bus := NewMemoryBus(10)
	ctx := context.Background()

	for v := uint64(1); v <= 3; v++ {
		if err := bus.Publish(ctx, domain.StateChange{Version: v, EntityRef: domain.EntityRef{Kind: "vm", ID: "vm-1"}}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := bus.Subscribe(subCtx, "", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var got []uint64
	for i := 0; i < 2; i++ {
		select {
		case c := <-ch:
			got = append(got, c.Version)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for replayed event %d", i)
		}
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected replay [2 3], got %v", got)
	}
}
