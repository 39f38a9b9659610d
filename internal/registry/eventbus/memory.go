package eventbus

import (
	"context"
	"sync"

	"github.com/ntounix-prog/glassdome/internal/domain"
)

// MemoryBus is the default, in-process Bus: a bounded history buffer plus a
// fan-out to live subscriber channels, grounded on the teacher's in-memory
// storage package's "simple, thread-safe, good enough for one process"
// posture (internal/app/storage/memory.go).
type MemoryBus struct {
	mu        sync.Mutex
	history   []domain.StateChange
	maxHist   int
	listeners map[chan domain.StateChange]struct{}
}

// NewMemoryBus builds a MemoryBus retaining up to maxHistory events for
// late-subscriber replay (0 means a sensible default of 10000).
func NewMemoryBus(maxHistory int) *MemoryBus {
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &MemoryBus{maxHist: maxHistory, listeners: make(map[chan domain.StateChange]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, change domain.StateChange) error {
	b.mu.Lock()
	b.history = append(b.history, change)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	listeners := make([]chan domain.StateChange, 0, len(b.listeners))
	for ch := range b.listeners {
		listeners = append(listeners, ch)
	}
	b.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- change:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, entityKind string, fromVersion uint64) (<-chan domain.StateChange, error) {
	out := make(chan domain.StateChange, 256)
	listener := make(chan domain.StateChange, 256)

	b.mu.Lock()
	var replay []domain.StateChange
	for _, c := range b.history {
		if matches(c, entityKind, fromVersion) {
			replay = append(replay, c)
		}
	}
	b.listeners[listener] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.listeners, listener)
			b.mu.Unlock()
		}()

		for _, c := range replay {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case c, ok := <-listener:
				if !ok {
					return
				}
				if matches(c, entityKind, fromVersion) {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func matches(c domain.StateChange, entityKind string, fromVersion uint64) bool {
	if entityKind != "" && c.EntityRef.Kind != entityKind {
		return false
	}
	return c.Version > fromVersion
}
