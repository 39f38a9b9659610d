package system

import (
	"context"
	"fmt"
)

// Manager starts and stops a set of Services deterministically: in
// registration order on Start, in reverse on Stop, so a later service that
// depends on an earlier one (e.g. the overseer depends on the registry)
// never observes its dependency torn down first. Grounded on the call-site
// contract the teacher's internal/app.Application.Attach/Start/Stop shows
// against a manager of this shape; the implementation itself was not
// present in the retrieved file set, so it is authored fresh here.
type Manager struct {
	services []Service
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds svc to the managed set. Order matters: Start runs services
// in registration order, Stop in reverse.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start starts every registered service in order. If one fails, every
// service started before it is stopped (in reverse) before the error is
// returned, so a partial Start never leaves orphaned goroutines running.
func (m *Manager) Start(ctx context.Context) error {
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.services[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse order, collecting (but not
// short-circuiting on) individual failures.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
		}
	}
	return firstErr
}

// Services returns the registered set, in registration order, for callers
// that need to inspect descriptors (e.g. a CLI `status` command).
func (m *Manager) Services() []Service {
	out := make([]Service, len(m.services))
	copy(out, m.services)
	return out
}
