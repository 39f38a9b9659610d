// Package ippool implements the IP-pool allocation and static-IP-fallback
// policy from spec §4.3: a configured address range tied to a CIDR, with
// exhaustion falling back to the last usable host address (broadcast-1) and
// descending until a free address is found, guaranteeing a VM always gets a
// reachable address.
package ippool

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go4.org/netipx"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// Config is one configured pool (spec §6 ip_pools entry).
type Config struct {
	CIDR       string
	RangeStart string
	RangeEnd   string
	Gateway    string
	DNS        []string
}

// pool is the live ledger for one CIDR.
type pool struct {
	cidr       netip.Prefix
	rangeStart netip.Addr
	rangeEnd   netip.Addr
	allocated  map[netip.Addr]domain.IPAllocation
}

// Manager is the single mutable ledger protected by mutual exclusion (spec
// §5 "Shared-resource policy": allocate/release are linearizable).
type Manager struct {
	mu    sync.Mutex
	pools map[string]*pool // keyed by CIDR string
}

// NewManager builds a Manager from the configured pools.
func NewManager(configs []Config) (*Manager, error) {
	m := &Manager{pools: make(map[string]*pool)}
	for _, c := range configs {
		if err := m.addPool(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) addPool(c Config) error {
	prefix, err := netip.ParsePrefix(c.CIDR)
	if err != nil {
		return errs.NewValidation("cidr", "invalid ip_pools cidr %q: %v", c.CIDR, err)
	}
	start, err := netip.ParseAddr(c.RangeStart)
	if err != nil {
		return errs.NewValidation("range_start", "invalid range_start %q: %v", c.RangeStart, err)
	}
	end, err := netip.ParseAddr(c.RangeEnd)
	if err != nil {
		return errs.NewValidation("range_end", "invalid range_end %q: %v", c.RangeEnd, err)
	}
	m.pools[prefix.String()] = &pool{
		cidr:       prefix,
		rangeStart: start,
		rangeEnd:   end,
		allocated:  make(map[netip.Addr]domain.IPAllocation),
	}
	return nil
}

// Allocate returns the first free address in the configured range for cidr;
// if exhausted, it falls back to broadcast-1 and descends until a free
// address is found (spec §4.3, §8 boundary behavior). The vmRef is recorded
// so Release can find it again later.
func (m *Manager) Allocate(cidr, vmRef string) (domain.IPAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[cidr]
	if !ok {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return domain.IPAllocation{}, errs.NewValidation("cidr", "unknown pool %q", cidr)
		}
		return domain.IPAllocation{}, errs.NewValidation("cidr", "no pool configured for %q", prefix)
	}

	for addr := p.rangeStart; ; addr = addr.Next() {
		if _, taken := p.allocated[addr]; !taken {
			alloc := domain.IPAllocation{CIDR: cidr, IP: addr.String(), VMRef: vmRef, AllocatedAt: now()}
			p.allocated[addr] = alloc
			metrics.IPPoolUtilization.WithLabelValues(cidr).Set(float64(len(p.allocated)))
			return alloc, nil
		}
		if addr == p.rangeEnd {
			break
		}
	}

	// Range exhausted: fall back to broadcast-1, descending (spec §4.3).
	fallbackStart := netipx.RangeOfPrefix(p.cidr).To().Prev()
	for addr := fallbackStart; p.cidr.Contains(addr); addr = addr.Prev() {
		if !addr.IsValid() {
			break
		}
		if _, taken := p.allocated[addr]; !taken {
			alloc := domain.IPAllocation{CIDR: cidr, IP: addr.String(), VMRef: vmRef, AllocatedAt: now(), Fallback: true}
			p.allocated[addr] = alloc
			metrics.IPPoolUtilization.WithLabelValues(cidr).Set(float64(len(p.allocated)))
			return alloc, nil
		}
		if addr == p.rangeStart {
			break
		}
	}

	return domain.IPAllocation{}, errs.NewPermanent("ip pool %s exhausted: no addresses available even with fallback", cidr)
}

// Release returns addr to the pool, freeing it for reallocation.
func (m *Manager) Release(cidr, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[cidr]
	if !ok {
		return errs.NewValidation("cidr", "unknown pool %q", cidr)
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return errs.NewValidation("ip", "invalid ip %q: %v", ip, err)
	}
	delete(p.allocated, addr)
	metrics.IPPoolUtilization.WithLabelValues(cidr).Set(float64(len(p.allocated)))
	return nil
}

// Snapshot returns a copy of every live allocation in cidr, for diagnostics
// and the Registry's drift comparison.
func (m *Manager) Snapshot(cidr string) ([]domain.IPAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[cidr]
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", cidr)
	}
	out := make([]domain.IPAllocation, 0, len(p.allocated))
	for _, a := range p.allocated {
		out = append(out, a)
	}
	return out, nil
}

// now is a var so tests can deterministically stub allocation timestamps.
var now = func() time.Time { return time.Now().UTC() }
