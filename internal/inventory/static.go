package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// StaticProvider serves a configured address list. The list is mutable in
// process so destroyed nodes drop out of the live set, but changes do not
// survive a restart.
type StaticProvider struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
}

func NewStaticProvider(addresses []string) *StaticProvider {
	set := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		trimmed := strings.TrimSpace(addr)
		if trimmed == "" {
			continue
		}
		set[NormalizeAddress(trimmed)] = struct{}{}
	}
	return &StaticProvider{addresses: set}
}

func (p *StaticProvider) ListLiveAddresses(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.addresses))
	for addr := range p.addresses {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func (p *StaticProvider) Add(_ context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[NormalizeAddress(address)] = struct{}{}
	return nil
}

func (p *StaticProvider) Remove(_ context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.addresses, NormalizeAddress(address))
	return nil
}

func (p *StaticProvider) CanAdd() bool    { return true }
func (p *StaticProvider) CanRemove() bool { return true }

// NormalizeAddress turns a bare host:port into a full http URL so provider
// addresses and stored node urls compare equal.
func NormalizeAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimSuffix(trimmed, "/")
	}
	return "http://" + strings.TrimSuffix(trimmed, "/")
}
