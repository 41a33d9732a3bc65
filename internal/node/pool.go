// Package node manages the worker-node pool: CRUD over node records,
// reconciliation against the external inventory, and requirement-based
// matching with capacity awareness.
package node

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridrock/gridpool/internal/inventory"
	"github.com/gridrock/gridpool/internal/model"
	"github.com/gridrock/gridpool/internal/require"
	"github.com/gridrock/gridpool/internal/store"
)

const DefaultMaxSessions = 3

type Config struct {
	// DefaultMaxSessions caps sessions per node when a node has no
	// explicit limit. Zero means DefaultMaxSessions.
	DefaultMaxSessions int
	Logger             *log.Logger
	// Resolver overrides hostname resolution; nil uses the system
	// resolver.
	Resolver func(ctx context.Context, host string) ([]string, error)
}

type Pool struct {
	store    store.Store
	provider inventory.Provider
	cfg      Config
	logger   *log.Logger

	// serializes Refresh so two fleet-sync passes cannot both create or
	// destroy the same node
	refreshMu sync.Mutex
}

func NewPool(st store.Store, provider inventory.Provider, cfg Config) *Pool {
	if cfg.DefaultMaxSessions <= 0 {
		cfg.DefaultMaxSessions = DefaultMaxSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		}
	}
	return &Pool{store: st, provider: provider, cfg: cfg, logger: logger}
}

type CreateInput struct {
	URL         string
	Tags        []string
	MaxSessions int
}

func (p *Pool) Create(ctx context.Context, input CreateInput) (model.Node, error) {
	resolved := ""
	if strings.TrimSpace(input.URL) != "" {
		var err error
		resolved, err = p.resolveURL(ctx, input.URL)
		if err != nil {
			return model.Node{}, err
		}
	}
	maxSessions := input.MaxSessions
	if maxSessions <= 0 {
		maxSessions = p.cfg.DefaultMaxSessions
	}

	node := model.Node{
		ID:          "node_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		URL:         resolved,
		Tags:        model.NormalizeTags(input.Tags),
		MaxSessions: maxSessions,
	}
	if err := p.store.Write(ctx, model.NodeSchema, node.ID, node.Record()); err != nil {
		return model.Node{}, err
	}
	p.logger.Printf("node created: node_id=%s url=%s", node.ID, node.URL)
	return node, nil
}

type ModifyInput struct {
	URL  *string
	Tags *[]string
}

func (p *Pool) Modify(ctx context.Context, id string, input ModifyInput) (model.Node, error) {
	rec, ok, err := p.store.Read(ctx, model.NodeSchema, id)
	if err != nil {
		return model.Node{}, err
	}
	if !ok {
		return model.Node{}, model.ErrNotFound
	}
	node := model.NodeFromRecord(rec)

	changes := model.Record{}
	if input.URL != nil {
		resolved, err := p.resolveURL(ctx, *input.URL)
		if err != nil {
			return model.Node{}, err
		}
		node.URL = resolved
		changes["url"] = resolved
	}
	if input.Tags != nil {
		node.Tags = model.NormalizeTags(*input.Tags)
		changes["tags"] = node.Tags
	}
	if len(changes) == 0 {
		return node, nil
	}
	if err := p.store.Write(ctx, model.NodeSchema, id, changes); err != nil {
		return model.Node{}, err
	}
	return node, nil
}

// Destroy removes the node from the external inventory when it is still
// listed there, then unregisters it locally. Local cleanup happens even if
// the inventory removal fails or the node is already gone.
func (p *Pool) Destroy(ctx context.Context, id string) (retErr error) {
	rec, ok, err := p.store.Read(ctx, model.NodeSchema, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotFound
	}
	node := model.NodeFromRecord(rec)

	defer func() {
		if err := p.store.HardDelete(ctx, model.NodeSchema, id); err != nil && retErr == nil {
			retErr = err
		}
	}()

	if !p.provider.CanRemove() {
		return nil
	}
	addresses, err := p.provider.ListLiveAddresses(ctx)
	if err != nil {
		p.logger.Printf("node destroy: inventory list failed: node_id=%s err=%v", id, err)
		return nil
	}
	for _, addr := range addresses {
		if addr != node.URL {
			continue
		}
		if err := p.provider.Remove(ctx, node.URL); err != nil {
			p.logger.Printf("node destroy: inventory remove failed: node_id=%s url=%s err=%v", id, node.URL, err)
		}
		break
	}
	return nil
}

// Refresh reconciles the registered node set against the inventory: every
// address present externally but not registered gets a node, every
// registered node whose address vanished gets destroyed. Inventory
// addresses go through the same resolution Create applies, so a hostname
// inventory compares equal to the IP-bearing urls in the store and an
// unchanged inventory is a no-op.
func (p *Pool) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	addresses, err := p.provider.ListLiveAddresses(ctx)
	if err != nil {
		return fmt.Errorf("list inventory addresses: %w", err)
	}
	var firstErr error
	resolveFailed := false
	live := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		resolved, err := p.resolveURL(ctx, addr)
		if err != nil {
			p.logger.Printf("refresh: resolve address failed: url=%s err=%v", addr, err)
			resolveFailed = true
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		live[resolved] = struct{}{}
	}

	nodes, err := p.List(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		registered[node.URL] = struct{}{}
	}

	for addr := range live {
		if _, ok := registered[addr]; ok {
			continue
		}
		if _, err := p.Create(ctx, CreateInput{URL: addr}); err != nil {
			p.logger.Printf("refresh: create node failed: url=%s err=%v", addr, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if resolveFailed {
		// an unresolved address may back a registered node, so reaping
		// waits for a pass with a complete live set
		return firstErr
	}
	for _, node := range nodes {
		if _, ok := live[node.URL]; ok {
			continue
		}
		if err := p.Destroy(ctx, node.ID); err != nil {
			p.logger.Printf("refresh: destroy node failed: node_id=%s err=%v", node.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pool) Get(ctx context.Context, id string) (model.Node, error) {
	rec, ok, err := p.store.Read(ctx, model.NodeSchema, id)
	if err != nil {
		return model.Node{}, err
	}
	if !ok {
		return model.Node{}, model.ErrNotFound
	}
	return model.NodeFromRecord(rec), nil
}

func (p *Pool) List(ctx context.Context) ([]model.Node, error) {
	records, err := p.store.List(ctx, model.NodeSchema, false)
	if err != nil {
		return nil, err
	}
	nodes := make([]model.Node, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, model.NodeFromRecord(rec))
	}
	return nodes, nil
}

// LiveSessionCounts scans session records and counts the live ones per
// node id. Soft-deleted sessions no longer hold capacity.
func (p *Pool) LiveSessionCounts(ctx context.Context) (map[string]int, error) {
	records, err := p.store.List(ctx, model.SessionSchema, false)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range records {
		if nodeID := rec.Str("node_id"); nodeID != "" {
			counts[nodeID]++
		}
	}
	return counts, nil
}

// HasCapacity reports whether the node can take one more session.
func (p *Pool) HasCapacity(ctx context.Context, node model.Node) (bool, error) {
	counts, err := p.LiveSessionCounts(ctx)
	if err != nil {
		return false, err
	}
	return counts[node.ID] < p.maxSessions(node), nil
}

// UnderCapacity returns every node whose live session count is below its
// limit.
func (p *Pool) UnderCapacity(ctx context.Context) ([]model.Node, error) {
	nodes, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := p.LiveSessionCounts(ctx)
	if err != nil {
		return nil, err
	}

	available := make([]model.Node, 0, len(nodes))
	for _, node := range nodes {
		if counts[node.ID] < p.maxSessions(node) {
			available = append(available, node)
		}
	}
	return available, nil
}

// Matching returns every live node satisfying the requirement, without
// regard to capacity.
func (p *Pool) Matching(ctx context.Context, expr *require.Expr) ([]model.Node, error) {
	nodes, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]model.Node, 0, len(nodes))
	for _, node := range nodes {
		ok, err := Match(node, expr)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

// Find picks one capacity-available node satisfying the requirement,
// uniformly at random. ok is false when none match.
func (p *Pool) Find(ctx context.Context, expr *require.Expr) (model.Node, bool, error) {
	available, err := p.UnderCapacity(ctx)
	if err != nil {
		return model.Node{}, false, err
	}
	candidates := make([]model.Node, 0, len(available))
	for _, node := range available {
		ok, err := Match(node, expr)
		if err != nil {
			return model.Node{}, false, err
		}
		if ok {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		return model.Node{}, false, nil
	}
	return candidates[rand.Intn(len(candidates))], true, nil
}

// Match evaluates a node requirement: id equality, url equality, and tag
// superset. Other predicates do not apply to nodes.
func Match(node model.Node, expr *require.Expr) (bool, error) {
	for _, leaf := range expr.Leaves() {
		switch leaf.Op {
		case require.OpID:
			if node.ID != leaf.Str {
				return false, nil
			}
		case require.OpURL:
			if node.URL != inventory.NormalizeAddress(leaf.Str) {
				return false, nil
			}
		case require.OpTag:
			if !model.HasTags(node.Tags, []string{leaf.Str}) {
				return false, nil
			}
		default:
			return false, model.Validationf("requirement %q does not apply to nodes", leaf.Op)
		}
	}
	return true, nil
}

func (p *Pool) maxSessions(node model.Node) int {
	if node.MaxSessions > 0 {
		return node.MaxSessions
	}
	return p.cfg.DefaultMaxSessions
}

// CanProvision reports whether the inventory accepts new members, making
// node creation on allocation misses possible.
func (p *Pool) CanProvision() bool {
	return p.provider.CanAdd()
}

// Provision registers an address with the inventory and creates the
// matching node record.
func (p *Pool) Provision(ctx context.Context, address string, tags []string) (model.Node, error) {
	if !p.provider.CanAdd() {
		return model.Node{}, model.ErrUnsupported
	}
	normalized := inventory.NormalizeAddress(address)
	if err := p.provider.Add(ctx, normalized); err != nil {
		return model.Node{}, fmt.Errorf("inventory add: %w", err)
	}
	return p.Create(ctx, CreateInput{URL: normalized, Tags: tags})
}

// resolveURL normalizes the url and swaps a hostname for a resolved
// address so stored node urls always carry a concrete IP-bearing form.
// Literal IPs and localhost pass through untouched.
func (p *Pool) resolveURL(ctx context.Context, raw string) (string, error) {
	normalized := inventory.NormalizeAddress(raw)
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", model.Validationf("invalid node url %q: %v", raw, err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", model.Validationf("node url %q has no host", raw)
	}
	if net.ParseIP(host) != nil || host == "localhost" {
		return normalized, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addrs, err := p.cfg.Resolver(lookupCtx, host)
	if err != nil {
		return "", fmt.Errorf("resolve node host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve node host %q: no addresses", host)
	}
	resolvedHost := addrs[0]
	if parsed.Port() != "" {
		parsed.Host = net.JoinHostPort(resolvedHost, parsed.Port())
	} else {
		parsed.Host = resolvedHost
	}
	return strings.TrimSuffix(parsed.String(), "/"), nil
}
