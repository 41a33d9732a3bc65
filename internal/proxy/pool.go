// Package proxy manages the proxy pool: CRUD over proxy records, deriving
// creation specs from requirement expressions, and matching with
// shared/exclusive semantics.
package proxy

import (
	"context"
	"log"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/gridrock/gridpool/internal/model"
	"github.com/gridrock/gridpool/internal/require"
	"github.com/gridrock/gridpool/internal/store"
)

type Pool struct {
	store  store.Store
	logger *log.Logger
}

func NewPool(st store.Store, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{store: st, logger: logger}
}

// CreateSpec is the flat shape a proxy is materialized from, either given
// by a caller or derived from a requirement expression.
type CreateSpec struct {
	Type     model.ProxyType
	Host     string
	Port     int
	PublicIP string
	Tags     []string
	Shared   *bool
	Active   *bool
}

func (p *Pool) Create(ctx context.Context, spec CreateSpec) (model.Proxy, error) {
	switch spec.Type {
	case model.ProxySOCKS5, model.ProxyHTTP:
	case "":
		return model.Proxy{}, model.Validationf("proxy type is required")
	default:
		return model.Proxy{}, model.Validationf("unknown proxy type %q", spec.Type)
	}
	if strings.TrimSpace(spec.Host) == "" {
		return model.Proxy{}, model.Validationf("proxy host is required")
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return model.Proxy{}, model.Validationf("proxy port out of range: %d", spec.Port)
	}
	if spec.PublicIP != "" && net.ParseIP(spec.PublicIP) == nil {
		return model.Proxy{}, model.Validationf("public_ip %q is not an IP literal", spec.PublicIP)
	}

	shared := true
	if spec.Shared != nil {
		shared = *spec.Shared
	}
	active := true
	if spec.Active != nil {
		active = *spec.Active
	}

	proxy := model.Proxy{
		ID:       "proxy_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		PublicIP: spec.PublicIP,
		Type:     spec.Type,
		Host:     strings.TrimSpace(spec.Host),
		Port:     spec.Port,
		Tags:     model.NormalizeTags(spec.Tags),
		Active:   active,
		Shared:   shared,
	}
	if err := p.store.Write(ctx, model.ProxySchema, proxy.ID, proxy.Record()); err != nil {
		return model.Proxy{}, err
	}
	p.logger.Printf("proxy created: proxy_id=%s type=%s endpoint=%s:%d shared=%t",
		proxy.ID, proxy.Type, proxy.Host, proxy.Port, proxy.Shared)
	return proxy, nil
}

func (p *Pool) Get(ctx context.Context, id string) (model.Proxy, error) {
	rec, ok, err := p.store.Read(ctx, model.ProxySchema, id)
	if err != nil {
		return model.Proxy{}, err
	}
	if !ok {
		return model.Proxy{}, model.ErrNotFound
	}
	return model.ProxyFromRecord(rec), nil
}

func (p *Pool) List(ctx context.Context) ([]model.Proxy, error) {
	records, err := p.store.List(ctx, model.ProxySchema, false)
	if err != nil {
		return nil, err
	}
	proxies := make([]model.Proxy, 0, len(records))
	for _, rec := range records {
		proxies = append(proxies, model.ProxyFromRecord(rec))
	}
	return proxies, nil
}

func (p *Pool) Destroy(ctx context.Context, id string) error {
	ok, err := p.store.Exists(ctx, model.ProxySchema, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotFound
	}
	return p.store.HardDelete(ctx, model.ProxySchema, id)
}

// SpecFromRequirement flattens an and-combined requirement into a creation
// spec, merging pool defaults (shared, active, no tags). A requirement
// that cannot name at least host and port is too under-specified to
// materialize.
func SpecFromRequirement(expr *require.Expr) (CreateSpec, error) {
	spec := CreateSpec{}
	for _, leaf := range expr.Leaves() {
		switch leaf.Op {
		case require.OpType:
			spec.Type = model.ProxyType(leaf.Str)
		case require.OpHost:
			spec.Host = leaf.Str
		case require.OpPort:
			spec.Port = leaf.Int
		case require.OpTag:
			spec.Tags = append(spec.Tags, leaf.Str)
		default:
			return CreateSpec{}, model.Validationf("requirement %q does not apply to proxies", leaf.Op)
		}
	}
	if strings.TrimSpace(spec.Host) == "" || spec.Port <= 0 {
		return CreateSpec{}, model.Validationf("proxy requirement needs host and port to create a proxy")
	}
	spec.Tags = model.NormalizeTags(spec.Tags)
	return spec, nil
}

// Match evaluates a proxy requirement: type, host, and port equality plus
// tag superset. Exclusivity is checked separately against live sessions.
func Match(proxy model.Proxy, expr *require.Expr) (bool, error) {
	for _, leaf := range expr.Leaves() {
		switch leaf.Op {
		case require.OpID:
			if proxy.ID != leaf.Str {
				return false, nil
			}
		case require.OpType:
			if string(proxy.Type) != leaf.Str {
				return false, nil
			}
		case require.OpHost:
			if proxy.Host != leaf.Str {
				return false, nil
			}
		case require.OpPort:
			if proxy.Port != leaf.Int {
				return false, nil
			}
		case require.OpTag:
			if !model.HasTags(proxy.Tags, []string{leaf.Str}) {
				return false, nil
			}
		default:
			return false, model.Validationf("requirement %q does not apply to proxies", leaf.Op)
		}
	}
	return true, nil
}

// Matching returns every live proxy satisfying the requirement, without
// the exclusivity filter.
func (p *Pool) Matching(ctx context.Context, expr *require.Expr) ([]model.Proxy, error) {
	proxies, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]model.Proxy, 0, len(proxies))
	for _, proxy := range proxies {
		ok, err := Match(proxy, expr)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, proxy)
		}
	}
	return matched, nil
}

// FindOrCreate matches the requirement against existing proxies and
// creates one from the derived spec when nothing allocatable matches. An
// inactive proxy never matches; a non-shared proxy bound to a live session
// is not a candidate.
func (p *Pool) FindOrCreate(ctx context.Context, expr *require.Expr) (model.Proxy, error) {
	matched, err := p.Matching(ctx, expr)
	if err != nil {
		return model.Proxy{}, err
	}
	if len(matched) > 0 {
		inUse, err := p.proxiesInUse(ctx)
		if err != nil {
			return model.Proxy{}, err
		}
		for _, proxy := range matched {
			if !proxy.Active {
				continue
			}
			if !proxy.Shared && inUse[proxy.ID] {
				continue
			}
			return proxy, nil
		}
	}

	spec, err := SpecFromRequirement(expr)
	if err != nil {
		return model.Proxy{}, err
	}
	return p.Create(ctx, spec)
}

// proxiesInUse collects the proxy ids referenced by live sessions.
func (p *Pool) proxiesInUse(ctx context.Context) (map[string]bool, error) {
	records, err := p.store.List(ctx, model.SessionSchema, false)
	if err != nil {
		return nil, err
	}
	inUse := make(map[string]bool)
	for _, rec := range records {
		if proxyID := rec.Str("proxy_id"); proxyID != "" {
			inUse[proxyID] = true
		}
	}
	return inUse, nil
}
