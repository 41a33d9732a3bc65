// Package session manages browser sessions: the get-or-create allocation
// entry point, post-creation modifications, soft and hard teardown, and
// liveness reconciliation against the remote drivers.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gridrock/gridpool/internal/driver"
	"github.com/gridrock/gridpool/internal/lock"
	"github.com/gridrock/gridpool/internal/model"
	"github.com/gridrock/gridpool/internal/node"
	"github.com/gridrock/gridpool/internal/proxy"
	"github.com/gridrock/gridpool/internal/require"
	"github.com/gridrock/gridpool/internal/store"
)

type Config struct {
	// AllocWait bounds how long a request waits for the allocation lock
	// of an equivalent in-flight request before reporting a conflict.
	AllocWait time.Duration
	// AllocTTL caps how long a crashed holder can wedge a fingerprint.
	AllocTTL time.Duration
	Logger   *log.Logger
}

type Pool struct {
	store   store.Store
	nodes   *node.Pool
	proxies *proxy.Pool
	driver  driver.Client
	locker  lock.Locker
	cfg     Config
	logger  *log.Logger
}

func NewPool(st store.Store, nodes *node.Pool, proxies *proxy.Pool, drv driver.Client, locker lock.Locker, cfg Config) *Pool {
	if cfg.AllocWait <= 0 {
		cfg.AllocWait = 10 * time.Second
	}
	if cfg.AllocTTL <= 0 {
		cfg.AllocTTL = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		store:   st,
		nodes:   nodes,
		proxies: proxies,
		driver:  drv,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}
}

// CreateSpec carries explicit overrides for a session created on an
// allocation miss.
type CreateSpec struct {
	BrowserName  string            `json:"browser_name,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	NodeID       string            `json:"node_id,omitempty"`
	ProxyID      string            `json:"proxy_id,omitempty"`
}

// ModifyOp is one post-creation modification step.
type ModifyOp struct {
	Op         string   `json:"op"`
	Reserved   bool     `json:"reserved,omitempty"`
	CurrentURL string   `json:"current_url,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Tag        string   `json:"tag,omitempty"`
}

const (
	OpSetReserved   = "set_reserved"
	OpSetCurrentURL = "set_current_url"
	OpSetTags       = "set_tags"
	OpAddTag        = "add_tag"
	OpRemoveTag     = "remove_tag"
)

// Request is the get-or-create input: an optional requirement, creation
// overrides, modification steps, and the force-create escape hatch.
// Reserve is the legacy flag folded into a trailing reserve step.
type Request struct {
	Require     *require.Expr `json:"require,omitempty"`
	Create      *CreateSpec   `json:"create,omitempty"`
	Modify      []ModifyOp    `json:"modify,omitempty"`
	ForceCreate bool          `json:"force_create,omitempty"`
	Reserve     bool          `json:"reserve,omitempty"`
}

func (p *Pool) List(ctx context.Context) ([]model.Session, error) {
	records, err := p.store.List(ctx, model.SessionSchema, false)
	if err != nil {
		return nil, err
	}
	sessions := make([]model.Session, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, model.SessionFromRecord(rec))
	}
	return sessions, nil
}

func (p *Pool) Get(ctx context.Context, id string) (model.Session, error) {
	rec, ok, err := p.store.Read(ctx, model.SessionSchema, id)
	if err != nil {
		return model.Session{}, err
	}
	if !ok || rec.Deleted() {
		return model.Session{}, model.ErrNotFound
	}
	return model.SessionFromRecord(rec), nil
}

func (p *Pool) GetByWebdriverID(ctx context.Context, webdriverID string) (model.Session, error) {
	if strings.TrimSpace(webdriverID) == "" {
		return model.Session{}, model.ErrNotFound
	}
	sessions, err := p.List(ctx)
	if err != nil {
		return model.Session{}, err
	}
	for _, sess := range sessions {
		if sess.WebdriverID == webdriverID {
			return sess, nil
		}
	}
	return model.Session{}, model.ErrNotFound
}

// GetOrCreate matches the requirement against live sessions and creates a
// session on a miss. The whole match-or-create sequence runs under a lock
// keyed by the requirement fingerprint, so equivalent concurrent requests
// resolve to at most one new session.
func (p *Pool) GetOrCreate(ctx context.Context, req Request) (model.Session, error) {
	if err := req.Require.Validate(); err != nil {
		return model.Session{}, err
	}

	lockName := "alloc:" + req.Require.Fingerprint()
	owner := "alloc-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := p.acquireAlloc(ctx, lockName, owner); err != nil {
		return model.Session{}, err
	}
	defer func() {
		if err := p.locker.Release(ctx, lockName, owner); err != nil {
			p.logger.Printf("allocation lock release failed: name=%s err=%v", lockName, err)
		}
	}()

	if !req.ForceCreate {
		sessions, err := p.List(ctx)
		if err != nil {
			return model.Session{}, err
		}
		for _, sess := range sessions {
			ok, err := p.matches(ctx, sess, req.Require)
			if err != nil {
				return model.Session{}, err
			}
			if ok {
				return p.applyRequestMods(ctx, sess, req)
			}
		}
	}

	sess, err := p.create(ctx, req)
	if err != nil {
		return model.Session{}, err
	}
	return p.applyRequestMods(ctx, sess, req)
}

func (p *Pool) acquireAlloc(ctx context.Context, name, owner string) error {
	deadline := time.Now().Add(p.cfg.AllocWait)
	for {
		ok, err := p.locker.Acquire(ctx, name, owner, p.cfg.AllocTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return model.ErrConflict
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// matches evaluates a session requirement. Node and proxy sub-expressions
// resolve through their pools: the session matches when its node_id or
// proxy_id belongs to a resource satisfying the sub-expression.
func (p *Pool) matches(ctx context.Context, sess model.Session, expr *require.Expr) (bool, error) {
	for _, leaf := range expr.Leaves() {
		switch leaf.Op {
		case require.OpID:
			if sess.ID != leaf.Str {
				return false, nil
			}
		case require.OpBrowserName:
			if sess.BrowserName != leaf.Str {
				return false, nil
			}
		case require.OpTag:
			if !model.HasTags(sess.Tags, []string{leaf.Str}) {
				return false, nil
			}
		case require.OpReserved:
			if sess.Reserved != leaf.Bool {
				return false, nil
			}
		case require.OpNode:
			nodes, err := p.nodes.Matching(ctx, leaf.Sub)
			if err != nil {
				return false, err
			}
			if !containsNode(nodes, sess.NodeID) {
				return false, nil
			}
		case require.OpProxy:
			proxies, err := p.proxies.Matching(ctx, leaf.Sub)
			if err != nil {
				return false, err
			}
			if !containsProxy(proxies, sess.ProxyID) {
				return false, nil
			}
		default:
			return false, model.Validationf("requirement %q does not apply to sessions", leaf.Op)
		}
	}
	return true, nil
}

func (p *Pool) create(ctx context.Context, req Request) (model.Session, error) {
	owner, err := p.resolveNode(ctx, req)
	if err != nil {
		return model.Session{}, err
	}

	proxyID, err := p.resolveProxy(ctx, req)
	if err != nil {
		return model.Session{}, err
	}

	browserName := ""
	tags := req.Require.Tags()
	reserved := false
	capabilities := map[string]string{}
	if leaf := req.Require.FirstLeaf(require.OpBrowserName); leaf != nil {
		browserName = leaf.Str
	}
	if leaf := req.Require.FirstLeaf(require.OpReserved); leaf != nil {
		reserved = leaf.Bool
	}
	if req.Create != nil {
		if req.Create.BrowserName != "" {
			browserName = req.Create.BrowserName
		}
		tags = model.NormalizeTags(append(tags, req.Create.Tags...))
		for k, v := range req.Create.Capabilities {
			capabilities[k] = v
		}
	}
	if browserName != "" {
		if _, ok := capabilities["browserName"]; !ok {
			capabilities["browserName"] = browserName
		}
	}

	webdriverID, err := p.driver.Create(ctx, owner.URL, capabilities)
	if err != nil {
		return model.Session{}, err
	}

	sess := model.Session{
		ID:           "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		WebdriverID:  webdriverID,
		Tags:         tags,
		Reserved:     reserved,
		BrowserName:  browserName,
		NodeID:       owner.ID,
		ProxyID:      proxyID,
		Capabilities: capabilities,
	}
	if err := p.store.Write(ctx, model.SessionSchema, sess.ID, sess.Record()); err != nil {
		return model.Session{}, err
	}
	p.logger.Printf("session created: session_id=%s node_id=%s browser=%s proxy_id=%s",
		sess.ID, sess.NodeID, sess.BrowserName, sess.ProxyID)
	return sess, nil
}

// resolveNode picks the owning node: an explicitly named node must have
// spare capacity (unless forced), otherwise the pool supplies one, falling
// back to registering a requirement-named url not yet pooled.
func (p *Pool) resolveNode(ctx context.Context, req Request) (model.Node, error) {
	sub := req.Require.SubExpr(require.OpNode)

	nodeID := ""
	if req.Create != nil && req.Create.NodeID != "" {
		nodeID = req.Create.NodeID
	} else if leaf := sub.FirstLeaf(require.OpID); leaf != nil {
		nodeID = leaf.Str
	}
	if nodeID != "" {
		owner, err := p.nodes.Get(ctx, nodeID)
		if err != nil {
			return model.Node{}, err
		}
		if !req.ForceCreate {
			ok, err := p.nodes.HasCapacity(ctx, owner)
			if err != nil {
				return model.Node{}, err
			}
			if !ok {
				return model.Node{}, model.ErrCapacity
			}
		}
		return owner, nil
	}

	if req.ForceCreate {
		matched, err := p.nodes.Matching(ctx, sub)
		if err != nil {
			return model.Node{}, err
		}
		if len(matched) > 0 {
			return matched[0], nil
		}
	} else {
		owner, ok, err := p.nodes.Find(ctx, sub)
		if err != nil {
			return model.Node{}, err
		}
		if ok {
			return owner, nil
		}
	}

	// the requirement names an address the pool has not registered yet;
	// register it with the inventory when the provider allows, or the next
	// refresh would reap the node
	if leaf := sub.FirstLeaf(require.OpURL); leaf != nil {
		if p.nodes.CanProvision() {
			return p.nodes.Provision(ctx, leaf.Str, sub.Tags())
		}
		return p.nodes.Create(ctx, node.CreateInput{URL: leaf.Str, Tags: sub.Tags()})
	}
	return model.Node{}, model.ErrCapacity
}

func (p *Pool) resolveProxy(ctx context.Context, req Request) (string, error) {
	if req.Create != nil && req.Create.ProxyID != "" {
		prx, err := p.proxies.Get(ctx, req.Create.ProxyID)
		if err != nil {
			return "", err
		}
		return prx.ID, nil
	}
	sub := req.Require.SubExpr(require.OpProxy)
	if sub == nil {
		return "", nil
	}
	prx, err := p.proxies.FindOrCreate(ctx, sub)
	if err != nil {
		return "", err
	}
	return prx.ID, nil
}

func (p *Pool) applyRequestMods(ctx context.Context, sess model.Session, req Request) (model.Session, error) {
	ops := append([]ModifyOp(nil), req.Modify...)
	if req.Reserve {
		ops = append(ops, ModifyOp{Op: OpSetReserved, Reserved: true})
	}
	if len(ops) == 0 {
		return sess, nil
	}
	return p.Modify(ctx, sess.ID, ops)
}

// Modify applies the operations in order and persists the result.
func (p *Pool) Modify(ctx context.Context, id string, ops []ModifyOp) (model.Session, error) {
	sess, err := p.Get(ctx, id)
	if err != nil {
		return model.Session{}, err
	}

	for _, op := range ops {
		switch op.Op {
		case OpSetReserved:
			sess.Reserved = op.Reserved
		case OpSetCurrentURL:
			sess.CurrentURL = op.CurrentURL
		case OpSetTags:
			sess.Tags = model.NormalizeTags(op.Tags)
		case OpAddTag:
			if op.Tag == "" {
				return model.Session{}, model.Validationf("add_tag needs a tag")
			}
			sess.Tags = model.NormalizeTags(append(sess.Tags, op.Tag))
		case OpRemoveTag:
			if op.Tag == "" {
				return model.Session{}, model.Validationf("remove_tag needs a tag")
			}
			kept := sess.Tags[:0]
			for _, tag := range sess.Tags {
				if tag != op.Tag {
					kept = append(kept, tag)
				}
			}
			sess.Tags = kept
		default:
			return model.Session{}, model.Validationf("unknown modify operation %q", op.Op)
		}
	}

	if err := p.store.Write(ctx, model.SessionSchema, id, model.Record{
		"reserved":    sess.Reserved,
		"current_url": sess.CurrentURL,
		"tags":        model.NormalizeTags(sess.Tags),
	}); err != nil {
		return model.Session{}, err
	}
	sess.Tags = model.NormalizeTags(sess.Tags)
	return sess, nil
}

// Destroy tears a session down. Deferred teardown soft-deletes the record
// so the caller can release the remote driver session before the keys go;
// immediate teardown releases the driver best-effort and hard-deletes.
func (p *Pool) Destroy(ctx context.Context, id string, immediately bool) error {
	// reads through the soft-delete marker so a deferred teardown can
	// still release the driver and free the keys
	rec, ok, err := p.store.Read(ctx, model.SessionSchema, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotFound
	}
	sess := model.SessionFromRecord(rec)

	if !immediately {
		if err := p.store.SoftDelete(ctx, model.SessionSchema, id); err != nil {
			return err
		}
		p.logger.Printf("session marked for teardown: session_id=%s", id)
		return nil
	}

	if sess.WebdriverID != "" {
		owner, err := p.nodes.Get(ctx, sess.NodeID)
		if err == nil {
			if err := p.driver.Delete(ctx, owner.URL, sess.WebdriverID); err != nil {
				p.logger.Printf("driver session release failed: session_id=%s err=%v", id, err)
			}
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	if err := p.store.HardDelete(ctx, model.SessionSchema, id); err != nil {
		return err
	}
	p.logger.Printf("session destroyed: session_id=%s", id)
	return nil
}

// Refresh reconciles sessions against their remote drivers and destroys
// the ones with no live backing driver session. A nil ids argument means
// every live session. Probe failures are logged and skipped so a flaky
// node cannot wipe its sessions.
func (p *Pool) Refresh(ctx context.Context, ids []string) error {
	var targets []model.Session
	if ids == nil {
		sessions, err := p.List(ctx)
		if err != nil {
			return err
		}
		targets = sessions
	} else {
		for _, id := range ids {
			sess, err := p.Get(ctx, id)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					continue
				}
				return err
			}
			targets = append(targets, sess)
		}
	}

	var firstErr error
	for _, sess := range targets {
		alive := false
		if sess.WebdriverID != "" {
			owner, err := p.nodes.Get(ctx, sess.NodeID)
			if err == nil {
				alive, err = p.driver.Alive(ctx, owner.URL, sess.WebdriverID)
				if err != nil {
					p.logger.Printf("session liveness probe failed: session_id=%s err=%v", sess.ID, err)
					continue
				}
			} else if !errors.Is(err, model.ErrNotFound) {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if alive {
			continue
		}
		p.logger.Printf("session has no live driver, destroying: session_id=%s", sess.ID)
		if err := p.Destroy(ctx, sess.ID, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func containsNode(nodes []model.Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

func containsProxy(proxies []model.Proxy, id string) bool {
	for _, p := range proxies {
		if p.ID == id {
			return true
		}
	}
	return false
}
