package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gridrock/gridpool/internal/model"
)

// CloudProvider discovers worker nodes from a cloud inventory API: every
// running instance carrying the pool tag maps to a fixed-port worker URL.
// Discovery only; the instances' lifecycle is owned elsewhere, so Add and
// Remove are unsupported.
type CloudProvider struct {
	httpClient *http.Client
	baseURL    string
	cfg        CloudConfig
}

type CloudConfig struct {
	// PoolTag marks instances that belong to this pool.
	PoolTag string
	// NodePort is the worker port every instance exposes.
	NodePort int
	// UsePublicDNS selects the public network name over the private one.
	UsePublicDNS bool
	Timeout      time.Duration
}

type cloudInstance struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	Tags       []string `json:"tags"`
	PrivateDNS string   `json:"private_dns"`
	PublicDNS  string   `json:"public_dns"`
}

func NewCloudProvider(baseURL string, cfg CloudConfig) *CloudProvider {
	if cfg.NodePort <= 0 {
		cfg.NodePort = 5555
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CloudProvider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		cfg:        cfg,
	}
}

func (p *CloudProvider) ListLiveAddresses(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/instances", nil)
	if err != nil {
		return nil, fmt.Errorf("build inventory request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inventory request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inventory request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Instances []cloudInstance `json:"instances"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode inventory response: %w", err)
	}

	addresses := make([]string, 0, len(payload.Instances))
	for _, inst := range payload.Instances {
		if !p.isPoolMember(inst) {
			continue
		}
		name := inst.PrivateDNS
		if p.cfg.UsePublicDNS {
			name = inst.PublicDNS
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		addresses = append(addresses, fmt.Sprintf("http://%s:%d", name, p.cfg.NodePort))
	}
	sort.Strings(addresses)
	return addresses, nil
}

func (p *CloudProvider) isPoolMember(inst cloudInstance) bool {
	if inst.State != "running" {
		return false
	}
	if p.cfg.PoolTag == "" {
		return true
	}
	for _, tag := range inst.Tags {
		if tag == p.cfg.PoolTag {
			return true
		}
	}
	return false
}

func (p *CloudProvider) Add(_ context.Context, _ string) error {
	return model.ErrUnsupported
}

func (p *CloudProvider) Remove(_ context.Context, _ string) error {
	return model.ErrUnsupported
}

func (p *CloudProvider) CanAdd() bool    { return false }
func (p *CloudProvider) CanRemove() bool { return false }
