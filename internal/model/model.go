// Package model holds the record types shared by the pools and the schema
// descriptors the store consumes to lay them out in the backing store.
package model

import (
	"sort"
)

// FieldKind tells the store how a field is stored: scalars go into the
// record's hash, collection kinds each get a derived sub-key.
type FieldKind int

const (
	String FieldKind = iota
	Int
	Bool
	StringSet
	StringList
	StringMap
)

// FieldDeleted is the internal soft-delete marker. It is stored like any
// other scalar and stripped from views.
const FieldDeleted = "deleted"

// Schema describes one record type. The id is not listed: it lives in the
// per-kind id-set and is re-injected on read.
type Schema struct {
	Kind   string
	Fields map[string]FieldKind
}

// Record is the store-level shape of a record. Values are canonical Go
// types per FieldKind: string, int, bool, []string (sets and lists) and
// map[string]string.
type Record map[string]any

func (r Record) Str(field string) string {
	v, _ := r[field].(string)
	return v
}

func (r Record) Int(field string) int {
	v, _ := r[field].(int)
	return v
}

func (r Record) Bool(field string) bool {
	v, _ := r[field].(bool)
	return v
}

func (r Record) Strings(field string) []string {
	v, _ := r[field].([]string)
	return v
}

func (r Record) StringMap(field string) map[string]string {
	v, _ := r[field].(map[string]string)
	return v
}

// Deleted reports whether the record carries the soft-delete marker.
func (r Record) Deleted() bool {
	return r.Bool(FieldDeleted)
}

var NodeSchema = Schema{
	Kind: "node",
	Fields: map[string]FieldKind{
		"url":          String,
		"tags":         StringSet,
		"max_sessions": Int,
		FieldDeleted:   Bool,
	},
}

var SessionSchema = Schema{
	Kind: "session",
	Fields: map[string]FieldKind{
		"webdriver_id": String,
		"tags":         StringSet,
		"reserved":     Bool,
		"current_url":  String,
		"browser_name": String,
		"node_id":      String,
		"proxy_id":     String,
		"capabilities": StringMap,
		FieldDeleted:   Bool,
	},
}

var ProxySchema = Schema{
	Kind: "proxy",
	Fields: map[string]FieldKind{
		"public_ip":  String,
		"type":       String,
		"host":       String,
		"port":       Int,
		"tags":       StringSet,
		"active":     Bool,
		"shared":     Bool,
		FieldDeleted: Bool,
	},
}

// ProxyType enumerates the supported proxy protocols.
type ProxyType string

const (
	ProxySOCKS5 ProxyType = "socks5"
	ProxyHTTP   ProxyType = "http"
)

type Node struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	MaxSessions int      `json:"max_sessions"`
}

type Session struct {
	ID           string            `json:"id"`
	WebdriverID  string            `json:"webdriver_id,omitempty"`
	Tags         []string          `json:"tags"`
	Reserved     bool              `json:"reserved"`
	CurrentURL   string            `json:"current_url,omitempty"`
	BrowserName  string            `json:"browser_name"`
	NodeID       string            `json:"node_id"`
	ProxyID      string            `json:"proxy_id,omitempty"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

type Proxy struct {
	ID       string    `json:"id"`
	PublicIP string    `json:"public_ip,omitempty"`
	Type     ProxyType `json:"type"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Tags     []string  `json:"tags"`
	Active   bool      `json:"active"`
	Shared   bool      `json:"shared"`
}

func NodeFromRecord(r Record) Node {
	return Node{
		ID:          r.Str("id"),
		URL:         r.Str("url"),
		Tags:        NormalizeTags(r.Strings("tags")),
		MaxSessions: r.Int("max_sessions"),
	}
}

func (n Node) Record() Record {
	return Record{
		"url":          n.URL,
		"tags":         NormalizeTags(n.Tags),
		"max_sessions": n.MaxSessions,
		FieldDeleted:   false,
	}
}

func SessionFromRecord(r Record) Session {
	return Session{
		ID:           r.Str("id"),
		WebdriverID:  r.Str("webdriver_id"),
		Tags:         NormalizeTags(r.Strings("tags")),
		Reserved:     r.Bool("reserved"),
		CurrentURL:   r.Str("current_url"),
		BrowserName:  r.Str("browser_name"),
		NodeID:       r.Str("node_id"),
		ProxyID:      r.Str("proxy_id"),
		Capabilities: r.StringMap("capabilities"),
	}
}

func (s Session) Record() Record {
	return Record{
		"webdriver_id": s.WebdriverID,
		"tags":         NormalizeTags(s.Tags),
		"reserved":     s.Reserved,
		"current_url":  s.CurrentURL,
		"browser_name": s.BrowserName,
		"node_id":      s.NodeID,
		"proxy_id":     s.ProxyID,
		"capabilities": s.Capabilities,
		FieldDeleted:   false,
	}
}

func ProxyFromRecord(r Record) Proxy {
	return Proxy{
		ID:       r.Str("id"),
		PublicIP: r.Str("public_ip"),
		Type:     ProxyType(r.Str("type")),
		Host:     r.Str("host"),
		Port:     r.Int("port"),
		Tags:     NormalizeTags(r.Strings("tags")),
		Active:   r.Bool("active"),
		Shared:   r.Bool("shared"),
	}
}

func (p Proxy) Record() Record {
	return Record{
		"public_ip":  p.PublicIP,
		"type":       string(p.Type),
		"host":       p.Host,
		"port":       p.Port,
		"tags":       NormalizeTags(p.Tags),
		"active":     p.Active,
		"shared":     p.Shared,
		FieldDeleted: false,
	}
}

// NormalizeTags deduplicates and sorts a tag set. A nil input stays an
// empty, non-nil slice so views always serialize as [].
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// HasTags reports whether have is a superset of want.
func HasTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, tag := range have {
		set[tag] = struct{}{}
	}
	for _, tag := range want {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}
