// Package require implements the requirement expression language the pools
// share: a leaf predicate or an "and" over sub-expressions. Absence of a
// predicate means unconstrained; tag predicates are superset checks.
package require

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gridrock/gridpool/internal/model"
)

type Op string

const (
	OpAnd         Op = "and"
	OpTag         Op = "tag"
	OpID          Op = "id"
	OpURL         Op = "url"
	OpHost        Op = "host"
	OpPort        Op = "port"
	OpType        Op = "type"
	OpBrowserName Op = "browser_name"
	OpReserved    Op = "reserved"
	OpNode        Op = "node"
	OpProxy       Op = "proxy"
)

// Expr is one node of a requirement tree. Exactly one value field is
// meaningful for a given Op: Args for "and", Sub for "node"/"proxy", Int
// for "port", Bool for "reserved", Str for the rest.
type Expr struct {
	Op   Op
	Str  string
	Int  int
	Bool bool
	Sub  *Expr
	Args []*Expr
}

func And(args ...*Expr) *Expr      { return &Expr{Op: OpAnd, Args: args} }
func Tag(tag string) *Expr        { return &Expr{Op: OpTag, Str: tag} }
func ID(id string) *Expr          { return &Expr{Op: OpID, Str: id} }
func URL(url string) *Expr        { return &Expr{Op: OpURL, Str: url} }
func Host(host string) *Expr      { return &Expr{Op: OpHost, Str: host} }
func Port(port int) *Expr         { return &Expr{Op: OpPort, Int: port} }
func Type(kind string) *Expr      { return &Expr{Op: OpType, Str: kind} }
func BrowserName(n string) *Expr  { return &Expr{Op: OpBrowserName, Str: n} }
func Reserved(v bool) *Expr       { return &Expr{Op: OpReserved, Bool: v} }
func Node(sub *Expr) *Expr        { return &Expr{Op: OpNode, Sub: sub} }
func Proxy(sub *Expr) *Expr       { return &Expr{Op: OpProxy, Sub: sub} }

// Leaves flattens nested "and" nodes into the ordered leaf list. A nil
// expression has no leaves.
func (e *Expr) Leaves() []*Expr {
	if e == nil {
		return nil
	}
	if e.Op != OpAnd {
		return []*Expr{e}
	}
	var out []*Expr
	for _, arg := range e.Args {
		out = append(out, arg.Leaves()...)
	}
	return out
}

// Validate walks the tree and rejects operators outside the supported
// grammar and malformed leaf values.
func (e *Expr) Validate() error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpAnd:
		for _, arg := range e.Args {
			if arg == nil {
				return model.Validationf("and: nil sub-expression")
			}
			if err := arg.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpTag, OpID, OpURL, OpHost, OpType, OpBrowserName:
		if e.Str == "" {
			return model.Validationf("%s requirement needs a value", e.Op)
		}
		return nil
	case OpPort:
		if e.Int <= 0 || e.Int > 65535 {
			return model.Validationf("port requirement out of range: %d", e.Int)
		}
		return nil
	case OpReserved:
		return nil
	case OpNode, OpProxy:
		return e.Sub.Validate()
	}
	return model.Validationf("unknown requirement operator %q", e.Op)
}

// Fingerprint returns a stable digest of the expression for allocation
// locking. Equivalent expressions (same leaves in the same order) share a
// fingerprint; nil hashes the match-anything requirement.
func (e *Expr) Fingerprint() string {
	var b strings.Builder
	e.canonical(&b)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (e *Expr) canonical(b *strings.Builder) {
	if e == nil {
		b.WriteString("any")
		return
	}
	b.WriteString(string(e.Op))
	b.WriteByte('(')
	switch e.Op {
	case OpAnd:
		for i, arg := range e.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			arg.canonical(b)
		}
	case OpNode, OpProxy:
		e.Sub.canonical(b)
	case OpPort:
		b.WriteString(strconv.Itoa(e.Int))
	case OpReserved:
		b.WriteString(strconv.FormatBool(e.Bool))
	default:
		b.WriteString(e.Str)
	}
	b.WriteByte(')')
}

// MarshalJSON renders the wire form: one-key objects like {"tag":"x"},
// {"reserved":true}, {"node":{...}}, {"and":[...]}.
func (e *Expr) MarshalJSON() ([]byte, error) {
	var value any
	switch e.Op {
	case OpAnd:
		value = e.Args
	case OpNode, OpProxy:
		value = e.Sub
	case OpPort:
		value = e.Int
	case OpReserved:
		value = e.Bool
	default:
		value = e.Str
	}
	return json.Marshal(map[string]any{string(e.Op): value})
}

func (e *Expr) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return model.Validationf("requirement must be a JSON object: %v", err)
	}
	if len(fields) != 1 {
		return model.Validationf("requirement object must have exactly one key, got %d", len(fields))
	}

	var key string
	var raw json.RawMessage
	for k, v := range fields {
		key, raw = k, v
	}

	op := Op(key)
	switch op {
	case OpAnd:
		var args []*Expr
		if err := json.Unmarshal(raw, &args); err != nil {
			return model.Validationf("and requirement needs an array: %v", err)
		}
		*e = Expr{Op: OpAnd, Args: args}
	case OpNode, OpProxy:
		sub := &Expr{}
		if err := json.Unmarshal(raw, sub); err != nil {
			return err
		}
		*e = Expr{Op: op, Sub: sub}
	case OpPort:
		var port int
		if err := json.Unmarshal(raw, &port); err != nil {
			return model.Validationf("port requirement needs a number: %v", err)
		}
		*e = Expr{Op: OpPort, Int: port}
	case OpReserved:
		var reserved bool
		if err := json.Unmarshal(raw, &reserved); err != nil {
			return model.Validationf("reserved requirement needs a boolean: %v", err)
		}
		*e = Expr{Op: OpReserved, Bool: reserved}
	case OpTag, OpID, OpURL, OpHost, OpType, OpBrowserName:
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return model.Validationf("%s requirement needs a string: %v", op, err)
		}
		*e = Expr{Op: op, Str: value}
	default:
		return model.Validationf("unknown requirement operator %q", key)
	}
	return nil
}

// Parse decodes and validates a wire-form requirement. Empty input yields
// nil, the match-anything requirement.
func Parse(data []byte) (*Expr, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	expr := &Expr{}
	if err := json.Unmarshal([]byte(trimmed), expr); err != nil {
		return nil, err
	}
	if err := expr.Validate(); err != nil {
		return nil, err
	}
	return expr, nil
}

// SubExpr extracts the single sub-expression for the given wrapper op
// (node or proxy) from the requirement's leaves. Multiple occurrences are
// combined under one "and".
func (e *Expr) SubExpr(op Op) *Expr {
	var found []*Expr
	for _, leaf := range e.Leaves() {
		if leaf.Op == op && leaf.Sub != nil {
			found = append(found, leaf.Sub)
		}
	}
	switch len(found) {
	case 0:
		return nil
	case 1:
		return found[0]
	default:
		return And(found...)
	}
}

// Tags collects the values of every tag leaf, deduplicated and sorted.
func (e *Expr) Tags() []string {
	var tags []string
	for _, leaf := range e.Leaves() {
		if leaf.Op == OpTag {
			tags = append(tags, leaf.Str)
		}
	}
	sort.Strings(tags)
	return model.NormalizeTags(tags)
}

// FirstLeaf returns the first leaf with the given op, or nil.
func (e *Expr) FirstLeaf(op Op) *Expr {
	for _, leaf := range e.Leaves() {
		if leaf.Op == op {
			return leaf
		}
	}
	return nil
}

func (e *Expr) String() string {
	if e == nil {
		return "any"
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("expr(%s)", e.Op)
	}
	return string(raw)
}
