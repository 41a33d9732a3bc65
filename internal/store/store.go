// Package store persists schema-described records into a transactional
// key-value backing store. Scalar fields live in one hash per record,
// collection-valued fields each get a derived sub-key, and per-kind id-set
// membership is authoritative for existence.
package store

import (
	"context"
	"sort"
	"strconv"

	"github.com/gridrock/gridpool/internal/model"
)

type Store interface {
	// IDs returns the ids registered for the schema's kind, sorted.
	IDs(ctx context.Context, schema model.Schema) ([]string, error)
	// Exists reports id-set membership.
	Exists(ctx context.Context, schema model.Schema, id string) (bool, error)
	// Read assembles one record, re-attaching the id. ok is false when the
	// record's scalar hash does not exist.
	Read(ctx context.Context, schema model.Schema, id string) (rec model.Record, ok bool, err error)
	// Write registers the id and writes every field present in rec as one
	// atomic unit. Collection fields are replaced whole.
	Write(ctx context.Context, schema model.Schema, id string, rec model.Record) error
	// SetField updates a single scalar field on an existing record.
	SetField(ctx context.Context, schema model.Schema, id, field string, value any) error
	// SoftDelete sets the internal deletion marker without freeing keys.
	SoftDelete(ctx context.Context, schema model.Schema, id string) error
	// HardDelete removes the record's sub-keys, scalar hash, and id-set
	// membership. Not atomic; List tolerates partial completion.
	HardDelete(ctx context.Context, schema model.Schema, id string) error
	// List reads every registered record, skipping ids whose scalar hash
	// has vanished and, unless asked, soft-deleted records.
	List(ctx context.Context, schema model.Schema, includeSoftDeleted bool) ([]model.Record, error)
}

// rawRecord is what the string-valued backends (redis, postgres) hand back
// before coercion.
type rawRecord struct {
	scalars map[string]string
	sets    map[string][]string
	lists   map[string][]string
	maps    map[string]map[string]string
}

// coerce assembles a typed record from backend strings per the schema,
// failing with a CoercionError when a stored value cannot satisfy the
// declared field kind.
func coerce(schema model.Schema, id string, raw rawRecord) (model.Record, error) {
	rec := model.Record{"id": id}
	for field, kind := range schema.Fields {
		switch kind {
		case model.String:
			if v, ok := raw.scalars[field]; ok {
				rec[field] = v
			}
		case model.Int:
			v, ok := raw.scalars[field]
			if !ok {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &model.CoercionError{Kind: schema.Kind, ID: id, Field: field, Value: v}
			}
			rec[field] = n
		case model.Bool:
			v, ok := raw.scalars[field]
			if !ok {
				continue
			}
			b, err := parseBool(v)
			if err != nil {
				return nil, &model.CoercionError{Kind: schema.Kind, ID: id, Field: field, Value: v}
			}
			rec[field] = b
		case model.StringSet:
			members := append([]string(nil), raw.sets[field]...)
			sort.Strings(members)
			rec[field] = members
		case model.StringList:
			rec[field] = append([]string(nil), raw.lists[field]...)
		case model.StringMap:
			entries := make(map[string]string, len(raw.maps[field]))
			for k, v := range raw.maps[field] {
				entries[k] = v
			}
			rec[field] = entries
		}
	}
	return rec, nil
}

func parseBool(value string) (bool, error) {
	switch value {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return strconv.ParseBool(value)
}

// encodeScalar renders a scalar value for the string-valued backends.
// Returns ok=false for values of a kind the schema does not allow.
func encodeScalar(kind model.FieldKind, value any) (string, bool) {
	switch kind {
	case model.String:
		v, ok := value.(string)
		return v, ok
	case model.Int:
		v, ok := value.(int)
		if !ok {
			return "", false
		}
		return strconv.Itoa(v), true
	case model.Bool:
		v, ok := value.(bool)
		if !ok {
			return "", false
		}
		return strconv.FormatBool(v), true
	}
	return "", false
}

func isScalar(kind model.FieldKind) bool {
	switch kind {
	case model.String, model.Int, model.Bool:
		return true
	}
	return false
}

// filterLive drops soft-deleted records unless asked to keep them.
func filterLive(records []model.Record, includeSoftDeleted bool) []model.Record {
	if includeSoftDeleted {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Deleted() {
			continue
		}
		out = append(out, rec)
	}
	return out
}
