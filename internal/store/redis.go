package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gridrock/gridpool/internal/model"
)

// RedisStore is the primary backend. Scalars live in a hash at
// <prefix>:<kind>:<id>, each collection field at <prefix>:<kind>:<id>:<field>
// (SET, LIST, or HASH), and the id-set at <prefix>:<kind>:ids. Every Write
// commits through one MULTI/EXEC pipeline so id-set membership and field
// keys never diverge.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "gridpool"
	}
	return &RedisStore{client: client, prefix: normalized}
}

func (s *RedisStore) idsKey(kind string) string {
	return s.prefix + ":" + kind + ":ids"
}

func (s *RedisStore) recordKey(kind, id string) string {
	return s.prefix + ":" + kind + ":" + id
}

func (s *RedisStore) fieldKey(kind, id, field string) string {
	return s.recordKey(kind, id) + ":" + field
}

func (s *RedisStore) IDs(ctx context.Context, schema model.Schema) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey(schema.Kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s id-set: %w", schema.Kind, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Exists(ctx context.Context, schema model.Schema, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.idsKey(schema.Kind), id).Result()
	if err != nil {
		return false, fmt.Errorf("check %s/%s membership: %w", schema.Kind, id, err)
	}
	return ok, nil
}

func (s *RedisStore) Read(ctx context.Context, schema model.Schema, id string) (model.Record, bool, error) {
	scalars, err := s.client.HGetAll(ctx, s.recordKey(schema.Kind, id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", schema.Kind, id, err)
	}
	if len(scalars) == 0 {
		return nil, false, nil
	}

	raw := rawRecord{
		scalars: scalars,
		sets:    make(map[string][]string),
		lists:   make(map[string][]string),
		maps:    make(map[string]map[string]string),
	}
	for field, kind := range schema.Fields {
		key := s.fieldKey(schema.Kind, id, field)
		switch kind {
		case model.StringSet:
			members, err := s.client.SMembers(ctx, key).Result()
			if err != nil {
				return nil, false, fmt.Errorf("read %s/%s field %s: %w", schema.Kind, id, field, err)
			}
			raw.sets[field] = members
		case model.StringList:
			items, err := s.client.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return nil, false, fmt.Errorf("read %s/%s field %s: %w", schema.Kind, id, field, err)
			}
			raw.lists[field] = items
		case model.StringMap:
			entries, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, false, fmt.Errorf("read %s/%s field %s: %w", schema.Kind, id, field, err)
			}
			raw.maps[field] = entries
		}
	}

	rec, err := coerce(schema, id, raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Write(ctx context.Context, schema model.Schema, id string, rec model.Record) error {
	staged, err := stageWrite(schema, rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.idsKey(schema.Kind), id)
	if len(staged.scalars) > 0 {
		flat := make([]any, 0, len(staged.scalars)*2)
		for field, value := range staged.scalars {
			flat = append(flat, field, value)
		}
		pipe.HSet(ctx, s.recordKey(schema.Kind, id), flat...)
	}
	for field, members := range staged.sets {
		key := s.fieldKey(schema.Kind, id, field)
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, toAny(members)...)
		}
	}
	for field, items := range staged.lists {
		key := s.fieldKey(schema.Kind, id, field)
		pipe.Del(ctx, key)
		if len(items) > 0 {
			pipe.RPush(ctx, key, toAny(items)...)
		}
	}
	for field, entries := range staged.maps {
		key := s.fieldKey(schema.Kind, id, field)
		pipe.Del(ctx, key)
		if len(entries) > 0 {
			flat := make([]any, 0, len(entries)*2)
			for k, v := range entries {
				flat = append(flat, k, v)
			}
			pipe.HSet(ctx, key, flat...)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write %s/%s: %w", schema.Kind, id, err)
	}
	return nil
}

func (s *RedisStore) SetField(ctx context.Context, schema model.Schema, id, field string, value any) error {
	kind, ok := schema.Fields[field]
	if !ok || !isScalar(kind) {
		return model.Validationf("%s has no scalar field %q", schema.Kind, field)
	}
	encoded, ok := encodeScalar(kind, value)
	if !ok {
		return model.Validationf("%s field %q: unsupported value %v", schema.Kind, field, value)
	}

	exists, err := s.client.Exists(ctx, s.recordKey(schema.Kind, id)).Result()
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", schema.Kind, id, err)
	}
	if exists == 0 {
		return model.ErrNotFound
	}
	if err := s.client.HSet(ctx, s.recordKey(schema.Kind, id), field, encoded).Err(); err != nil {
		return fmt.Errorf("set %s/%s field %s: %w", schema.Kind, id, field, err)
	}
	return nil
}

func (s *RedisStore) SoftDelete(ctx context.Context, schema model.Schema, id string) error {
	err := s.SetField(ctx, schema, id, model.FieldDeleted, true)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrNotFound
	}
	return err
}

// HardDelete removes keys one by one; a crash mid-way leaves either an
// orphaned id-set member (List skips it) or orphaned sub-keys with no
// id-set member (unreachable, overwritten on id reuse).
func (s *RedisStore) HardDelete(ctx context.Context, schema model.Schema, id string) error {
	for field, kind := range schema.Fields {
		if isScalar(kind) {
			continue
		}
		if err := s.client.Del(ctx, s.fieldKey(schema.Kind, id, field)).Err(); err != nil {
			return fmt.Errorf("delete %s/%s field %s: %w", schema.Kind, id, field, err)
		}
	}
	if err := s.client.Del(ctx, s.recordKey(schema.Kind, id)).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", schema.Kind, id, err)
	}
	if err := s.client.SRem(ctx, s.idsKey(schema.Kind), id).Err(); err != nil {
		return fmt.Errorf("deregister %s/%s: %w", schema.Kind, id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, schema model.Schema, includeSoftDeleted bool) ([]model.Record, error) {
	ids, err := s.IDs(ctx, schema)
	if err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.Read(ctx, schema, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return filterLive(records, includeSoftDeleted), nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
