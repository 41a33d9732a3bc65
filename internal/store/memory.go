package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gridrock/gridpool/internal/model"
)

// MemoryStore keeps records in process memory. It stores field values in
// the same string-rendered form the redis backend does, so reads exercise
// the exact coercion path.
type MemoryStore struct {
	mu   sync.RWMutex
	ids  map[string]map[string]struct{}
	recs map[string]map[string]*rawRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:  make(map[string]map[string]struct{}),
		recs: make(map[string]map[string]*rawRecord),
	}
}

func (s *MemoryStore) IDs(_ context.Context, schema model.Schema) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.ids[schema.Kind]))
	for id := range s.ids[schema.Kind] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, schema model.Schema, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[schema.Kind][id]
	return ok, nil
}

func (s *MemoryStore) Read(_ context.Context, schema model.Schema, id string) (model.Record, bool, error) {
	s.mu.RLock()
	raw, ok := s.recs[schema.Kind][id]
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	snapshot := raw.clone()
	s.mu.RUnlock()

	rec, err := coerce(schema, id, *snapshot)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *MemoryStore) Write(_ context.Context, schema model.Schema, id string, rec model.Record) error {
	staged, err := stageWrite(schema, rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ids[schema.Kind] == nil {
		s.ids[schema.Kind] = make(map[string]struct{})
	}
	s.ids[schema.Kind][id] = struct{}{}

	if s.recs[schema.Kind] == nil {
		s.recs[schema.Kind] = make(map[string]*rawRecord)
	}
	existing, ok := s.recs[schema.Kind][id]
	if !ok {
		existing = newRawRecord()
		s.recs[schema.Kind][id] = existing
	}
	existing.merge(staged)
	return nil
}

func (s *MemoryStore) SetField(_ context.Context, schema model.Schema, id, field string, value any) error {
	kind, ok := schema.Fields[field]
	if !ok || !isScalar(kind) {
		return model.Validationf("%s has no scalar field %q", schema.Kind, field)
	}
	encoded, ok := encodeScalar(kind, value)
	if !ok {
		return model.Validationf("%s field %q: unsupported value %v", schema.Kind, field, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.recs[schema.Kind][id]
	if !ok {
		return model.ErrNotFound
	}
	raw.scalars[field] = encoded
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, schema model.Schema, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.recs[schema.Kind][id]
	if !ok {
		return model.ErrNotFound
	}
	raw.scalars[model.FieldDeleted] = "true"
	return nil
}

func (s *MemoryStore) HardDelete(_ context.Context, schema model.Schema, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recs[schema.Kind], id)
	delete(s.ids[schema.Kind], id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, schema model.Schema, includeSoftDeleted bool) ([]model.Record, error) {
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
			// id-set member whose record vanished mid-delete
			continue
		}
		records = append(records, rec)
	}
	return filterLive(records, includeSoftDeleted), nil
}

// dropRecord removes a record's field storage while leaving its id-set
// membership in place, simulating a crash between the two halves of a hard
// delete. Test hook.
func (s *MemoryStore) dropRecord(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs[kind], id)
}

func newRawRecord() *rawRecord {
	return &rawRecord{
		scalars: make(map[string]string),
		sets:    make(map[string][]string),
		lists:   make(map[string][]string),
		maps:    make(map[string]map[string]string),
	}
}

func (r *rawRecord) clone() *rawRecord {
	out := newRawRecord()
	out.merge(r)
	return out
}

func (r *rawRecord) merge(in *rawRecord) {
	for k, v := range in.scalars {
		r.scalars[k] = v
	}
	for k, v := range in.sets {
		r.sets[k] = append([]string(nil), v...)
	}
	for k, v := range in.lists {
		r.lists[k] = append([]string(nil), v...)
	}
	for k, v := range in.maps {
		entries := make(map[string]string, len(v))
		for mk, mv := range v {
			entries[mk] = mv
		}
		r.maps[k] = entries
	}
}

// stageWrite validates a record against its schema and renders it into
// backend form. Shared by the memory backend; the redis and postgres
// backends do the equivalent inline while building their pipelines.
func stageWrite(schema model.Schema, rec model.Record) (*rawRecord, error) {
	staged := newRawRecord()
	for field, value := range rec {
		if field == "id" {
			continue
		}
		kind, ok := schema.Fields[field]
		if !ok {
			return nil, model.Validationf("%s has no field %q", schema.Kind, field)
		}
		switch kind {
		case model.String, model.Int, model.Bool:
			encoded, ok := encodeScalar(kind, value)
			if !ok {
				return nil, model.Validationf("%s field %q: unsupported value %v", schema.Kind, field, value)
			}
			staged.scalars[field] = encoded
		case model.StringSet:
			members, ok := value.([]string)
			if !ok {
				return nil, model.Validationf("%s field %q: expected []string", schema.Kind, field)
			}
			staged.sets[field] = model.NormalizeTags(members)
		case model.StringList:
			items, ok := value.([]string)
			if !ok {
				return nil, model.Validationf("%s field %q: expected []string", schema.Kind, field)
			}
			staged.lists[field] = append([]string(nil), items...)
		case model.StringMap:
			entries, ok := value.(map[string]string)
			if !ok {
				if value == nil {
					entries = nil
				} else {
					return nil, model.Validationf("%s field %q: expected map[string]string", schema.Kind, field)
				}
			}
			copied := make(map[string]string, len(entries))
			for k, v := range entries {
				copied[k] = v
			}
			staged.maps[field] = copied
		}
	}
	return staged, nil
}
