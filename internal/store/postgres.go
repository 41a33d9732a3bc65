package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridrock/gridpool/internal/model"
)

// PostgresStore mirrors the redis layout in three tables: one row per
// scalar field, one row per collection item, and one row per registered id.
// Writes run in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS record_ids (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	PRIMARY KEY (kind, id)
)`,
		`
CREATE TABLE IF NOT EXISTS record_scalars (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (kind, id, field)
)`,
		`
CREATE TABLE IF NOT EXISTS record_items (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	field TEXT NOT NULL,
	pos INT NOT NULL,
	item_key TEXT NOT NULL DEFAULT '',
	item_value TEXT NOT NULL,
	PRIMARY KEY (kind, id, field, pos, item_key)
)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) IDs(ctx context.Context, schema model.Schema) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM record_ids WHERE kind = $1 ORDER BY id`, schema.Kind)
	if err != nil {
		return nil, fmt.Errorf("read %s id-set: %w", schema.Kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Exists(ctx context.Context, schema model.Schema, id string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM record_ids WHERE kind = $1 AND id = $2)`,
		schema.Kind, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check %s/%s membership: %w", schema.Kind, id, err)
	}
	return found, nil
}

func (s *PostgresStore) Read(ctx context.Context, schema model.Schema, id string) (model.Record, bool, error) {
	raw := rawRecord{
		scalars: make(map[string]string),
		sets:    make(map[string][]string),
		lists:   make(map[string][]string),
		maps:    make(map[string]map[string]string),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT field, value FROM record_scalars WHERE kind = $1 AND id = $2`,
		schema.Kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", schema.Kind, id, err)
	}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			rows.Close()
			return nil, false, err
		}
		raw.scalars[field] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(raw.scalars) == 0 {
		return nil, false, nil
	}

	rows, err = s.pool.Query(ctx,
		`SELECT field, pos, item_key, item_value FROM record_items
		 WHERE kind = $1 AND id = $2 ORDER BY field, pos`,
		schema.Kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s items: %w", schema.Kind, id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var field, itemKey, itemValue string
		var pos int
		if err := rows.Scan(&field, &pos, &itemKey, &itemValue); err != nil {
			return nil, false, err
		}
		switch schema.Fields[field] {
		case model.StringSet:
			raw.sets[field] = append(raw.sets[field], itemValue)
		case model.StringList:
			raw.lists[field] = append(raw.lists[field], itemValue)
		case model.StringMap:
			if raw.maps[field] == nil {
				raw.maps[field] = make(map[string]string)
			}
			raw.maps[field][itemKey] = itemValue
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rec, err := coerce(schema, id, raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) Write(ctx context.Context, schema model.Schema, id string, rec model.Record) error {
	staged, err := stageWrite(schema, rec)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin write %s/%s: %w", schema.Kind, id, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO record_ids (kind, id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		schema.Kind, id); err != nil {
		return fmt.Errorf("register %s/%s: %w", schema.Kind, id, err)
	}
	for field, value := range staged.scalars {
		if _, err := tx.Exec(ctx, `
INSERT INTO record_scalars (kind, id, field, value) VALUES ($1, $2, $3, $4)
ON CONFLICT (kind, id, field) DO UPDATE SET value = EXCLUDED.value`,
			schema.Kind, id, field, value); err != nil {
			return fmt.Errorf("write %s/%s field %s: %w", schema.Kind, id, field, err)
		}
	}

	writeItems := func(field, itemKey, itemValue string, pos int) error {
		_, err := tx.Exec(ctx, `
INSERT INTO record_items (kind, id, field, pos, item_key, item_value)
VALUES ($1, $2, $3, $4, $5, $6)`,
			schema.Kind, id, field, pos, itemKey, itemValue)
		return err
	}
	replaceField := func(field string) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM record_items WHERE kind = $1 AND id = $2 AND field = $3`,
			schema.Kind, id, field)
		return err
	}

	for field, members := range staged.sets {
		if err := replaceField(field); err != nil {
			return fmt.Errorf("replace %s/%s field %s: %w", schema.Kind, id, field, err)
		}
		// a set member keys itself so rows stay unique at pos 0
		for _, member := range members {
			if err := writeItems(field, member, member, 0); err != nil {
				return fmt.Errorf("write %s/%s field %s: %w", schema.Kind, id, field, err)
			}
		}
	}
	for field, items := range staged.lists {
		if err := replaceField(field); err != nil {
			return fmt.Errorf("replace %s/%s field %s: %w", schema.Kind, id, field, err)
		}
		for pos, item := range items {
			if err := writeItems(field, "", item, pos); err != nil {
				return fmt.Errorf("write %s/%s field %s: %w", schema.Kind, id, field, err)
			}
		}
	}
	for field, entries := range staged.maps {
		if err := replaceField(field); err != nil {
			return fmt.Errorf("replace %s/%s field %s: %w", schema.Kind, id, field, err)
		}
		for k, v := range entries {
			if err := writeItems(field, k, v, 0); err != nil {
				return fmt.Errorf("write %s/%s field %s: %w", schema.Kind, id, field, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit write %s/%s: %w", schema.Kind, id, err)
	}
	return nil
}

func (s *PostgresStore) SetField(ctx context.Context, schema model.Schema, id, field string, value any) error {
	kind, ok := schema.Fields[field]
	if !ok || !isScalar(kind) {
		return model.Validationf("%s has no scalar field %q", schema.Kind, field)
	}
	encoded, ok := encodeScalar(kind, value)
	if !ok {
		return model.Validationf("%s field %q: unsupported value %v", schema.Kind, field, value)
	}

	exists, err := s.Exists(ctx, schema, id)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO record_scalars (kind, id, field, value) VALUES ($1, $2, $3, $4)
ON CONFLICT (kind, id, field) DO UPDATE SET value = EXCLUDED.value`,
		schema.Kind, id, field, encoded); err != nil {
		return fmt.Errorf("set %s/%s field %s: %w", schema.Kind, id, field, err)
	}
	return nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, schema model.Schema, id string) error {
	return s.SetField(ctx, schema, id, model.FieldDeleted, true)
}

func (s *PostgresStore) HardDelete(ctx context.Context, schema model.Schema, id string) error {
	// Deliberately not transactional to match the redis backend's partial
	// failure contract.
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM record_items WHERE kind = $1 AND id = $2`, schema.Kind, id); err != nil {
		return fmt.Errorf("delete %s/%s items: %w", schema.Kind, id, err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM record_scalars WHERE kind = $1 AND id = $2`, schema.Kind, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", schema.Kind, id, err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM record_ids WHERE kind = $1 AND id = $2`, schema.Kind, id); err != nil {
		return fmt.Errorf("deregister %s/%s: %w", schema.Kind, id, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, schema model.Schema, includeSoftDeleted bool) ([]model.Record, error) {
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
