package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gridrock/gridpool/internal/model"
)

func TestWriteReadRoundTripAllFieldKinds(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	rec := model.Record{
		"browser_name": "firefox",
		"webdriver_id": "wd-1",
		"reserved":     true,
		"current_url":  "http://example.com",
		"node_id":      "node_abc",
		"proxy_id":     "",
		"tags":         []string{"b", "a", "a"},
		"capabilities": map[string]string{"version": "109", "platform": "LINUX"},
		"deleted":      false,
	}
	if err := st.Write(ctx, model.SessionSchema, "sess_1", rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok, err := st.Read(ctx, model.SessionSchema, "sess_1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if got.Str("id") != "sess_1" {
		t.Fatalf("expected id re-injected, got %q", got.Str("id"))
	}
	if got.Str("browser_name") != "firefox" || !got.Bool("reserved") {
		t.Fatalf("scalar round-trip mismatch: %#v", got)
	}
	if !reflect.DeepEqual(got.Strings("tags"), []string{"a", "b"}) {
		t.Fatalf("expected deduplicated sorted tags, got %#v", got.Strings("tags"))
	}
	if !reflect.DeepEqual(got.StringMap("capabilities"), map[string]string{"version": "109", "platform": "LINUX"}) {
		t.Fatalf("capabilities round-trip mismatch: %#v", got.StringMap("capabilities"))
	}
}

func TestWriteRejectsUnknownField(t *testing.T) {
	st := NewMemoryStore()
	err := st.Write(context.Background(), model.NodeSchema, "node_1", model.Record{"nope": "x"})
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReadAbsentRecord(t *testing.T) {
	st := NewMemoryStore()
	_, ok, err := st.Read(context.Background(), model.NodeSchema, "node_missing")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ok {
		t.Fatalf("expected absent record")
	}
}

func TestPartialWritePreservesOtherFields(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	node := model.Node{ID: "node_1", URL: "http://10.0.0.1:5555", Tags: []string{"linux"}, MaxSessions: 5}
	if err := st.Write(ctx, model.NodeSchema, node.ID, node.Record()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.Write(ctx, model.NodeSchema, node.ID, model.Record{"tags": []string{"linux", "gpu"}}); err != nil {
		t.Fatalf("partial write: %v", err)
	}

	rec, ok, err := st.Read(ctx, model.NodeSchema, node.ID)
	if err != nil || !ok {
		t.Fatalf("read: ok=%t err=%v", ok, err)
	}
	got := model.NodeFromRecord(rec)
	if got.URL != node.URL || got.MaxSessions != 5 {
		t.Fatalf("untouched fields changed: %#v", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"gpu", "linux"}) {
		t.Fatalf("expected replaced tags, got %#v", got.Tags)
	}
}

func TestSoftDeleteVisibility(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"node_1", "node_2"} {
		n := model.Node{ID: id, URL: "http://10.0.0.1:5555", MaxSessions: 3}
		if err := st.Write(ctx, model.NodeSchema, id, n.Record()); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	if err := st.SoftDelete(ctx, model.NodeSchema, "node_1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	live, err := st.List(ctx, model.NodeSchema, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 || live[0].Str("id") != "node_2" {
		t.Fatalf("expected only node_2 live, got %#v", live)
	}

	all, err := st.List(ctx, model.NodeSchema, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both records with include_soft_deleted, got %d", len(all))
	}

	// still occupies its keyspace until hard-deleted
	ok, err := st.Exists(ctx, model.NodeSchema, "node_1")
	if err != nil || !ok {
		t.Fatalf("expected soft-deleted id to stay registered: ok=%t err=%v", ok, err)
	}
}

func TestHardDeleteRemovesEverything(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	n := model.Node{ID: "node_1", URL: "http://10.0.0.1:5555", Tags: []string{"a"}, MaxSessions: 3}
	if err := st.Write(ctx, model.NodeSchema, n.ID, n.Record()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.HardDelete(ctx, model.NodeSchema, n.ID); err != nil {
		t.Fatalf("hard delete: %v", err)
	}

	ok, err := st.Exists(ctx, model.NodeSchema, n.ID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("expected id removed from id-set")
	}
	if _, found, _ := st.Read(ctx, model.NodeSchema, n.ID); found {
		t.Fatalf("expected record gone")
	}
}

func TestListSkipsVanishedRecords(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"node_1", "node_2"} {
		n := model.Node{ID: id, URL: "http://10.0.0.1:5555", MaxSessions: 3}
		if err := st.Write(ctx, model.NodeSchema, id, n.Record()); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	// simulate a crash between the halves of a hard delete
	st.dropRecord("node", "node_1")

	records, err := st.List(ctx, model.NodeSchema, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Str("id") != "node_2" {
		t.Fatalf("expected vanished record skipped, got %#v", records)
	}
}

func TestReadCoercionFailure(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	n := model.Node{ID: "node_1", URL: "http://10.0.0.1:5555", MaxSessions: 3}
	if err := st.Write(ctx, model.NodeSchema, n.ID, n.Record()); err != nil {
		t.Fatalf("write: %v", err)
	}
	// corrupt the stored int in place
	st.mu.Lock()
	st.recs["node"]["node_1"].scalars["max_sessions"] = "not-a-number"
	st.mu.Unlock()

	_, _, err := st.Read(ctx, model.NodeSchema, n.ID)
	var ce *model.CoercionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected coercion error, got %v", err)
	}
	if ce.Field != "max_sessions" {
		t.Fatalf("expected max_sessions to fail coercion, got %q", ce.Field)
	}
}

func TestSetFieldRequiresScalar(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	n := model.Node{ID: "node_1", URL: "http://10.0.0.1:5555", MaxSessions: 3}
	if err := st.Write(ctx, model.NodeSchema, n.ID, n.Record()); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := st.SetField(ctx, model.NodeSchema, n.ID, "tags", []string{"x"}); !model.IsValidation(err) {
		t.Fatalf("expected validation error for collection field, got %v", err)
	}
	if err := st.SetField(ctx, model.NodeSchema, "node_missing", "url", "http://10.0.0.2"); err != model.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.SetField(ctx, model.NodeSchema, n.ID, "max_sessions", 7); err != nil {
		t.Fatalf("set field: %v", err)
	}

	rec, _, err := st.Read(ctx, model.NodeSchema, n.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Int("max_sessions") != 7 {
		t.Fatalf("expected max_sessions updated, got %d", rec.Int("max_sessions"))
	}
}
