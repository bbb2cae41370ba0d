// Package storetest provides the shared contract test for domain.Store
// implementations plus an in-memory store used by handler and queue tests.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/DaanH/buildings-visualizer/internal/domain"
)

// Run exercises the domain.Store contract against the given store. Every
// driver test calls this with a fresh store.
func Run(t *testing.T, s domain.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		if _, err := s.Get(ctx, "never-stored"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get on missing record: got %v, want ErrNotFound", err)
		}
		if _, err := s.GetField(ctx, "never-stored", domain.FieldStatus); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetField on missing record: got %v, want ErrNotFound", err)
		}
		if n, err := s.Delete(ctx, "never-stored"); err != nil || n != 0 {
			t.Fatalf("Delete on missing record: got (%d, %v), want (0, nil)", n, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		meta := map[string]any{
			"prompt":    "repaint the walls",
			"colorHex":  "#00ff7f",
			"quantity":  float64(2),
			"flags":     []any{"a", "b"},
			"nested":    map[string]any{"k": "v"},
			"jsonExact": `{"looks":"like json"}`,
		}
		patch := domain.RecordPatch{
			Data:      domain.String("data:image/png;base64,aGVsbG8="),
			Status:    domain.StatusOf(domain.StatusCompleted),
			FileName:  domain.String("house.png"),
			Timestamp: domain.String("2024-06-01T10:00:00Z"),
			Metadata:  meta,
		}
		if err := s.Put(ctx, "rt-1", patch); err != nil {
			t.Fatalf("Put: %v", err)
		}
		rec, err := s.Get(ctx, "rt-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.ID != "rt-1" || rec.Data != *patch.Data || rec.Status != domain.StatusCompleted ||
			rec.FileName != "house.png" || rec.Timestamp != "2024-06-01T10:00:00Z" {
			t.Fatalf("record fields did not round-trip: %+v", rec)
		}
		if !reflect.DeepEqual(rec.Metadata, meta) {
			t.Fatalf("metadata did not round-trip:\n got %#v\nwant %#v", rec.Metadata, meta)
		}
		// A string value that happens to be valid JSON must stay a string.
		if v, ok := rec.Metadata["jsonExact"].(string); !ok || v != `{"looks":"like json"}` {
			t.Fatalf("jsonExact decoded as %T %v, want original string", rec.Metadata["jsonExact"], rec.Metadata["jsonExact"])
		}
	})

	t.Run("get field", func(t *testing.T) {
		patch := domain.RecordPatch{
			Status:   domain.StatusOf(domain.StatusPending),
			Metadata: map[string]any{"colorHex": "#336699"},
		}
		if err := s.Put(ctx, "gf-1", patch); err != nil {
			t.Fatalf("Put: %v", err)
		}
		v, err := s.GetField(ctx, "gf-1", domain.FieldStatus)
		if err != nil {
			t.Fatalf("GetField status: %v", err)
		}
		if v != string(domain.StatusPending) {
			t.Fatalf("GetField status: got %v, want pending", v)
		}
		mv, err := s.GetField(ctx, "gf-1", "colorHex")
		if err != nil {
			t.Fatalf("GetField metadata: %v", err)
		}
		if mv != "#336699" {
			t.Fatalf("GetField metadata: got %v, want #336699", mv)
		}
		if _, err := s.GetField(ctx, "gf-1", "no-such-field"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetField missing field: got %v, want ErrNotFound", err)
		}
	})

	t.Run("overwrite keeps unsupplied fields and replaces metadata", func(t *testing.T) {
		first := domain.RecordPatch{
			Status:   domain.StatusOf(domain.StatusPending),
			FileName: domain.String("before.png"),
			Metadata: map[string]any{"prompt": "green walls", "extra": "kept?"},
		}
		if err := s.Put(ctx, "ow-1", first); err != nil {
			t.Fatalf("Put first: %v", err)
		}
		second := domain.RecordPatch{
			Data:     domain.String("data:image/png;base64,bmV3"),
			Status:   domain.StatusOf(domain.StatusCompleted),
			Metadata: map[string]any{"prompt": "green walls"},
		}
		if err := s.Put(ctx, "ow-1", second); err != nil {
			t.Fatalf("Put second: %v", err)
		}
		rec, err := s.Get(ctx, "ow-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status != domain.StatusCompleted {
			t.Fatalf("status: got %s, want completed", rec.Status)
		}
		if rec.Data != "data:image/png;base64,bmV3" {
			t.Fatalf("data: got %q", rec.Data)
		}
		if rec.FileName != "before.png" {
			t.Fatalf("unsupplied fileName should persist, got %q", rec.FileName)
		}
		if _, ok := rec.Metadata["extra"]; ok {
			t.Fatalf("metadata was merged, want full replacement: %#v", rec.Metadata)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Put(ctx, "del-1", domain.RecordPatch{Status: domain.StatusOf(domain.StatusPending)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		n, err := s.Delete(ctx, "del-1")
		if err != nil || n != 1 {
			t.Fatalf("Delete: got (%d, %v), want (1, nil)", n, err)
		}
		if _, err := s.Get(ctx, "del-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
		}
	})
}

// MemStore is a map-backed domain.Store for tests.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*domain.Record
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*domain.Record)}
}

func (m *MemStore) Put(ctx context.Context, id string, patch domain.RecordPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		rec = &domain.Record{ID: id}
		m.records[id] = rec
	}
	if patch.Data != nil {
		rec.Data = *patch.Data
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.FileName != nil {
		rec.FileName = *patch.FileName
	}
	if patch.Timestamp != nil {
		rec.Timestamp = *patch.Timestamp
	}
	if patch.ErrorMessage != nil {
		rec.ErrorMessage = *patch.ErrorMessage
	}
	if patch.Metadata != nil {
		rec.Metadata = make(map[string]any, len(patch.Metadata))
		for k, v := range patch.Metadata {
			rec.Metadata[k] = v
		}
	}
	return nil
}

func (m *MemStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rec
	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out, nil
}

func (m *MemStore) GetField(ctx context.Context, id, field string) (any, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch field {
	case domain.FieldData:
		return rec.Data, nil
	case domain.FieldStatus:
		return string(rec.Status), nil
	case domain.FieldFileName:
		return rec.FileName, nil
	case domain.FieldTimestamp:
		return rec.Timestamp, nil
	case domain.FieldErrorMessage:
		return rec.ErrorMessage, nil
	}
	if v, ok := rec.Metadata[field]; ok {
		return v, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MemStore) Delete(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return 0, nil
	}
	delete(m.records, id)
	return 1, nil
}

func (m *MemStore) Ping(ctx context.Context) error { return nil }

func (m *MemStore) Close() error { return nil }

var _ domain.Store = (*MemStore)(nil)
