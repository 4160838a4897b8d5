package config

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveMergesPartialConfig(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(map[string]string{"client_id": "id-1", "refresh_token": "rt-1"}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(map[string]string{"refresh_token": "rt-2", "token_expiry": "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	expected := map[string]string{
		"client_id":     "id-1",
		"refresh_token": "rt-2",
		"token_expiry":  "2026-01-01T00:00:00Z",
	}
	if len(cfg) != len(expected) {
		t.Fatalf("Load returned %d keys, expected %d: %v", len(cfg), len(expected), cfg)
	}
	for key, want := range expected {
		if cfg[key] != want {
			t.Errorf("cfg[%q] = %q, expected %q", key, cfg[key], want)
		}
	}
}

func TestGetMissingKeyIsEmpty(t *testing.T) {
	store := newTestStore(t)

	value, err := store.Get("does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "" {
		t.Errorf("Get returned %q, expected empty string", value)
	}
}

func TestSaveEmptyPartialIsNoop(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg) != 0 {
		t.Errorf("Load returned %d keys, expected 0", len(cfg))
	}
}
