package core

import (
	"path/filepath"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlite"
)

func TestOpenRevisionStoreFromEnv(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		t.Setenv("LABCORE_STORAGE_DRIVER", "memory")
		store, err := OpenRevisionStore()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = store.Close() }()
		if _, ok := store.(*memory.Store); !ok {
			t.Fatalf("expected memory store, got %T", store)
		}
	})
	t.Run("sqlite default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.db")
		t.Setenv("LABCORE_STORAGE_DRIVER", "")
		t.Setenv("LABCORE_SQLITE_PATH", path)
		store, err := OpenRevisionStore()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = store.Close() }()
		s, ok := store.(*sqlite.Store)
		if !ok {
			t.Fatalf("expected sqlite store, got %T", store)
		}
		if s.Path() != path {
			t.Fatalf("path = %s, want %s", s.Path(), path)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		t.Setenv("LABCORE_STORAGE_DRIVER", "mongo")
		if _, err := OpenRevisionStore(); err == nil {
			t.Fatalf("expected unknown driver error")
		}
	})
}
