package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// exerciseStore runs the shared Store contract against one implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.Set(ctx, "b", "2"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := s.Set(ctx, "a", "3"); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}

	v, err := s.Get(ctx, "a")
	if err != nil || v != "3" {
		t.Fatalf("get a: expected 3, got %q err=%v", v, err)
	}

	if err := s.Delete(ctx, "a", "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted: expected ErrNotFound, got %v", err)
	}
	if v, err := s.Get(ctx, "b"); err != nil || v != "2" {
		t.Fatalf("get b: expected 2, got %q err=%v", v, err)
	}

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("delete without keys: %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	if err := s.Set(ctx, "a", "1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no writes on canceled context")
	}
}

func TestFileStore_Contract(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "creds.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	ctx := context.Background()

	a, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}

	b, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("expected persisted value, got %q err=%v", got, err)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := fi.Mode().Perm(); perm != fileFilePerm {
			t.Fatalf("expected file perm %o, got %o", fileFilePerm, perm)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the store file (no temp leftovers), got %d entries", len(entries))
	}
}

func TestFileStore_DeleteMissingKeysLeavesNoFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get without file: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "k", "other"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("delete of missing keys must not write the file, stat err=%v", err)
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = s.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFileStore(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestWithSchema_RejectsInvalidIdentifiers(t *testing.T) {
	t.Parallel()

	cases := []string{"", "  ", "1abc", "bad-name", `x"; DROP TABLE y; --`}
	for _, in := range cases {
		s := &PostgresStore{}
		if err := WithSchema(in)(s); err == nil {
			t.Fatalf("expected error for schema %q", in)
		}
	}

	s := &PostgresStore{}
	if err := WithSchema("pulse_test")(s); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
	if s.schema != "pulse_test" {
		t.Fatalf("schema not applied")
	}
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
