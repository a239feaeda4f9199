package arena

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRegion(t *testing.T) {
	t.Run("Carve is cache line aligned and bounded", func(t *testing.T) {
		r, err := NewRegion(4096, nil)
		if err != nil {
			t.Fatalf("failed to map region: %v", err)
		}
		defer r.Close()

		a, err := r.Carve(10)
		if err != nil {
			t.Fatalf("failed to carve: %v", err)
		}
		b, err := r.Carve(100)
		if err != nil {
			t.Fatalf("failed to carve: %v", err)
		}
		if len(a) != 10 || cap(a) != 10 {
			t.Errorf("expected len/cap 10, got len=%d, cap=%d", len(a), cap(a))
		}
		if len(b) != 100 {
			t.Errorf("expected len 100, got %d", len(b))
		}
		a[9] = 1
		if b[0] != 0 {
			t.Error("expected carved ranges not to overlap")
		}
		if _, err := r.Carve(r.Size()); !errors.Is(err, ErrRegionTooSmall) {
			t.Errorf("expected ErrRegionTooSmall, got %v", err)
		}
	})

	t.Run("Size is page aligned", func(t *testing.T) {
		r, err := NewRegion(1, nil)
		if err != nil {
			t.Fatalf("failed to map region: %v", err)
		}
		defer r.Close()
		if r.Size() < 1 || r.Size()%CacheLine != 0 {
			t.Errorf("expected a page aligned size, got %d", r.Size())
		}
	})

	t.Run("Carve after close fails", func(t *testing.T) {
		r, err := NewRegion(4096, nil)
		if err != nil {
			t.Fatalf("failed to map region: %v", err)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("failed to close: %v", err)
		}
		if _, err := r.Carve(1); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("expected second close to be a no-op, got %v", err)
		}
	})

	t.Run("File-backed region survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "region")
		r, created, err := OpenRegion(path, 8192, nil)
		if err != nil {
			t.Fatalf("failed to open region: %v", err)
		}
		if !created {
			t.Fatal("expected a new region to be created")
		}
		mem, err := r.Carve(16)
		if err != nil {
			t.Fatalf("failed to carve: %v", err)
		}
		copy(mem, "persistent bytes")
		if err := r.Close(); err != nil {
			t.Fatalf("failed to close: %v", err)
		}

		r, created, err = OpenRegion(path, 8192, nil)
		if err != nil {
			t.Fatalf("failed to reopen region: %v", err)
		}
		defer r.Close()
		if created {
			t.Fatal("expected the existing region to be reopened")
		}
		mem, err = r.Carve(16)
		if err != nil {
			t.Fatalf("failed to carve: %v", err)
		}
		if string(mem) != "persistent bytes" {
			t.Errorf("expected %q, got %q", "persistent bytes", mem)
		}
	})

	t.Run("File-backed region rejects a different size", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "region")
		r, _, err := OpenRegion(path, 8192, nil)
		if err != nil {
			t.Fatalf("failed to open region: %v", err)
		}
		r.Close()
		if _, _, err := OpenRegion(path, 1<<20, nil); !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("expected ErrSizeMismatch, got %v", err)
		}
	})

	t.Run("Sync writes a file-backed region to its file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "region")
		r, _, err := OpenRegion(path, 4096, nil)
		if err != nil {
			t.Fatalf("failed to open region: %v", err)
		}
		defer r.Close()
		mem, _ := r.Carve(6)
		copy(mem, "synced")
		if err := r.Sync(); err != nil {
			t.Fatalf("failed to sync: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if !bytes.HasPrefix(data, []byte("synced")) {
			t.Errorf("expected the file to start with %q, got %q", "synced", data[:6])
		}
	})

	t.Run("Sync of an anonymous region is a no-op", func(t *testing.T) {
		r, err := NewRegion(4096, nil)
		if err != nil {
			t.Fatalf("failed to map region: %v", err)
		}
		if err := r.Sync(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		r.Close()
		if err := r.Sync(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed after close, got %v", err)
		}
	})
}
