package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"photoenhance/internal/domain"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "photos/u1/p1/source.png", want: "photos/u1/p1/source.png"},
		{in: "/photos//u1/./p1.png", want: "photos/u1/p1.png"},
		{in: `photos\u1\p1.png`, want: "photos/u1/p1.png"},
		{in: "photos/../../etc/passwd", want: "etc/passwd"},
		{in: "../etc/passwd", wantErr: true},
		{in: "/", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestWriteReadDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	key, err := store.Write(ctx, "photos/u1/p1/source.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := store.Read(ctx, key)
	if err != nil || string(data) != "pixels" {
		t.Fatalf("Read = %q, %v", data, err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestWriteLeavesNoStagingFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	for _, body := range []string{"first", "second"} {
		if _, err := store.Write(ctx, "photos/u1/p1/enhanced-1.png", []byte(body)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "photos", "u1", "p1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "enhanced-1.png" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
	data, _ := store.Read(ctx, "photos/u1/p1/enhanced-1.png")
	if string(data) != "second" {
		t.Fatalf("overwrite lost: %q", data)
	}
}

func TestCanceledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a.png", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
