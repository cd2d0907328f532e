package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QOne = `--sql 33a9006f-40a8-4fa9-92ba-35a7b75f50ed\nselect 1;\n`\n\nconst label = \"ready for update\"\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if vs := l.result(); len(vs) != 0 {
		t.Fatalf("expected no violations, got %+v", vs)
	}
}

func TestLintFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QBare = `\nselect id from photos;\n`\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	vs := l.result()
	if len(vs) != 1 || vs[0].name != "QBare" {
		t.Fatalf("expected one violation for QBare, got %+v", vs)
	}
}

func TestLintFlagsDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QA = `--sql 4745f51e-3bb4-4310-ab57-ffea8caeb2f1\nselect 1;\n`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QB = `--sql 4745f51e-3bb4-4310-ab57-ffea8caeb2f1\nselect 2;\n`\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	vs := l.result()
	if len(vs) != 2 {
		t.Fatalf("expected both uses flagged, got %+v", vs)
	}
	for _, v := range vs {
		if !strings.HasPrefix(v.message, "duplicate marker") {
			t.Fatalf("unexpected message %q", v.message)
		}
	}
}

func TestLintSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q_test.go", "package q\n\nconst QBare = `select 1`\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if vs := l.result(); len(vs) != 0 {
		t.Fatalf("expected test files to be skipped, got %+v", vs)
	}
}
