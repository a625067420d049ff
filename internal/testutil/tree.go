package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a file (and any missing parent directories) under
// root with the given content.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("creating parent dirs for %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
	return abs
}

// Symlink creates a symlink under root pointing at target.
func Symlink(t *testing.T, target, root, rel string) string {
	t.Helper()

	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("creating parent dirs for %s: %v", rel, err)
	}
	if err := os.Symlink(target, abs); err != nil {
		t.Fatalf("creating symlink %s -> %s: %v", rel, target, err)
	}
	return abs
}
