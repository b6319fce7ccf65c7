package templates

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirResolvesRepositoryLayout(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "official", "go-1.22")
	if err := os.MkdirAll(tmpl, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpl, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatalf("write Dockerfile: %v", err)
	}
	store := NewDir(root)
	if got := store.Path("official/go-1.22"); got != tmpl {
		t.Fatalf("expected %s, got %s", tmpl, got)
	}
	if !store.Available("official/go-1.22") {
		t.Fatalf("expected template to be available")
	}
	if store.Available("official/node-20") {
		t.Fatalf("expected missing template to be unavailable")
	}
	if store.Available("") {
		t.Fatalf("empty runtime must never be available")
	}
}

func TestDirPathIgnoresTraversal(t *testing.T) {
	store := NewDir("/templates")
	if got := store.Path("../../etc/passwd"); got != filepath.Join("/templates", "etc", "passwd") {
		t.Fatalf("unexpected path %s", got)
	}
}
