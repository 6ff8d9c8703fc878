package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverRustFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "src/lib.rs", "pub mod codec;")
	writeFile(t, dir, "src/codec/mod.rs", "pub fn decode() {}")
	// Non-Rust file should be ignored
	writeFile(t, dir, "Cargo.toml", "[package]")
	// Hidden file should be ignored
	writeFile(t, dir, "src/.hidden.rs", "fn secret() {}")

	entries, err := Files(dir, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), paths)
	}

	// Sorted and slash separated
	if entries[0].Path != "src/codec/mod.rs" {
		t.Errorf("entry 0: got %q", entries[0].Path)
	}
	if entries[1].Path != "src/lib.rs" {
		t.Errorf("entry 1: got %q", entries[1].Path)
	}

	for _, e := range entries {
		if e.Language != "rust" {
			t.Errorf("entry %q: language = %q, want rust", e.Path, e.Language)
		}
	}
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "src/lib.rs", "")
	writeFile(t, dir, "target/debug/build/out.rs", "")
	writeFile(t, dir, "fuzz/fuzz_targets/t0.rs", "")
	writeFile(t, dir, ".cargo/registry/dep.rs", "")
	writeFile(t, dir, "tests/integration.rs", "")

	entries, err := Files(dir, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", len(entries), entries)
	}
	if entries[0].Path != "src/lib.rs" {
		t.Errorf("expected src/lib.rs, got %q", entries[0].Path)
	}
}

func TestDiscoverGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, ".gitignore", "src/generated.rs\n")
	writeFile(t, dir, "src/lib.rs", "")
	writeFile(t, dir, "src/generated.rs", "")

	entries, err := Files(dir, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "src/lib.rs" {
		t.Fatalf("expected only src/lib.rs, got %v", entries)
	}
}

func TestDiscoverLanguageFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "src/lib.rs", "")
	writeFile(t, dir, "src/util.rs", "")

	entries, err := Files(dir, []string{"rust"})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for rust filter, got %d", len(entries))
	}

	entries, err = Files(dir, []string{"python"})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries for python filter, got %d", len(entries))
	}
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "src/real.rs", "")

	err := os.Symlink(filepath.Join(dir, "src", "real.rs"), filepath.Join(dir, "src", "link.rs"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	entries, err := Files(dir, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry (no symlink), got %d", len(entries))
	}
	if entries[0].Path != "src/real.rs" {
		t.Errorf("expected src/real.rs, got %q", entries[0].Path)
	}
}

func TestIsTestFile(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path string
		want bool
	}{
		// Cargo target directories
		{"tests/integration.rs", true},
		{"tests/common/mod.rs", true},
		{"benches/throughput.rs", true},
		{"examples/demo.rs", true},
		// Filename patterns
		{"src/tests.rs", true},
		{"src/codec_test.rs", true},
		{"src/parser/unit_tests.rs", true},
		// Library files
		{"src/lib.rs", false},
		{"src/testing.rs", false},
		{"src/codec/mod.rs", false},
		{"src/latest.rs", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			got := IsTestFile(tc.path)
			if got != tc.want {
				t.Errorf("IsTestFile(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
