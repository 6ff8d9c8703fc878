package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phobologic/fuzzgraph/internal/config"
)

// TestApplySectionCreate verifies that applySection on empty content yields
// just the section with a trailing newline.
func TestApplySectionCreate(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nbody\n" + sentinelEnd
	got := applySection("", section)
	if got != section+"\n" {
		t.Errorf("got %q", got)
	}
}

// TestApplySectionAppend verifies that existing content without a sentinel block
// is preserved and the section is appended.
func TestApplySectionAppend(t *testing.T) {
	t.Parallel()
	existing := "/target\nCargo.lock"
	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(existing, section)

	if !strings.HasPrefix(got, existing+"\n\n") {
		t.Errorf("existing content should be preserved at start:\n%s", got)
	}
	if !strings.Contains(got, "new content") {
		t.Error("new content missing")
	}
}

// TestApplySectionUpdate verifies that an existing sentinel block is replaced
// precisely, leaving surrounding content intact.
func TestApplySectionUpdate(t *testing.T) {
	t.Parallel()
	before := "/target\n\n"
	after := "\n\n*.swp\n"
	old := before + sentinelStart + "\nold content\n" + sentinelEnd + after

	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(old, section)

	if !strings.HasPrefix(got, before) {
		t.Errorf("content before sentinel should be preserved:\n%s", got)
	}
	if !strings.HasSuffix(got, after) {
		t.Errorf("content after sentinel should be preserved:\n%s", got)
	}
	if strings.Contains(got, "old content") {
		t.Error("old content should be replaced")
	}
	if !strings.Contains(got, "new content") {
		t.Error("new content missing")
	}
}

func TestGenerateSection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cache, output string
		want          []string
	}{
		{".fuzzgraph-cache", "fuzz_targets", []string{"/.fuzzgraph-cache", "/fuzz_targets/"}},
		{"", "fuzz/targets/", []string{"/fuzz/targets/"}},
	}
	for _, tt := range tests {
		got := generateSection(tt.cache, tt.output)
		if !strings.HasPrefix(got, sentinelStart) || !strings.HasSuffix(got, sentinelEnd) {
			t.Errorf("section not wrapped in sentinels:\n%s", got)
		}
		for _, w := range tt.want {
			if !strings.Contains(got, "\n"+w+"\n") {
				t.Errorf("section missing %q:\n%s", w, got)
			}
		}
		if tt.cache == "" && strings.Contains(got, "cache") {
			t.Errorf("unexpected cache entry:\n%s", got)
		}
	}
}

// TestGenerateConfigParses verifies that the starter config is valid.
func TestGenerateConfigParses(t *testing.T) {
	t.Parallel()
	cfg, err := config.ParseConfig([]byte(generateConfig("widgets", "fuzz_targets")), config.FileName)
	if err != nil {
		t.Fatalf("starter config does not parse: %v", err)
	}
	if cfg.Crate != "widgets" {
		t.Errorf("crate = %q", cfg.Crate)
	}
	if cfg.Strategy != "default" || cfg.Selector != "heuristic" {
		t.Errorf("strategy = %q, selector = %q", cfg.Strategy, cfg.Selector)
	}
	if cfg.MaxLen != 5 || cfg.MaxHarnesses != 20 || cfg.Seed != 1 {
		t.Errorf("unexpected limits: %+v", cfg)
	}
}

func TestGenerateConfigInvalidCrateName(t *testing.T) {
	t.Parallel()
	text := generateConfig("001", "fuzz_targets")
	if !strings.Contains(text, "# crate: my_crate") {
		t.Errorf("invalid crate name should be commented out:\n%s", text)
	}
	if _, err := config.ParseConfig([]byte(text), config.FileName); err != nil {
		t.Fatalf("starter config does not parse: %v", err)
	}
}

func crateDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

// TestInitCreatesFiles verifies that init writes the config and .gitignore
// when neither exists.
func TestInitCreatesFiles(t *testing.T) {
	t.Parallel()
	dir := crateDir(t, "my-widgets")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.LoadConfig(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Crate != "my_widgets" {
		t.Errorf("crate = %q, want my_widgets", cfg.Crate)
	}

	ignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatalf(".gitignore not created: %v", err)
	}
	for _, want := range []string{sentinelStart, "/.fuzzgraph-cache", "/fuzz_targets/", sentinelEnd} {
		if !strings.Contains(string(ignore), want) {
			t.Errorf(".gitignore missing %q:\n%s", want, ignore)
		}
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected stdout: %q", stdout.String())
	}
}

// TestInitDryRun verifies that --dry-run prints both files without writing.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := crateDir(t, "widgets")
	writeTestFile(t, dir, ".gitignore", "/target\n")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, config.FileName)); !os.IsNotExist(err) {
		t.Error("dry run should not write the config")
	}
	data, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if string(data) != "/target\n" {
		t.Errorf("dry run modified .gitignore: %q", data)
	}

	out := stdout.String()
	for _, want := range []string{"crate: widgets", "/target\n", sentinelStart} {
		if !strings.Contains(out, want) {
			t.Errorf("dry run output missing %q:\n%s", want, out)
		}
	}
}

// TestInitKeepsConfig verifies that an existing config is left alone unless
// --force is given, and that its output directory is what gets ignored.
func TestInitKeepsConfig(t *testing.T) {
	t.Parallel()
	dir := crateDir(t, "widgets")
	original := "crate: widgets\noutput: harnesses\n"
	writeTestFile(t, dir, config.FileName, original)

	var buf bytes.Buffer
	if err := run([]string{"init", dir}, &buf, &buf); err != nil {
		t.Fatalf("init: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, config.FileName))
	if string(data) != original {
		t.Errorf("config was rewritten:\n%s", data)
	}
	ignore, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if !strings.Contains(string(ignore), "/harnesses/") {
		t.Errorf(".gitignore should list the configured output:\n%s", ignore)
	}

	if err := run([]string{"init", "--force", dir}, &buf, &buf); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, config.FileName))
	if !strings.Contains(string(data), "output: harnesses") || !strings.Contains(string(data), "strategy: default") {
		t.Errorf("forced config should be regenerated with the same output:\n%s", data)
	}
}

// TestInitIdempotent verifies that running init twice leaves exactly one block.
func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	dir := crateDir(t, "widgets")

	var buf bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := run([]string{"init", dir}, &buf, &buf); err != nil {
			t.Fatalf("init run %d: %v", i+1, err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if n := strings.Count(string(data), sentinelStart); n != 1 {
		t.Errorf("expected 1 sentinel block, found %d:\n%s", n, data)
	}
}

// TestInitRejectsBrokenConfig verifies that an unparseable config is not
// silently replaced.
func TestInitRejectsBrokenConfig(t *testing.T) {
	t.Parallel()
	dir := crateDir(t, "widgets")
	writeTestFile(t, dir, config.FileName, "strategy: sideways\n")

	var buf bytes.Buffer
	if err := run([]string{"init", dir}, &buf, &buf); err == nil {
		t.Fatal("expected an error for an invalid existing config")
	}
}
