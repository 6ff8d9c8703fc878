package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/phobologic/fuzzgraph/internal/config"
)

const (
	sentinelStart = "# fuzzgraph:start"
	sentinelEnd   = "# fuzzgraph:end"
)

// initCmd implements `fuzzgraph init`, which writes a starter
// fuzzgraph.yaml and keeps a sentinel-wrapped block of generated paths in
// .gitignore. The block is updated in place on later runs without touching
// surrounding content.
type initCmd struct {
	Root   string `arg:"" optional:"" default:"." help:"Crate root directory."`
	DryRun bool   `help:"Print what would be written without modifying any file."`
	Force  bool   `help:"Overwrite an existing fuzzgraph.yaml."`
	Cache  string `default:".fuzzgraph-cache" help:"Cache file path to list in .gitignore."`
}

func (c *initCmd) Run(e *env) error {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	cfgPath := filepath.Join(root, config.FileName)
	output := config.DefaultOutput
	writeConfig := true
	if existing, err := config.LoadConfig(cfgPath); err == nil {
		output = existing.Output
		writeConfig = c.Force
	} else if !errors.Is(err, fs.ErrNotExist) {
		if !c.Force {
			return err
		}
	}

	cfgText := generateConfig(crateName(root), output)
	ignorePath := filepath.Join(root, ".gitignore")
	existing, _ := os.ReadFile(ignorePath)
	ignoreText := applySection(string(existing), generateSection(c.Cache, output))

	if c.DryRun {
		if writeConfig {
			_, _ = fmt.Fprintf(e.stdout, "==> %s\n%s\n", cfgPath, cfgText)
		}
		_, _ = fmt.Fprintf(e.stdout, "==> %s\n%s", ignorePath, ignoreText)
		return nil
	}

	if writeConfig {
		if err := os.WriteFile(cfgPath, []byte(cfgText), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		_, _ = fmt.Fprintf(e.stderr, "wrote %s\n", cfgPath)
	} else {
		_, _ = fmt.Fprintf(e.stderr, "kept existing %s\n", cfgPath)
	}
	if err := os.WriteFile(ignorePath, []byte(ignoreText), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignorePath, err)
	}
	_, _ = fmt.Fprintf(e.stderr, "updated %s\n", ignorePath)
	return nil
}

// generateConfig returns a commented starter config for crate.
func generateConfig(crate, output string) string {
	crateLine := "crate: " + crate
	if _, err := config.ParseConfig([]byte(crateLine), config.FileName); err != nil {
		crateLine = "# crate: my_crate"
	}
	return `# fuzzgraph configuration. Command-line flags override these values.
` + crateLine + `

# Search strategy: bfs, fastbfs, bfs-end, fastbfs-end, deepbfs, random,
# random-end, corpus, reverse or default (bfs to length 5, then a pass
# that tries to reach every uncovered function).
strategy: default

# Longest sequence explored by bfs and the corpus walk.
max_len: 5

# How many harnesses to write, and how they are chosen: heuristic picks
# sequences adding the most new functions and dependencies.
max_harnesses: 20
selector: heuristic
seed: 1

# Substitute type parameters with their declared default or placeholder
# instead of dropping generic functions.
generics: false
placeholder: i32

# Skip functions whose path starts with any of these prefixes.
# exclude:
#   - my_crate::internal

# Usage statistics mined from code that already calls the crate, used by
# the corpus strategy.
# corpus: fuzzgraph-corpus.yaml

output: ` + output + "\n"
}

// generateSection returns the sentinel-wrapped .gitignore block.
func generateSection(cachePath, output string) string {
	lines := []string{
		sentinelStart,
		"# Generated by fuzzgraph init; edits inside this block are replaced.",
	}
	if cachePath != "" {
		lines = append(lines, "/"+filepath.ToSlash(cachePath))
	}
	lines = append(lines, "/"+strings.TrimSuffix(filepath.ToSlash(output), "/")+"/", sentinelEnd)
	return strings.Join(lines, "\n")
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) == 0 {
		return section + "\n"
	}
	// Append, ensuring a blank line separator.
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
