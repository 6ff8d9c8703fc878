// Package config loads fuzzgraph.yaml.
//
// The file sits at the crate root (or any parent directory) and holds the
// defaults for a generation run. Every field can be overridden on the
// command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/fuzzgraph/internal/ranking"
	"github.com/phobologic/fuzzgraph/internal/search"
	"github.com/phobologic/fuzzgraph/internal/types"
)

// FileName is the name FindConfig looks for.
const FileName = "fuzzgraph.yaml"

// Defaults applied by SetDefaults.
const (
	DefaultPlaceholder  = "i32"
	DefaultOutput       = "fuzz_targets"
	DefaultMaxHarnesses = 20
)

var pathRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)*$`)

// Config represents fuzzgraph.yaml.
type Config struct {
	// Crate is the library crate name used as the root of every function
	// path. Defaults to the crate directory name with dashes replaced.
	Crate string `yaml:"crate,omitempty"`

	// Strategy is the search strategy (see search.Strategies). Defaults to
	// "default".
	Strategy string `yaml:"strategy,omitempty"`

	// MaxLen bounds the number of calls in one sequence for the bfs and
	// corpus strategies, and is the minimum length for the first selector.
	MaxLen int `yaml:"max_len,omitempty"`

	// MaxSequences bounds how many sequences the random walks collect.
	MaxSequences int `yaml:"max_sequences,omitempty"`

	// MaxHarnesses bounds how many sequences are selected for emission.
	MaxHarnesses int `yaml:"max_harnesses,omitempty"`

	// Seed seeds the random strategies and the random selector.
	Seed int64 `yaml:"seed,omitempty"`

	// Generics substitutes type parameters with their declared default or
	// Placeholder. When false, generic functions are dropped.
	Generics bool `yaml:"generics,omitempty"`

	// Placeholder is the type used for type parameters without a default,
	// written as a primitive name or a path such as "String".
	Placeholder string `yaml:"placeholder,omitempty"`

	// Corpus is the path of a statistics file for the corpus strategy,
	// relative to the config file.
	Corpus string `yaml:"corpus,omitempty"`

	// Selector picks how sequences are chosen for emission: heuristic,
	// first or random.
	Selector string `yaml:"selector,omitempty"`

	// StopAtAllNodes ends heuristic selection once every function is
	// covered, without waiting for full edge coverage.
	StopAtAllNodes bool `yaml:"stop_at_all_nodes,omitempty"`

	// RandomWalkBudget bounds the attempts made by the random walks and the
	// work of deepbfs.
	RandomWalkBudget int `yaml:"random_walk_budget,omitempty"`

	// Exclude drops functions whose path starts with any of these prefixes.
	Exclude []string `yaml:"exclude,omitempty"`

	// Output is the harness directory, relative to the crate root.
	Output string `yaml:"output,omitempty"`
}

// LoadConfig reads and parses a fuzzgraph.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses fuzzgraph.yaml content. The path argument is used for
// error messages and to resolve the corpus path.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Corpus != "" && !filepath.IsAbs(cfg.Corpus) {
		cfg.Corpus = filepath.Join(filepath.Dir(path), cfg.Corpus)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// FindConfig searches for fuzzgraph.yaml starting from dir and walking up
// to parent directories. It returns "" and a nil error when there is none.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		candidate = filepath.Join(dir, "fuzzgraph.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Validate reports every semantic problem in c at once.
func (c *Config) Validate() error {
	var err error
	if c.Strategy != "" {
		if _, e := search.ParseStrategy(c.Strategy); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if c.Selector != "" {
		if _, e := ranking.ParseSelector(c.Selector); e != nil {
			err = multierr.Append(err, e)
		}
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"max_len", c.MaxLen},
		{"max_sequences", c.MaxSequences},
		{"max_harnesses", c.MaxHarnesses},
		{"random_walk_budget", c.RandomWalkBudget},
	} {
		if f.v < 0 {
			err = multierr.Append(err, fmt.Errorf("%s must not be negative, got %d", f.name, f.v))
		}
	}
	if c.Crate != "" && !pathRe.MatchString(c.Crate) {
		err = multierr.Append(err, fmt.Errorf("crate %q is not a valid crate name", c.Crate))
	}
	if c.Placeholder != "" {
		if _, e := ParsePlaceholder(c.Placeholder); e != nil {
			err = multierr.Append(err, e)
		}
	}
	for i, p := range c.Exclude {
		if p == "" {
			err = multierr.Append(err, fmt.Errorf("exclude[%d] is empty", i))
		}
	}
	return err
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = string(search.DefaultSearch)
	}
	if c.Selector == "" {
		c.Selector = string(ranking.Heuristic)
	}
	if c.Placeholder == "" {
		c.Placeholder = DefaultPlaceholder
	}
	if c.MaxHarnesses == 0 {
		c.MaxHarnesses = DefaultMaxHarnesses
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
}

// ParsePlaceholder converts placeholder text to a type. Only primitives and
// plain paths without generic arguments are accepted.
func ParsePlaceholder(s string) (types.Type, error) {
	if s == "str" {
		return types.Type{}, fmt.Errorf("placeholder %q is unsized", s)
	}
	if p, ok := types.PrimByName(s); ok {
		return types.Primitive(p), nil
	}
	if pathRe.MatchString(s) {
		return types.Path(s), nil
	}
	return types.Type{}, fmt.Errorf("placeholder %q is not a primitive or type path", s)
}
