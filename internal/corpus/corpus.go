// Package corpus loads function usage statistics mined from programs that
// already use the target crate. The corpus walk uses them to prefer call
// pairs that real code makes.
//
// The statistics file is YAML:
//
//	dependencies:
//	  - producer: mycrate::Parser::new
//	    consumer: mycrate::Parser::parse
//	    count: 12
//	orders:
//	  - first: mycrate::Parser::parse
//	    second: mycrate::Parser::finish
//	    count: 4
//
// A dependency pair counts how often the producer's return value was passed
// to the consumer. An order pair counts how often the second call directly
// followed the first on the same value.
package corpus

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Pair is one counted observation.
type Pair struct {
	Producer string `yaml:"producer,omitempty"`
	Consumer string `yaml:"consumer,omitempty"`
	First    string `yaml:"first,omitempty"`
	Second   string `yaml:"second,omitempty"`
	Count    int    `yaml:"count"`
}

type file struct {
	Dependencies []Pair `yaml:"dependencies"`
	Orders       []Pair `yaml:"orders"`
}

type key struct{ a, b string }

// Stats holds summed pair counts. The zero value reports zero for every
// pair.
type Stats struct {
	deps   map[key]int
	orders map[key]int
}

// Load reads and parses a statistics file.
func Load(path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus statistics %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse parses statistics from bytes. The path argument is used only for
// error messages. Repeated pairs are summed.
func Parse(data []byte, path string) (*Stats, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var errs error
	s := &Stats{deps: make(map[key]int), orders: make(map[key]int)}
	for i, p := range f.Dependencies {
		if p.Producer == "" || p.Consumer == "" || p.Count < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: dependencies[%d]: need producer, consumer and a non-negative count", path, i))
			continue
		}
		s.deps[key{p.Producer, p.Consumer}] += p.Count
	}
	for i, p := range f.Orders {
		if p.First == "" || p.Second == "" || p.Count < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: orders[%d]: need first, second and a non-negative count", path, i))
			continue
		}
		s.orders[key{p.First, p.Second}] += p.Count
	}
	if errs != nil {
		return nil, errs
	}
	return s, nil
}

// Dependency returns how often the output of producer fed consumer.
func (s *Stats) Dependency(producer, consumer string) int {
	return s.deps[key{producer, consumer}]
}

// Order returns how often second directly followed first.
func (s *Stats) Order(first, second string) int {
	return s.orders[key{first, second}]
}

// Len is the number of distinct dependency and order pairs.
func (s *Stats) Len() int {
	return len(s.deps) + len(s.orders)
}
