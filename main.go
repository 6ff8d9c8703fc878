// fuzzgraph builds the API dependency graph of a Rust library crate and
// writes fuzz harnesses for call sequences found in it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/fuzzgraph/internal/cache"
	"github.com/phobologic/fuzzgraph/internal/config"
	"github.com/phobologic/fuzzgraph/internal/corpus"
	"github.com/phobologic/fuzzgraph/internal/deadcode"
	"github.com/phobologic/fuzzgraph/internal/discover"
	"github.com/phobologic/fuzzgraph/internal/emit"
	"github.com/phobologic/fuzzgraph/internal/graph"
	"github.com/phobologic/fuzzgraph/internal/lang"
	"github.com/phobologic/fuzzgraph/internal/logging"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/parse"
	"github.com/phobologic/fuzzgraph/internal/ranking"
	"github.com/phobologic/fuzzgraph/internal/search"
	"github.com/phobologic/fuzzgraph/internal/sequence"
	"github.com/phobologic/fuzzgraph/internal/toon"
)

var version = "dev"

const defaultMaxFileSize = 1_000_000 // 1 MB

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli is the command-line interface. Running without a command generates.
type cli struct {
	Generate generateCmd      `cmd:"" default:"withargs" help:"Generate fuzz harnesses for a crate (default command)."`
	Init     initCmd          `cmd:"" help:"Write a starter fuzzgraph.yaml and ignore generated files in .gitignore."`
	Version  kong.VersionFlag `short:"V" help:"Show version and exit."`
}

// env carries the output streams into command Run methods.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		c      cli
		exited bool
	)
	parser, err := kong.New(&c,
		kong.Name("fuzzgraph"),
		kong.Description("Synthesize fuzz harnesses from the public API of a Rust library crate."),
		kong.Writers(stdout, stderr),
		kong.Vars{
			"version":       "fuzzgraph " + version,
			"max_file_size": fmt.Sprint(defaultMaxFileSize),
		},
		kong.Exit(func(int) { exited = true }),
	)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if exited {
		return nil
	}
	if err != nil {
		return err
	}
	return ctx.Run(&env{stdout: stdout, stderr: stderr})
}

type generateCmd struct {
	Root   string `arg:"" optional:"" default:"." help:"Crate root directory."`
	Config string `help:"Config file (default: fuzzgraph.yaml in the crate root or a parent)."`

	Crate            string   `help:"Crate name used as the root of function paths (default: directory name)."`
	Strategy         string   `short:"s" help:"Search strategy: bfs, fastbfs, bfs-end, fastbfs-end, deepbfs, random, random-end, corpus, reverse or default."`
	MaxLen           int      `help:"Maximum sequence length for bfs and corpus walks."`
	MaxSequences     int      `help:"Number of sequences the random and corpus walks produce."`
	MaxHarnesses     int      `short:"n" help:"Maximum number of harnesses to write."`
	Seed             int64    `help:"Seed for the random strategies and selector."`
	Generics         bool     `help:"Substitute type parameters instead of dropping generic functions."`
	Placeholder      string   `help:"Type substituted for type parameters without a default."`
	Corpus           string   `help:"Usage statistics file for the corpus strategy."`
	Selector         string   `help:"Sequence selector: heuristic, first or random."`
	StopAtAllNodes   bool     `help:"End heuristic selection once every function is covered."`
	RandomWalkBudget int      `help:"Attempt budget for the walks and deepbfs."`
	Exclude          []string `short:"x" help:"Drop functions whose path starts with this prefix (repeatable)."`
	Output           string   `short:"o" help:"Harness directory, relative to the crate root."`

	Format      string         `enum:"toon,none" default:"toon" help:"Report format on stdout (toon or none)."`
	Stats       bool           `help:"Print a coverage table to stderr even when it is not a terminal."`
	Cache       string         `help:"Signature cache file path."`
	MaxFileSize int            `default:"${max_file_size}" help:"Skip source files larger than this many bytes."`
	LogLevel    logging.Level  `default:"warn" help:"Log level: debug, info, warn or error."`
	LogFormat   logging.Format `default:"logfmt" help:"Log format: logfmt or json."`
}

func (c *generateCmd) Run(e *env) error {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := c.loadConfig(root)
	if err != nil {
		return err
	}
	log := logging.New(e.stderr, c.LogFormat, c.LogLevel).With("crate", cfg.Crate)

	files, err := discover.Files(root, []string{"rust"})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	files = libraryFiles(files, cfg.Crate, log)
	if len(files) == 0 {
		return fmt.Errorf("no library source files found under %s", filepath.Join(root, "src"))
	}

	crate, err := c.loadCrate(root, cfg.Crate, files, log)
	if err != nil {
		return err
	}

	placeholder, err := config.ParsePlaceholder(cfg.Placeholder)
	if err != nil {
		return err
	}
	g, err := graph.New(context.Background(), crate.Functions, graph.Options{
		Generics:    cfg.Generics,
		Placeholder: &placeholder,
		Exclude:     cfg.Exclude,
		Visibility:  crate.Visibility,
		Crate:       cfg.Crate,
	}, log)
	if err != nil {
		return err
	}

	params := search.Params{
		MaxLen:       cfg.MaxLen,
		MaxSequences: cfg.MaxSequences,
		Budget:       cfg.RandomWalkBudget,
	}
	if cfg.Corpus != "" {
		stats, err := corpus.Load(cfg.Corpus)
		if err != nil {
			return err
		}
		params.Stats = stats
	}
	strategy, err := search.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	dead := deadcode.New(g.Functions)
	if err := search.New(g, dead, rng, log).Run(strategy, params); err != nil {
		return err
	}

	selector, err := ranking.ParseSelector(cfg.Selector)
	if err != nil {
		return err
	}
	chosen, err := ranking.Select(g.Sequences, len(g.Edges), ranking.Options{
		Selector:       selector,
		MaxCount:       cfg.MaxHarnesses,
		MinLen:         cfg.MaxLen,
		StopAtAllNodes: cfg.StopAtAllNodes,
		Dead:           dead,
		Rand:           rng,
	})
	if err != nil {
		return err
	}
	coverage := ranking.Stats(g.Sequences, chosen, len(g.Functions), len(g.Edges))

	seqs := make([]*sequence.Sequence, len(chosen))
	for i, idx := range chosen {
		seqs[i] = g.Sequences[idx]
	}
	var harnesses []string
	if len(seqs) == 0 {
		log.Warn("no sequences generated", "functions", len(g.Functions), "edges", len(g.Edges))
	} else {
		out := cfg.Output
		if !filepath.IsAbs(out) {
			out = filepath.Join(root, out)
		}
		harnesses, err = emit.New(cfg.Crate, g.Functions).WriteAll(out, seqs)
		if err != nil {
			return fmt.Errorf("writing harnesses: %w", err)
		}
		log.Info("wrote harnesses", "dir", out, "count", len(harnesses))
	}

	if c.Stats || isTerminal(e.stderr) {
		writeStats(e.stderr, g, coverage)
	}

	if c.Format == "toon" {
		rep := buildReport(cfg, g, seqs, harnesses, root, coverage)
		_, _ = fmt.Fprintln(e.stdout, toon.Encode(rep))
	}
	return nil
}

// loadConfig merges the config file with command-line overrides. Flags win
// whenever they are set to a non-zero value.
func (c *generateCmd) loadConfig(root string) (*config.Config, error) {
	path := c.Config
	if path == "" {
		found, err := config.FindConfig(root)
		if err != nil {
			return nil, err
		}
		path = found
	}
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.Crate != "" {
		cfg.Crate = c.Crate
	}
	if c.Strategy != "" {
		cfg.Strategy = c.Strategy
	}
	if c.MaxLen != 0 {
		cfg.MaxLen = c.MaxLen
	}
	if c.MaxSequences != 0 {
		cfg.MaxSequences = c.MaxSequences
	}
	if c.MaxHarnesses != 0 {
		cfg.MaxHarnesses = c.MaxHarnesses
	}
	if c.Seed != 0 {
		cfg.Seed = c.Seed
	}
	if c.Generics {
		cfg.Generics = true
	}
	if c.Placeholder != "" {
		cfg.Placeholder = c.Placeholder
	}
	if c.Corpus != "" {
		cfg.Corpus = c.Corpus
	}
	if c.Selector != "" {
		cfg.Selector = c.Selector
	}
	if c.StopAtAllNodes {
		cfg.StopAtAllNodes = true
	}
	if c.RandomWalkBudget != 0 {
		cfg.RandomWalkBudget = c.RandomWalkBudget
	}
	if len(c.Exclude) > 0 {
		cfg.Exclude = c.Exclude
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	if cfg.Crate == "" {
		cfg.Crate = crateName(root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

// loadCrate returns the extracted crate, from the cache when it is fresh.
func (c *generateCmd) loadCrate(root, name string, files []discover.FileEntry, log *logging.Logger) (*parse.Crate, error) {
	if c.Cache != "" {
		cached, ok, err := cache.Load(c.Cache, name, root, files)
		switch {
		case err != nil:
			log.Warn("ignoring unreadable cache", "err", err)
		case ok:
			log.Info("using cached signatures", "path", c.Cache, "functions", len(cached.Functions))
			return cached, nil
		}
	}

	files = filterBySize(root, files, c.MaxFileSize, log)
	if len(files) == 0 {
		return nil, errors.New("no parseable files found (all exceeded size limit)")
	}
	parsed := parseFilesConcurrent(root, name, files, log)
	crate := parse.Link(name, parsed)
	if len(crate.Functions) == 0 {
		return nil, fmt.Errorf("no functions found in crate %s", name)
	}

	if c.Cache != "" {
		if err := cache.Save(c.Cache, crate); err != nil {
			log.Warn("could not write cache", "err", err)
		}
	}
	return crate, nil
}

// libraryFiles keeps the files that belong to the library module tree.
// Binaries and generated harnesses never count towards cache freshness.
func libraryFiles(files []discover.FileEntry, crate string, log *logging.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		if _, ok := parse.ModulePath(f.Path, crate); !ok {
			log.Debug("skipping file outside the library", "path", f.Path)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// crateName derives a crate name from its directory the way cargo does.
func crateName(root string) string {
	return strings.ReplaceAll(filepath.Base(root), "-", "_")
}

func filterBySize(root string, files []discover.FileEntry, maxSize int, log *logging.Logger) []discover.FileEntry {
	if maxSize <= 0 {
		return files
	}
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > int64(maxSize) {
			log.Warn("skipping large file", "path", f.Path, "limit", maxSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// parseFilesConcurrent extracts every library file. Results keep the order
// of files.
func parseFilesConcurrent(root, crate string, files []discover.FileEntry, log *logging.Logger) []*parse.File {
	type result struct {
		index int
		file  *parse.File
	}

	rust := lang.Languages["rust"]
	query, err := rust.GetItemQuery()
	if err != nil {
		log.Error("failed to compile item query", "err", err)
		return nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			var parser *sitter.Parser

			for idx := range work {
				f := files[idx]
				module, ok := parse.ModulePath(f.Path, crate)
				if !ok {
					continue
				}
				source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
				if err != nil {
					log.Warn("failed to read file", "path", f.Path, "err", err)
					continue
				}
				if parser == nil {
					parser = rust.NewParser()
				}
				results <- result{
					index: idx,
					file:  parse.Extract(parser, query, source, f.Path, module, crate),
				}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	indexed := make([]*parse.File, len(files))
	for r := range results {
		indexed[r.index] = r.file
	}

	var parsed []*parse.File
	for _, f := range indexed {
		if f != nil {
			parsed = append(parsed, f)
		}
	}
	return parsed
}

func buildReport(cfg *config.Config, g *graph.Graph, seqs []*sequence.Sequence, harnesses []string, root string, coverage model.Coverage) *model.Report {
	covered := make([]bool, len(g.Functions))
	for _, seq := range seqs {
		for _, fn := range seq.Functions() {
			covered[fn] = true
		}
	}

	rep := &model.Report{
		Crate:    cfg.Crate,
		Strategy: cfg.Strategy,
		Coverage: coverage,
	}
	rank := g.Rank()
	for i := range g.Functions {
		f := &g.Functions[i]
		rep.Functions = append(rep.Functions, model.FunctionReport{
			Name:      f.Name,
			Signature: f.Signature(),
			Start:     g.IsStart(i),
			End:       g.IsEnd(i),
			Covered:   covered[i],
			Rank:      rank[i],
		})
	}
	for _, e := range g.Edges {
		rep.Edges = append(rep.Edges, model.EdgeReport{
			Producer: g.Name(e.Producer),
			Consumer: g.Name(e.Consumer),
			Param:    e.Param,
			Call:     e.Call.String(),
		})
	}
	for i, seq := range seqs {
		sr := model.SequenceReport{Unsafe: seq.Unsafe()}
		for _, call := range seq.Calls {
			sr.Calls = append(sr.Calls, g.Name(call.Func))
		}
		for _, fz := range seq.Fuzzables {
			sr.Fuzzables = append(sr.Fuzzables, fz.String())
		}
		if l, err := seq.Layout(); err == nil {
			sr.MinLen = l.MinLen
		}
		if i < len(harnesses) {
			if rel, err := filepath.Rel(root, harnesses[i]); err == nil {
				sr.Harness = filepath.ToSlash(rel)
			} else {
				sr.Harness = harnesses[i]
			}
		}
		rep.Sequences = append(rep.Sequences, sr)
	}
	return rep
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func writeStats(w io.Writer, g *graph.Graph, c model.Coverage) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	rows := [][]string{
		{"functions kept", fmt.Sprint(len(g.Functions))},
		{"functions filtered", fmt.Sprint(g.Filtered.Total())},
		{"dependencies", fmt.Sprint(len(g.Edges))},
		{"sequences generated", fmt.Sprint(len(g.Sequences))},
		{"sequences chosen", fmt.Sprint(c.Sequences)},
		{"calls in chosen", fmt.Sprint(c.TotalCalls)},
		{"function coverage", fmt.Sprintf("%d/%d (%.1f%%)", c.CoveredFunctions, c.ValidFunctions, 100*c.NodeRatio())},
		{"edge coverage", fmt.Sprintf("%d/%d (%.1f%%)", c.CoveredEdges, c.TotalEdges, 100*c.EdgeRatio())},
	}
	table.AppendBulk(rows)
	table.Render()
}
