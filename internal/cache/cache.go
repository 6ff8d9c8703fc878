// Package cache stores extracted crate signatures between runs.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/phobologic/fuzzgraph/internal/discover"
	"github.com/phobologic/fuzzgraph/internal/parse"
)

// formatVersion changes whenever the encoded layout of parse.Crate does.
const formatVersion = 1

type entry struct {
	Version int          `cbor:"v"`
	Crate   *parse.Crate `cbor:"crate"`
}

// Save writes c to path.
func Save(path string, c *parse.Crate) error {
	data, err := cbor.Marshal(entry{Version: formatVersion, Crate: c})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Load returns the cached crate at path if it is newer than every file in
// files and was written for crate. A missing or stale cache reports false
// with a nil error; only a fresh but unreadable cache is an error.
func Load(path, crate, root string, files []discover.FileEntry) (*parse.Crate, bool, error) {
	if !IsFresh(path, root, files) {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading cache: %w", err)
	}
	var e entry
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cache %s: %w", path, err)
	}
	if e.Version != formatVersion || e.Crate == nil || e.Crate.Name != crate {
		return nil, false, nil
	}
	return e.Crate, true, nil
}

// IsFresh reports whether path exists and was modified after every file.
func IsFresh(path, root string, files []discover.FileEntry) bool {
	cacheInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}
