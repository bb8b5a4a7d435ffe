package catalog

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/nyxbox/internal/domain/track"
)

type snapshot struct {
	MusicPath string          `yaml:"music_path"`
	Entries   []snapshotEntry `yaml:"entries"`
}

type snapshotEntry struct {
	Title   string `yaml:"title"`
	Artist  string `yaml:"artist,omitempty"`
	Locator string `yaml:"locator"`
}

// Save writes the index to path as YAML, replacing any previous snapshot.
func (c *Catalog) Save(path string) error {
	c.mu.RLock()
	snap := snapshot{
		MusicPath: c.cfg.MusicPath,
		Entries:   make([]snapshotEntry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, snapshotEntry{Title: e.Title, Artist: e.Artist, Locator: e.Locator})
	}
	c.mu.RUnlock()

	slices.SortFunc(snap.Entries, func(a, b snapshotEntry) int {
		return strings.Compare(a.Locator, b.Locator)
	})

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return errors.Wrap(err, "failed to encode index")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create index directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write index")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "failed to replace index")
	}

	zlog.Debug().Msgf("catalog: index saved: path=%s entries=%d", path, len(snap.Entries))
	return nil
}

// Load replaces the index with the snapshot at path and returns the number
// of entries loaded. A missing file, or a snapshot of another music
// directory, loads nothing. Scan afterwards to pick up changes on disk.
func (c *Catalog) Load(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read index")
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return 0, errors.Wrapf(err, "failed to parse index %s", path)
	}
	if snap.MusicPath != c.cfg.MusicPath {
		zlog.Warn().Msgf("catalog: ignoring index for another library: path=%s music_path=%s", path, snap.MusicPath)
		return 0, nil
	}

	entries := make(map[string]track.Entry, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.Locator == "" || !c.indexable(e.Locator) {
			continue
		}
		entries[e.Locator] = track.Entry{Title: e.Title, Artist: e.Artist, Locator: e.Locator}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	zlog.Info().Msgf("catalog: index loaded: path=%s entries=%d", path, len(entries))
	return len(entries), nil
}
