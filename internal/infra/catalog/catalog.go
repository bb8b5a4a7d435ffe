// Package catalog indexes a music directory and answers ranked searches.
package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/cockroachdb/errors"
	"github.com/dhowden/tag"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/osa030/nyxbox/internal/domain/track"
)

// MaxResults caps every search, matching the nine selection keycaps.
const MaxResults = 9

var ErrEmptyQuery = errors.New("empty search query")

// Config represents catalog configuration.
type Config struct {
	MusicPath  string   // Root directory to index
	Extensions []string // File extensions to index, with dot
	SkipDirs   []string // Directory names never descended into
	MaxResults int      // Result cap, at most MaxResults
}

// Catalog is an in-memory index of the music directory.
type Catalog struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]track.Entry // keyed by locator
}

// New creates an empty catalog. Call Scan to populate it.
func New(cfg Config) *Catalog {
	if cfg.MaxResults <= 0 || cfg.MaxResults > MaxResults {
		cfg.MaxResults = MaxResults
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".mp3", ".flac", ".wav"}
	}
	cfg.Extensions = make([]string, len(exts))
	for i, ext := range exts {
		cfg.Extensions[i] = strings.ToLower(ext)
	}
	return &Catalog{
		cfg:     cfg,
		entries: make(map[string]track.Entry),
	}
}

// Len returns the number of indexed files.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Scan walks the music directory, indexes new files and forgets removed
// ones. It returns the number of newly indexed files.
func (c *Catalog) Scan(ctx context.Context) (int, error) {
	found := make(map[string]struct{})
	var fresh []string

	c.mu.RLock()
	known := func(path string) bool {
		_, ok := c.entries[path]
		return ok
	}
	err := filepath.WalkDir(c.cfg.MusicPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			zlog.Warn().Msgf("catalog: skipping unreadable path: path=%s err=%v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != c.cfg.MusicPath && c.skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !c.indexable(path) {
			return nil
		}
		found[path] = struct{}{}
		if !known(path) {
			fresh = append(fresh, path)
		}
		return nil
	})
	c.mu.RUnlock()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to walk %s", c.cfg.MusicPath)
	}

	// Tag reading happens outside the lock; searches keep working meanwhile.
	added := make([]track.Entry, 0, len(fresh))
	for _, path := range fresh {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		added = append(added, readEntry(path))
	}

	c.mu.Lock()
	removed := 0
	for path := range c.entries {
		if _, ok := found[path]; !ok {
			delete(c.entries, path)
			removed++
		}
	}
	for _, e := range added {
		c.entries[e.Locator] = e
	}
	total := len(c.entries)
	c.mu.Unlock()

	zlog.Info().Msgf("catalog: scan finished: added=%d removed=%d total=%d", len(added), removed, total)
	return len(added), nil
}

// Search returns up to MaxResults entries whose title or artist contains
// query, most similar title first.
func (c *Catalog) Search(ctx context.Context, query string) ([]track.Entry, error) {
	fold := cases.Fold()
	q := strings.TrimSpace(fold.String(query))
	if q == "" {
		return nil, ErrEmptyQuery
	}

	type hit struct {
		entry track.Entry
		score float64
	}

	c.mu.RLock()
	hits := make([]hit, 0)
	for _, e := range c.entries {
		title := fold.String(e.Title)
		artist := fold.String(e.Artist)
		if !strings.Contains(title, q) && !strings.Contains(artist, q) {
			continue
		}
		hits = append(hits, hit{entry: e, score: similarity(q, title)})
	}
	c.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		if n := strings.Compare(a.entry.Artist, b.entry.Artist); n != 0 {
			return n
		}
		if n := strings.Compare(a.entry.Title, b.entry.Title); n != 0 {
			return n
		}
		return strings.Compare(a.entry.Locator, b.entry.Locator)
	})

	if len(hits) > c.cfg.MaxResults {
		hits = hits[:c.cfg.MaxResults]
	}
	results := make([]track.Entry, len(hits))
	for i, h := range hits {
		results[i] = h.entry
	}
	return results, nil
}

func (c *Catalog) skipDir(name string) bool {
	for _, skip := range c.cfg.SkipDirs {
		if strings.Contains(name, skip) {
			return true
		}
	}
	return false
}

func (c *Catalog) indexable(path string) bool {
	return slices.Contains(c.cfg.Extensions, strings.ToLower(filepath.Ext(path)))
}

// similarity is 1 for identical strings and falls toward 0 with edit distance.
func similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// readEntry builds an entry from the file's tags, falling back to the file
// name for the title and the parent directory for the artist.
func readEntry(path string) track.Entry {
	e := track.Entry{
		Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Artist:  filepath.Base(filepath.Dir(path)),
		Locator: path,
	}

	f, err := os.Open(path)
	if err != nil {
		zlog.Warn().Msgf("catalog: failed to open: path=%s err=%v", path, err)
		return e
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		zlog.Debug().Msgf("catalog: no tags: path=%s err=%v", path, err)
		return e
	}
	if title := strings.TrimSpace(m.Title()); title != "" {
		e.Title = title
	}
	if artist := strings.TrimSpace(m.Artist()); artist != "" {
		e.Artist = artist
	}
	return e
}
