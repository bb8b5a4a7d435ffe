package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
)

// settleDelay batches bursts of file events (a copied album) into one scan.
const settleDelay = 2 * time.Second

// ScanFunc is called after every background scan with the number of added files.
type ScanFunc func(added, total int)

// WatchOptions configures background rescans.
type WatchOptions struct {
	Interval time.Duration // Periodic rescan interval; 0 disables
	Notify   bool          // Rescan on file system events
	OnScan   ScanFunc
}

// Watch rescans the music directory periodically and, when enabled, on file
// system changes. It blocks until ctx is canceled.
func (c *Catalog) Watch(ctx context.Context, opts WatchOptions) error {
	var (
		watcher *fsnotify.Watcher
		tick    <-chan time.Time
		events  <-chan fsnotify.Event
		errs    <-chan error
		settle  *time.Timer
		settled <-chan time.Time
	)

	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if opts.Notify {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "failed to create watcher")
		}
		defer func() { _ = watcher.Close() }()

		if err := c.addWatches(watcher, c.cfg.MusicPath); err != nil {
			return err
		}
		events = watcher.Events
		errs = watcher.Errors

		defer func() {
			if settle != nil {
				settle.Stop()
			}
		}()

		zlog.Info().Msgf("catalog: watching for changes: path=%s", c.cfg.MusicPath)
	}

	rescan := func(trigger string) {
		added, err := c.Scan(ctx)
		if err != nil {
			if ctx.Err() == nil {
				zlog.Error().Msgf("catalog: rescan failed: trigger=%s err=%v", trigger, err)
			}
			return
		}
		if opts.OnScan != nil {
			opts.OnScan(added, c.Len())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-tick:
			rescan("interval")

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !c.skipDir(info.Name()) {
					if err := c.addWatches(watcher, ev.Name); err != nil {
						zlog.Warn().Msgf("catalog: failed to watch new directory: path=%s err=%v", ev.Name, err)
					}
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(settleDelay)
			} else {
				settle.Reset(settleDelay)
			}
			settled = settle.C

		case <-settled:
			settled = nil
			rescan("watch")

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			zlog.Warn().Msgf("catalog: watcher error: err=%v", err)
		}
	}
}

func (c *Catalog) addWatches(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && c.skipDir(d.Name()) {
			return fs.SkipDir
		}
		if err := w.Add(path); err != nil {
			return errors.Wrapf(err, "failed to watch %s", path)
		}
		return nil
	})
}
