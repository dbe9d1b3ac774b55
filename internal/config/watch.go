package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the provider current until ctx is done. It reloads whenever one
// of its file sources changes, and every ReloadInterval when an expiring layer
// is configured. The containing directories are watched so that editors
// replacing the file are detected. A failed reload is logged and the previous
// snapshot stays current.
func (p *Provider) Watch(ctx context.Context) error {
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, src := range p.sources {
		fsrc, ok := src.(*FileSource)
		if !ok {
			continue
		}
		abs, err := filepath.Abs(fsrc.Path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", fsrc.Path, err)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	// Nil channels never fire, so a provider without files or without
	// expiring layers simply skips that arm of the select.
	var tick <-chan time.Time
	if interval := p.ReloadInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		p.logger.Info("reloading expiring config layers periodically", "interval", interval.String())
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if len(files) > 0 {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer func() {
			_ = watcher.Close() // intentionally ignoring close error during cleanup
		}()

		for dir := range dirs {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch dir %s: %w", dir, err)
			}
			p.logger.Info("watching config directory", "dir", dir)
		}
		events, errs = watcher.Events, watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			p.reloadFrom(ctx, "interval")
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				p.logger.Info("config change detected", "file", event.Name, "op", event.Op.String())
				p.reloadFrom(ctx, "file")
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			p.logger.Error("watcher error", "error", err)
		}
	}
}

func (p *Provider) reloadFrom(ctx context.Context, trigger string) {
	if _, err := p.Reload(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("failed to reload config", "trigger", trigger, "error", err)
	}
}
