package strategy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"fathom/internal/logger"
)

// Watcher loads every definition document in a directory and reloads files as
// they change, so live sessions can be restarted with updated definitions
// without bouncing the process. Invalid files are logged and skipped; they
// never take down the watcher.
type Watcher struct {
	dir      string
	onChange func(*Definition)
}

// NewWatcher watches dir for *.yaml / *.yml definition documents.
func NewWatcher(dir string, onChange func(*Definition)) *Watcher {
	return &Watcher{dir: dir, onChange: onChange}
}

// LoadAll parses every definition currently in the directory, sorted by file
// name for deterministic ordering.
func (w *Watcher) LoadAll() ([]*Definition, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			logger.Warnf("strategy: skipping %s: %v", path, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Run blocks until ctx is cancelled, invoking onChange for each changed file
// that parses cleanly. Writes are debounced per path because editors emit
// several events per save.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !isDefinitionFile(filepath.Base(ev.Name)) {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("strategy watcher: %v", err)
		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < debounce {
					continue
				}
				delete(pending, path)
				def, err := LoadFile(path)
				if err != nil {
					logger.Warnf("strategy: reload of %s failed: %v", path, err)
					continue
				}
				logger.Infof("strategy: reloaded %s (%s)", filepath.Base(path), def.Name)
				if w.onChange != nil {
					w.onChange(def)
				}
			}
		}
	}
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
