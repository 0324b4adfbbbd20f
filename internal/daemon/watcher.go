package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

// Debounce defaults.
const (
	DefaultConfigDebounce = 300 * time.Millisecond
	DefaultPromptDebounce = 500 * time.Millisecond
)

// EventKind is what a file event is about.
type EventKind int

const (
	// KindIgnored is an event the daemon does not act on.
	KindIgnored EventKind = iota
	// KindConfig is a change to a config document.
	KindConfig
	// KindPrompt is a change in one of the prompt folders.
	KindPrompt
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPrompt:
		return "prompt"
	default:
		return "ignored"
	}
}

// WatchConfig holds the debounce windows.
type WatchConfig struct {
	ConfigDebounce time.Duration
	PromptDebounce time.Duration
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.ConfigDebounce <= 0 {
		c.ConfigDebounce = DefaultConfigDebounce
	}
	if c.PromptDebounce <= 0 {
		c.PromptDebounce = DefaultPromptDebounce
	}
	return c
}

// projectWatch is the watch handle of one project.
type projectWatch struct {
	slug    string
	root    string
	prompts string
	cfg     WatchConfig

	watcher   *fsnotify.Watcher
	refresher *Refresher
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func startWatch(p *project.Project, refresher *Refresher, cfg WatchConfig, logger *zap.Logger) (*projectWatch, error) {
	if p.Path == "" {
		return nil, fmt.Errorf("project %s has no path to watch", p.Slug)
	}
	prompts := p.Prompts()
	if err := schema.EnsureFolders(prompts); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dirs := taxonomy.ConfigDirs(p.Path)
	for _, f := range schema.Folders {
		dirs = append(dirs, schema.FolderPath(prompts, f))
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &projectWatch{
		slug:      p.Slug,
		root:      p.Path,
		prompts:   prompts,
		cfg:       cfg,
		watcher:   watcher,
		refresher: refresher,
		logger:    logger.With(zap.String("project", p.Slug)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go w.run(ctx)

	w.logger.Info("watching project", zap.Strings("dirs", dirs))
	return w, nil
}

// classify decides what an fsnotify event means for this project.
func (w *projectWatch) classify(ev fsnotify.Event) EventKind {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return KindIgnored
	}
	if taxonomy.IsConfigFile(w.root, ev.Name) {
		return KindConfig
	}
	if !strings.EqualFold(filepath.Ext(ev.Name), ".md") {
		return KindIgnored
	}
	dir := filepath.Dir(ev.Name)
	for _, f := range schema.Folders {
		if dir == schema.FolderPath(w.prompts, f) {
			return KindPrompt
		}
	}
	return KindIgnored
}

// run is the event loop. Each kind has its own debounce timer, reset on
// every matching event; work runs on this goroutine when a timer fires.
func (w *projectWatch) run(ctx context.Context) {
	defer close(w.done)

	var configTimer, promptTimer *time.Timer
	var configC, promptC <-chan time.Time
	defer func() {
		if configTimer != nil {
			configTimer.Stop()
		}
		if promptTimer != nil {
			promptTimer.Stop()
		}
	}()

	arm := func(t **time.Timer, c *<-chan time.Time, d time.Duration) {
		if *t == nil {
			*t = time.NewTimer(d)
		} else {
			(*t).Reset(d)
		}
		*c = (*t).C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch w.classify(ev) {
			case KindConfig:
				w.logger.Debug("config event", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				arm(&configTimer, &configC, w.cfg.ConfigDebounce)
			case KindPrompt:
				w.logger.Debug("prompt event", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				arm(&promptTimer, &promptC, w.cfg.PromptDebounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-configC:
			configC = nil
			if _, err := w.refresher.RefreshConfig(ctx, w.slug); err != nil && ctx.Err() == nil {
				if errors.Is(err, taxonomy.ErrNoConfigFiles) {
					w.logger.Info("no config documents left to import")
				} else {
					w.logger.Warn("config refresh failed", zap.Error(err))
				}
			}

		case <-promptC:
			promptC = nil
			if err := w.refresher.Recount(w.slug); err != nil {
				w.logger.Warn("recount failed", zap.Error(err))
			}
		}
	}
}

// stop ends the event loop and releases the fsnotify handle. It blocks
// until the loop has exited.
func (w *projectWatch) stop() {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close watcher", zap.Error(err))
	}
	<-w.done
	w.logger.Info("stopped watching project")
}

// Watchers owns the watch handles of all watched projects.
type Watchers struct {
	refresher *Refresher
	cfg       WatchConfig
	logger    *zap.Logger

	mu      sync.Mutex
	handles map[string]*projectWatch
}

// NewWatchers returns an empty registry.
func NewWatchers(refresher *Refresher, cfg WatchConfig, logger *zap.Logger) *Watchers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchers{
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		handles:   make(map[string]*projectWatch),
	}
}

// Start begins watching p. A project that is already watched is restarted
// so path changes take effect.
func (ws *Watchers) Start(p *project.Project) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if old, ok := ws.handles[p.Slug]; ok {
		old.stop()
		delete(ws.handles, p.Slug)
	}
	w, err := startWatch(p, ws.refresher, ws.cfg, ws.logger)
	if err != nil {
		return err
	}
	ws.handles[p.Slug] = w
	return nil
}

// Stop stops watching the project with the given slug. It reports whether
// a handle existed.
func (ws *Watchers) Stop(slug string) bool {
	ws.mu.Lock()
	w, ok := ws.handles[slug]
	delete(ws.handles, slug)
	ws.mu.Unlock()

	if ok {
		w.stop()
	}
	return ok
}

// StopAll stops every handle.
func (ws *Watchers) StopAll() {
	ws.mu.Lock()
	handles := ws.handles
	ws.handles = make(map[string]*projectWatch)
	ws.mu.Unlock()

	for _, w := range handles {
		w.stop()
	}
}

// Watching returns the slugs of watched projects, sorted.
func (ws *Watchers) Watching() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	slugs := make([]string, 0, len(ws.handles))
	for s := range ws.handles {
		slugs = append(slugs, s)
	}
	slices.Sort(slugs)
	return slugs
}
