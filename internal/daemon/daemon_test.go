package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

const configDoc = `# Web App

## Development Phases

### Authentication
**Keywords**: login, oauth

### Reporting
**Keywords**: export

## Modules

### Exporter
**Phase**: Reporting
**Paths**: internal/export/
`

type fakeOptions struct {
	mu    sync.Mutex
	calls [][]string
	prop  string
}

func (f *fakeOptions) SyncSelectOptions(ctx context.Context, databaseID, prop string, values []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, values)
	f.prop = prop
	return values, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Append(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func newProject(t *testing.T) (*project.Store, *project.Project) {
	t.Helper()
	dir := t.TempDir()
	store := project.NewStore(filepath.Join(dir, "projects.yaml"))
	p := &project.Project{
		Slug:   "web-app",
		Name:   "Web App",
		Path:   filepath.Join(dir, "web-app"),
		Active: true,
	}
	require.NoError(t, os.MkdirAll(p.Path, 0755))
	require.NoError(t, store.Save(p))
	return store, p
}

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, ".nsma-config.md")
	require.NoError(t, os.WriteFile(path, []byte(configDoc), 0644))
	return path
}

func TestRefreshConfig(t *testing.T) {
	store, p := newProject(t)
	writeConfig(t, p.Path)
	opts := &fakeOptions{}
	sink := &memAudit{}

	r := NewRefresher(store, opts, sink, nil)
	updated, err := r.RefreshConfig(context.Background(), p.Slug)
	require.NoError(t, err)

	require.Len(t, updated.Phases, 2)
	assert.Equal(t, "Authentication", updated.Phases[0].Name)
	require.Len(t, updated.Modules, 1)
	assert.Equal(t, ".nsma-config.md", updated.ConfigSource)
	assert.Contains(t, updated.ConfigMtimes, ".nsma-config.md")

	stored, err := store.Get(p.Slug)
	require.NoError(t, err)
	assert.Len(t, stored.Phases, 2)

	require.Len(t, opts.calls, 1)
	assert.Equal(t, notion.PropAssignedPhase, opts.prop)
	assert.Equal(t, []string{"Authentication", "Reporting"}, opts.calls[0])

	require.Len(t, sink.entries, 1)
	assert.Equal(t, audit.OpConfigImport, sink.entries[0].Operation)
	assert.Equal(t, 1, sink.entries[0].Counts.Updated)
}

func TestRefreshConfig_KeepsIDs(t *testing.T) {
	store, p := newProject(t)
	writeConfig(t, p.Path)
	r := NewRefresher(store, nil, nil, nil)

	first, err := r.RefreshConfig(context.Background(), p.Slug)
	require.NoError(t, err)
	second, err := r.RefreshConfig(context.Background(), p.Slug)
	require.NoError(t, err)

	assert.Equal(t, first.Phases[0].ID, second.Phases[0].ID)
	assert.Equal(t, first.Modules[0].ID, second.Modules[0].ID)
}

func TestRefreshConfig_Errors(t *testing.T) {
	store, p := newProject(t)
	sink := &memAudit{}
	r := NewRefresher(store, nil, sink, nil)

	_, err := r.RefreshConfig(context.Background(), p.Slug)
	assert.ErrorIs(t, err, taxonomy.ErrNoConfigFiles)
	assert.Empty(t, sink.entries)

	_, err = r.RefreshConfig(context.Background(), "missing")
	assert.True(t, project.IsUnknownProject(err))
}

func TestRecount(t *testing.T) {
	store, p := newProject(t)
	prompts := p.Prompts()
	require.NoError(t, schema.WriteFile(filepath.Join(schema.FolderPath(prompts, schema.Processed), "a.md"), "x"))
	require.NoError(t, schema.WriteFile(filepath.Join(schema.FolderPath(prompts, schema.Pending), "b.md"), "x"))

	r := NewRefresher(store, nil, nil, nil)
	require.NoError(t, r.Recount(p.Slug))

	stored, err := store.Get(p.Slug)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Stats.Pending)
	assert.Equal(t, 1, stored.Stats.Processed)
}

func TestSweeper(t *testing.T) {
	store, p := newProject(t)
	cfg := writeConfig(t, p.Path)
	r := NewRefresher(store, nil, nil, nil)
	s := NewSweeper(store, r, 0, nil)
	ctx := context.Background()

	assert.Equal(t, []string{"web-app"}, s.Sweep(ctx))
	assert.Empty(t, s.Sweep(ctx), "unchanged documents are not re-imported")

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(cfg, later, later))
	assert.Equal(t, []string{"web-app"}, s.Sweep(ctx))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, _ := newProject(t)
	s := NewSweeper(store, NewRefresher(store, nil, nil, nil), time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClassify(t *testing.T) {
	root := filepath.Join(t.TempDir(), "app")
	w := &projectWatch{root: root, prompts: filepath.Join(root, "prompts")}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want EventKind
	}{
		{"root config", fsnotify.Event{Name: filepath.Join(root, "ROADMAP.md"), Op: fsnotify.Write}, KindConfig},
		{"docs config", fsnotify.Event{Name: filepath.Join(root, "docs", "api", "rest.md"), Op: fsnotify.Create}, KindConfig},
		{"readme", fsnotify.Event{Name: filepath.Join(root, "README.md"), Op: fsnotify.Write}, KindIgnored},
		{"prompt", fsnotify.Event{Name: filepath.Join(root, "prompts", "processed", "x.md"), Op: fsnotify.Rename}, KindPrompt},
		{"prompt temp file", fsnotify.Event{Name: filepath.Join(root, "prompts", "pending", ".nsma-1.tmp"), Op: fsnotify.Create}, KindIgnored},
		{"chmod", fsnotify.Event{Name: filepath.Join(root, "ROADMAP.md"), Op: fsnotify.Chmod}, KindIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.classify(tt.ev))
		})
	}
}

func TestWatchers(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, p := newProject(t)
	r := NewRefresher(store, nil, nil, nil)
	ws := NewWatchers(r, WatchConfig{ConfigDebounce: 20 * time.Millisecond, PromptDebounce: 20 * time.Millisecond}, nil)
	defer ws.StopAll()

	require.NoError(t, ws.Start(p))
	assert.Equal(t, []string{"web-app"}, ws.Watching())

	writeConfig(t, p.Path)
	require.Eventually(t, func() bool {
		stored, err := store.Get(p.Slug)
		return err == nil && len(stored.Phases) == 2
	}, 5*time.Second, 20*time.Millisecond)

	path := filepath.Join(schema.FolderPath(p.Prompts(), schema.Pending), "idea.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nnotion_page_id: x\n---\n"), 0644))
	require.Eventually(t, func() bool {
		stored, err := store.Get(p.Slug)
		return err == nil && stored.Stats.Pending == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Restarting replaces the handle.
	require.NoError(t, ws.Start(p))
	assert.Equal(t, []string{"web-app"}, ws.Watching())

	assert.True(t, ws.Stop("web-app"))
	assert.False(t, ws.Stop("web-app"))
	assert.Empty(t, ws.Watching())
}

func (m *memAudit) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Operation == op {
			n++
		}
	}
	return n
}

func TestWatchers_ConfigBurstRefreshesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	const debounce = 300 * time.Millisecond
	store, p := newProject(t)
	sink := &memAudit{}
	ws := NewWatchers(NewRefresher(store, nil, sink, nil), WatchConfig{ConfigDebounce: debounce, PromptDebounce: debounce}, nil)
	defer ws.StopAll()
	require.NoError(t, ws.Start(p))

	for i := 0; i < 10; i++ {
		writeConfig(t, p.Path)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return sink.count(audit.OpConfigImport) >= 1
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2 * debounce)
	assert.Equal(t, 1, sink.count(audit.OpConfigImport))
}

func TestWatchers_PromptBurstRecountsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var recounts atomic.Int32
	defer func(orig func() time.Time) { timeNow = orig }(timeNow)
	timeNow = func() time.Time {
		recounts.Add(1)
		return time.Now()
	}

	const debounce = 300 * time.Millisecond
	store, p := newProject(t)
	ws := NewWatchers(NewRefresher(store, nil, nil, nil), WatchConfig{ConfigDebounce: debounce, PromptDebounce: debounce}, nil)
	defer ws.StopAll()
	require.NoError(t, ws.Start(p))

	pending := schema.FolderPath(p.Prompts(), schema.Pending)
	for i := 0; i < 10; i++ {
		path := filepath.Join(pending, fmt.Sprintf("idea-%d.md", i))
		require.NoError(t, os.WriteFile(path, []byte("---\nnotion_page_id: x\n---\n"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		stored, err := store.Get(p.Slug)
		return err == nil && stored.Stats.Pending == 10
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2 * debounce)
	assert.Equal(t, int32(1), recounts.Load())
}

func TestWatchers_StartFailsWithoutPath(t *testing.T) {
	store, _ := newProject(t)
	ws := NewWatchers(NewRefresher(store, nil, nil, nil), WatchConfig{}, nil)

	err := ws.Start(&project.Project{Slug: "x", PromptsPath: t.TempDir()})
	assert.Error(t, err)
	assert.Empty(t, ws.Watching())
}

func TestDaemon_StartStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, p := newProject(t)
	writeConfig(t, p.Path)
	d := New(store, NewRefresher(store, nil, nil, nil), Config{SweepInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(d.Watchers().Watching()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := store.Get(p.Slug)
	require.NoError(t, err)
	assert.Len(t, stored.Phases, 2, "initial sweep imports the config")

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Empty(t, d.Watchers().Watching())
}
