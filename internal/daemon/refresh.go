// Package daemon keeps project taxonomies and folder counts current while
// nsma runs in the background.
//
// The daemon consists of several components:
//
//   - Refresher: re-imports a project's config documents, one run per
//     project at a time
//   - Watchers: one fsnotify handle per project covering its config
//     locations and prompt folders, with per-kind debounce
//   - Sweeper: a periodic pass that re-imports projects whose config
//     documents changed while nobody was watching
//   - Daemon: wires the three together for the watch command
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

var timeNow = time.Now

// Registry is the project registry. *project.Store implements it.
type Registry interface {
	Active() ([]*project.Project, error)
	Get(slug string) (*project.Project, error)
	Update(slug string, fn func(*project.Project) error) (*project.Project, error)
}

// OptionSyncer pushes phase names to the remote select property.
// *notion.Client implements it.
type OptionSyncer interface {
	SyncSelectOptions(ctx context.Context, databaseID, prop string, values []string) ([]string, error)
}

// AuditSink records config imports. *audit.Log implements it.
type AuditSink interface {
	Append(ctx context.Context, e audit.Entry) error
}

// Refresher re-imports project taxonomies.
type Refresher struct {
	registry Registry
	options  OptionSyncer
	audit    AuditSink
	logger   *zap.Logger
	group    singleflight.Group
}

// NewRefresher returns a Refresher. options and sink may be nil.
func NewRefresher(registry Registry, options OptionSyncer, sink AuditSink, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{registry: registry, options: options, audit: sink, logger: logger}
}

// RefreshConfig re-imports the config documents of the project with the
// given slug and stores the result. Concurrent calls for the same project
// share one import.
func (r *Refresher) RefreshConfig(ctx context.Context, slug string) (*project.Project, error) {
	v, err, shared := r.group.Do(slug, func() (any, error) {
		return r.refresh(ctx, slug)
	})
	if shared {
		r.logger.Debug("joined in-flight config refresh", zap.String("project", slug))
	}
	if err != nil {
		return nil, err
	}
	return v.(*project.Project), nil
}

func (r *Refresher) refresh(ctx context.Context, slug string) (*project.Project, error) {
	log := r.logger.With(zap.String("project", slug))

	p, err := r.registry.Get(slug)
	if err != nil {
		return nil, err
	}

	var existing *taxonomy.Taxonomy
	if len(p.Phases) > 0 || len(p.Modules) > 0 {
		existing = &p.Taxonomy
	}
	res, err := taxonomy.AutoImport(p.Path, existing, log)
	if err != nil {
		if !errors.Is(err, taxonomy.ErrNoConfigFiles) {
			r.record(ctx, slug, fmt.Sprintf("config import failed: %v", err), err)
		}
		return nil, err
	}

	updated, err := r.registry.Update(slug, func(p *project.Project) error {
		p.ApplyImport(res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store taxonomy for %s: %w", slug, err)
	}

	log.Info("config refreshed",
		zap.String("source", res.ConfigSource),
		zap.Int("phases", len(updated.Phases)),
		zap.Int("phases_delta", len(updated.Phases)-len(p.Phases)),
		zap.Int("modules", len(updated.Modules)),
		zap.Int("modules_delta", len(updated.Modules)-len(p.Modules)))

	if r.options != nil && len(updated.Phases) > 0 {
		names := make([]string, len(updated.Phases))
		for i, ph := range updated.Phases {
			names[i] = ph.Name
		}
		added, err := r.options.SyncSelectOptions(ctx, "", notion.PropAssignedPhase, names)
		switch {
		case err != nil:
			log.Warn("failed to sync phase options", zap.Error(err))
		case len(added) > 0:
			log.Info("added phase options", zap.Strings("options", added))
		}
	}

	r.record(ctx, slug, fmt.Sprintf("imported %d phases, %d modules from %s",
		len(updated.Phases), len(updated.Modules), res.ConfigSource), nil)
	return updated, nil
}

func (r *Refresher) record(ctx context.Context, slug, msg string, cause error) {
	if r.audit == nil {
		return
	}
	e := audit.Entry{Operation: audit.OpConfigImport, ProjectID: slug, Message: msg}
	if cause != nil {
		e.Counts.Failed = 1
		e.Errors = []string{cause.Error()}
	} else {
		e.Counts.Updated = 1
	}
	if err := r.audit.Append(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("failed to append audit entry", zap.String("project", slug), zap.Error(err))
	}
}

// Recount stores fresh folder counts for the project.
func (r *Refresher) Recount(slug string) error {
	p, err := r.registry.Get(slug)
	if err != nil {
		return err
	}
	counts, err := schema.CountFolders(p.Prompts())
	if err != nil {
		return err
	}
	_, err = r.registry.Update(slug, func(p *project.Project) error {
		p.SetCounts(counts, timeNow())
		return nil
	})
	return err
}
