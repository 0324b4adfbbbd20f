package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
)

// DefaultWriteDelay spaces remote writes to stay near 3 requests/second.
const DefaultWriteDelay = 350 * time.Millisecond

// FolderStatus maps each folder to the remote status it implies.
var FolderStatus = map[schema.Folder]string{
	schema.Pending:   notion.StatusInProgress,
	schema.Processed: notion.StatusDone,
	schema.Archived:  notion.StatusArchived,
	schema.Deferred:  notion.StatusDeferred,
}

// PageUpdater is the part of the Notion client reverse sync uses.
type PageUpdater interface {
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) error
}

// ReverseOptions configures a Reverse engine.
type ReverseOptions struct {
	// WriteDelay is the pause between remote writes. Zero means
	// DefaultWriteDelay; a negative value disables it.
	WriteDelay time.Duration

	Guard  *Guard
	Logger *zap.Logger
}

// Reverse pushes folder moves back to Notion.
type Reverse struct {
	remote   PageUpdater
	registry Registry
	audit    AuditSink
	delay    time.Duration
	guard    *Guard
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewReverse returns a reverse sync engine. registry and sink may be nil
// when only Run is used.
func NewReverse(remote PageUpdater, registry Registry, sink AuditSink, opts ReverseOptions) *Reverse {
	r := &Reverse{
		remote:   remote,
		registry: registry,
		audit:    sink,
		delay:    opts.WriteDelay,
		guard:    opts.Guard,
		logger:   opts.Logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
	if r.delay == 0 {
		r.delay = DefaultWriteDelay
	}
	if r.guard == nil {
		r.guard = NewGuard()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// NeedsSync reports whether f's folder differs from what was last pushed.
func NeedsSync(f *schema.LocalFile) bool {
	return f.LastSynced() == "" || f.LastStatus() != string(f.Folder)
}

// Run reverse-syncs one project. It returns an error only when the prompt
// tree is missing, the project is busy, the credential is rejected or ctx
// is done; the Result is non-nil in the last two cases.
func (r *Reverse) Run(ctx context.Context, p *project.Project) (*Result, error) {
	root := p.Prompts()
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("prompt tree for %s: %w: %v", p.Slug, config.ErrMissingPath, err)
	}

	release, ok := r.guard.TryAcquire("project:" + p.Slug)
	if !ok {
		return nil, fmt.Errorf("reverse sync %s: %w", p.Slug, ErrSyncInProgress)
	}
	defer release()

	log := r.logger.With(zap.String("project", p.Slug))
	result := &Result{}

	files, problems, err := schema.Scan(root)
	if err != nil {
		return nil, err
	}
	for _, prob := range problems {
		result.fail(prob.Path, prob.Err)
	}

	mode := p.ReverseSync.Mode()
	writes := 0
	var runErr error
	for _, f := range files {
		if !NeedsSync(f) {
			result.Skipped++
			continue
		}

		if writes > 0 && r.delay > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				runErr = err
				break
			}
		}
		writes++

		err := r.push(ctx, f)
		switch {
		case err == nil:
			result.Updated++

		case notion.IsUnauthorized(err):
			log.Error("credential rejected, aborting reverse sync", zap.Error(err))
			result.fail(f.Path, err)
			runErr = err

		case ctx.Err() != nil:
			runErr = ctx.Err()

		case notion.IsRateLimited(err):
			// last_status stays stale, so the next run retries.
			log.Warn("rate limited, will retry next run", zap.String("file", f.Path))
			result.fail(f.Path, err)

		case notion.IsNotFound(err):
			r.handleGone(f, root, mode, result, log)

		default:
			log.Warn("failed to push status", zap.String("file", f.Path), zap.Error(err))
			result.fail(f.Path, err)
		}
		if runErr != nil {
			break
		}
	}

	r.finish(ctx, p, root, result, log)
	return result, runErr
}

// push sends the folder status and stamps the reverse-owned keys.
func (r *Reverse) push(ctx context.Context, f *schema.LocalFile) error {
	status := FolderStatus[f.Folder]
	if err := r.remote.UpdatePage(ctx, f.PageID(), notion.Properties{
		notion.PropStatus: notion.StatusProp(status),
	}); err != nil {
		return err
	}
	return r.stamp(f.Path, f.Folder)
}

func (r *Reverse) stamp(path string, folder schema.Folder) error {
	return schema.UpdateFileFrontmatter(path, map[string]string{
		schema.KeyLastSynced: r.now().UTC().Format(time.RFC3339),
		schema.KeyLastStatus: string(folder),
	})
}

// handleGone applies the project's policy to a file whose remote page no
// longer exists.
func (r *Reverse) handleGone(f *schema.LocalFile, root string, mode project.ErrorMode, result *Result, log *zap.Logger) {
	log = log.With(zap.String("file", f.Path), zap.String("item", f.PageID()))
	result.Skipped++

	switch mode {
	case project.ModeDelete:
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.fail(f.Path, fmt.Errorf("remote page gone; delete failed: %w", err))
			return
		}
		log.Info("remote page gone, deleted local file")
		result.Errors = append(result.Errors, ItemError{Item: f.Path, Cause: "remote page gone; local file deleted"})

	case project.ModeArchive:
		dest, err := schema.MoveToFolder(f.Path, root, schema.Archived)
		if err != nil {
			result.fail(f.Path, fmt.Errorf("remote page gone; archive failed: %w", err))
			return
		}
		// Stamp so the archived file is not pushed again.
		if err := r.stamp(dest, schema.Archived); err != nil {
			log.Warn("failed to stamp archived file", zap.Error(err))
		}
		log.Info("remote page gone, archived local file", zap.String("dest", dest))
		result.Errors = append(result.Errors, ItemError{Item: f.Path, Cause: "remote page gone; local file archived"})

	default:
		log.Warn("remote page gone, skipping")
		result.Errors = append(result.Errors, ItemError{Item: f.Path, Cause: "remote page gone; skipped"})
	}
}

func (r *Reverse) finish(ctx context.Context, p *project.Project, root string, result *Result, log *zap.Logger) {
	if r.registry != nil {
		if counts, err := schema.CountFolders(root); err == nil {
			if _, err := r.registry.Update(p.Slug, func(p *project.Project) error {
				p.SetCounts(counts, r.now())
				return nil
			}); err != nil {
				log.Warn("failed to store folder counts", zap.Error(err))
			}
		}
	}

	log.Info("reverse sync finished",
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))

	if r.audit == nil {
		return
	}
	// Record even when ctx was cancelled mid-run.
	err := r.audit.Append(context.WithoutCancel(ctx), audit.Entry{
		Operation: audit.OpReverseSync,
		ProjectID: p.Slug,
		Message:   fmt.Sprintf("reverse sync: %d updated, %d failed, %d skipped", result.Updated, result.Failed, result.Skipped),
		Counts:    audit.Counts{Updated: result.Updated, Failed: result.Failed, Skipped: result.Skipped},
		Errors:    result.errorStrings(),
	})
	if err != nil {
		log.Warn("failed to append audit entry", zap.Error(err))
	}
}

// RunAll reverse-syncs every active project with reverse sync enabled. A
// rejected credential stops the whole run; other per-project problems are
// recorded and the next project is tried.
func (r *Reverse) RunAll(ctx context.Context) (*Result, error) {
	if r.registry == nil {
		return nil, errors.New("reverse sync: no project registry")
	}
	projects, err := r.registry.Active()
	if err != nil {
		return nil, err
	}

	total := &Result{}
	for _, p := range projects {
		if !p.ReverseSync.Enabled {
			continue
		}
		res, err := r.Run(ctx, p)
		total.Merge(res)
		if err == nil {
			continue
		}
		if notion.IsUnauthorized(err) || ctx.Err() != nil {
			return total, err
		}
		r.logger.Warn("reverse sync failed for project", zap.String("project", p.Slug), zap.Error(err))
		total.fail(p.Slug, err)
	}
	return total, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
