package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/content"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

// InboxSlug is the project name recorded for Inbox files and audit entries.
const InboxSlug = "inbox"

// ForwardOptions configures a Forward engine.
type ForwardOptions struct {
	// InboxPath is the prompt tree for items without a known project.
	InboxPath string

	// SuccessCriteria is appended to every rendered prompt.
	SuccessCriteria string

	// Guard is shared with other engines; nil creates a private one.
	Guard *Guard

	Logger *zap.Logger
}

// Forward pulls unclassified items into local prompt trees.
type Forward struct {
	remote   Remote
	registry Registry
	renderer Renderer
	audit    AuditSink
	opts     ForwardOptions
	guard    *Guard
	logger   *zap.Logger
	now      func() time.Time
}

// NewForward returns a forward sync engine. sink may be nil.
func NewForward(remote Remote, registry Registry, renderer Renderer, sink AuditSink, opts ForwardOptions) *Forward {
	f := &Forward{
		remote:   remote,
		registry: registry,
		renderer: renderer,
		audit:    sink,
		opts:     opts,
		guard:    opts.Guard,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if f.guard == nil {
		f.guard = NewGuard()
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f
}

// bucket is the set of items bound for one prompt tree.
type bucket struct {
	slug    string
	root    string
	inbox   bool
	tax     taxonomy.Taxonomy
	items   []notion.Item
	reasons map[string]string // inbox only: item id -> routing reason
}

// Run syncs unclassified items of every active project, or of the project
// with the given slug. Items with a blank or unknown project go to the
// Inbox. The returned error is non-nil only for configuration problems,
// authentication failures, a busy project or a cancelled context.
func (f *Forward) Run(ctx context.Context, slug string) (*Result, error) {
	if strings.TrimSpace(f.opts.InboxPath) == "" {
		return nil, fmt.Errorf("inbox path: %w", config.ErrMissingPath)
	}

	var projects []*project.Project
	if slug != "" {
		p, err := f.registry.Get(slug)
		if err != nil {
			return nil, err
		}
		projects = []*project.Project{p}
	} else {
		active, err := f.registry.Active()
		if err != nil {
			return nil, err
		}
		projects = active
	}

	key := "forward:" + slug
	if slug == "" {
		key = "forward:*"
	}
	release, ok := f.guard.TryAcquire(key)
	if !ok {
		return nil, fmt.Errorf("forward sync %s: %w", strings.TrimPrefix(key, "forward:"), ErrSyncInProgress)
	}
	defer release()

	result := &Result{}
	items, err := f.remote.QueryDatabase(ctx, notion.Filter{
		Status:       notion.StatusNotStarted,
		IncludeEmpty: true,
		Project:      slug,
	})
	if err != nil {
		if notion.IsUnauthorized(err) || ctx.Err() != nil {
			return result, err
		}
		f.logger.Error("query failed", zap.Error(err))
		result.fail("query", err)
		return result, nil
	}
	f.logger.Info("found unclassified items", zap.Int("count", len(items)), zap.String("project", slug))

	for _, b := range f.partition(items, projects, result) {
		if len(b.items) == 0 {
			continue
		}
		if err := f.runBucket(ctx, b, result, slug != ""); err != nil {
			return result, err
		}
	}
	return result, nil
}

// partition groups items by project. Buckets come back in project order
// with the Inbox last.
func (f *Forward) partition(items []notion.Item, projects []*project.Project, result *Result) []*bucket {
	bySlug := make(map[string]*bucket, len(projects))
	var buckets []*bucket
	for _, p := range projects {
		b := &bucket{slug: p.Slug, root: p.Prompts(), tax: p.Taxonomy}
		bySlug[p.Slug] = b
		buckets = append(buckets, b)
	}
	inbox := &bucket{
		slug:    InboxSlug,
		root:    f.opts.InboxPath,
		inbox:   true,
		reasons: make(map[string]string),
	}

	for _, item := range items {
		slug := strings.TrimSpace(item.Project)
		if b, ok := bySlug[slug]; ok && slug != "" {
			b.items = append(b.items, item)
			continue
		}

		reason := ReasonBlankProject
		if slug != "" {
			reason = ReasonUnknownProject
		}
		inbox.items = append(inbox.items, item)
		inbox.reasons[item.ID] = reason
		result.Routed = append(result.Routed, Routing{ItemID: item.ID, Title: item.Title, Reason: reason})
		f.logger.Info("routing item to inbox",
			zap.String("item", item.ID),
			zap.String("project", slug),
			zap.String("reason", reason))
	}
	return append(buckets, inbox)
}

// runBucket syncs one bucket. A busy project is skipped, or reported as
// ErrSyncInProgress when it is the only project of the run.
func (f *Forward) runBucket(ctx context.Context, b *bucket, result *Result, single bool) error {
	log := f.logger.With(zap.String("project", b.slug))

	if !b.inbox {
		release, ok := f.guard.TryAcquire("project:" + b.slug)
		if !ok && single {
			return fmt.Errorf("forward sync %s: %w", b.slug, ErrSyncInProgress)
		}
		if !ok {
			log.Warn("project busy, skipping bucket", zap.Int("items", len(b.items)))
			result.Skipped += len(b.items)
			result.Errors = append(result.Errors, ItemError{Item: b.slug, Cause: ErrSyncInProgress.Error()})
			return nil
		}
		defer release()
	}

	bucketResult := &Result{}
	var titles []string

	if err := schema.EnsureFolders(b.root); err != nil {
		for _, item := range b.items {
			bucketResult.fail(item.ID, err)
		}
		result.Merge(bucketResult)
		f.record(ctx, b, bucketResult, nil)
		return nil
	}

	existing, problems, err := schema.Scan(b.root)
	if err != nil {
		log.Warn("failed to scan prompt tree", zap.Error(err))
	}
	for _, p := range problems {
		log.Warn("unreadable prompt file", zap.String("file", p.Path), zap.Error(p.Err))
	}
	index := schema.IndexByPageID(existing)

	var runErr error
	for _, item := range b.items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := f.syncItem(ctx, b, item, index); err != nil {
			if notion.IsUnauthorized(err) {
				bucketResult.fail(item.ID, err)
				runErr = err
				break
			}
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			log.Warn("item failed", zap.String("item", item.ID), zap.Error(err))
			bucketResult.fail(item.ID, err)
			continue
		}
		bucketResult.Updated++
		titles = append(titles, item.Title)
	}

	f.recount(b, log)
	result.Merge(bucketResult)
	f.record(ctx, b, bucketResult, titles)
	return runErr
}

// syncItem renders one item, writes it and moves the remote status
// forward.
func (f *Forward) syncItem(ctx context.Context, b *bucket, item notion.Item, index map[string]*schema.LocalFile) error {
	var hydrated string
	if item.Hydrated {
		text, err := f.remote.GetPageBlocks(ctx, item.ID)
		switch {
		case err == nil:
			hydrated = text
		case notion.IsUnauthorized(err), ctx.Err() != nil:
			return err
		default:
			f.logger.Warn("failed to fetch hydrated content",
				zap.String("item", item.ID), zap.Error(err))
		}
	}

	now := f.now()
	in := content.Input{
		Item:            item,
		Project:         b.slug,
		Taxonomy:        b.tax,
		Hydrated:        hydrated,
		SuccessCriteria: f.opts.SuccessCriteria,
		Now:             now,
	}
	if b.inbox {
		in.Inbox = true
		in.OriginalProject = strings.TrimSpace(item.Project)
	}

	doc, err := f.renderer.Render(ctx, in)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	path, err := f.targetPath(b, item, doc, index)
	if err != nil {
		return err
	}
	if err := schema.WriteFile(path, doc.Content); err != nil {
		return err
	}
	index[item.ID] = &schema.LocalFile{Path: path, Folder: schema.Pending}

	notes := fmt.Sprintf("Generated by nsma (%s)", doc.Source)
	if b.inbox {
		notes += "; routed to inbox: " + b.reasons[item.ID]
	}
	rel, err := filepath.Rel(b.root, path)
	if err != nil {
		rel = path
	}

	props := notion.Properties{
		notion.PropStatus:        notion.StatusProp(notion.StatusInProgress),
		notion.PropAssignedPhase: notion.SelectProp(doc.Phase),
		notion.PropEffort:        notion.SelectProp(doc.Effort),
		notion.PropFileLocation:  notion.TextProp(filepath.ToSlash(filepath.Join(b.slug, rel))),
		notion.PropNotes:         notion.TextProp(notes),
		notion.PropProcessedDate: notion.DateProp(now),
	}
	if err := f.remote.UpdatePage(ctx, item.ID, props); err != nil {
		return fmt.Errorf("update page: %w", err)
	}

	f.logger.Info("synced item",
		zap.String("item", item.ID),
		zap.String("project", b.slug),
		zap.String("file", path),
		zap.String("phase", doc.Phase))
	return nil
}

// targetPath returns where the item's prompt goes: the existing file for
// the same page id, else a new file in pending/. A name taken by another
// page gets the page id appended.
func (f *Forward) targetPath(b *bucket, item notion.Item, doc *content.Document, index map[string]*schema.LocalFile) (string, error) {
	if lf, ok := index[item.ID]; ok {
		return lf.Path, nil
	}
	path := filepath.Join(schema.FolderPath(b.root, schema.Pending), doc.Filename)
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return path, nil
	case err != nil:
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	suffix := content.Slug(item.ID)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return strings.TrimSuffix(path, ".md") + "_" + suffix + ".md", nil
}

func (f *Forward) recount(b *bucket, log *zap.Logger) {
	counts, err := schema.CountFolders(b.root)
	if err != nil {
		log.Warn("failed to count folders", zap.Error(err))
		return
	}
	if b.inbox {
		return
	}
	if _, err := f.registry.Update(b.slug, func(p *project.Project) error {
		p.SetCounts(counts, f.now())
		return nil
	}); err != nil {
		log.Warn("failed to store folder counts", zap.Error(err))
	}
}

func (f *Forward) record(ctx context.Context, b *bucket, r *Result, titles []string) {
	if f.audit == nil {
		return
	}
	err := f.audit.Append(ctx, audit.Entry{
		Operation: audit.OpForwardSync,
		ProjectID: b.slug,
		Message:   fmt.Sprintf("forward sync: %d synced, %d failed", r.Updated, r.Failed),
		Counts:    audit.Counts{Updated: r.Updated, Failed: r.Failed, Skipped: r.Skipped},
		Items:     titles,
		Errors:    r.errorStrings(),
	})
	if err != nil {
		f.logger.Warn("failed to append audit entry", zap.String("project", b.slug), zap.Error(err))
	}
}
