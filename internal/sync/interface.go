// Package sync moves work items between the Notion ideas database and the
// local prompt trees.
//
// Forward sync pulls unclassified items, renders them into pending/ of the
// owning project (or the Inbox) and flips the remote status to In Progress.
// Reverse sync scans the prompt trees and pushes the status implied by each
// file's folder back to Notion.
//
// Both engines are resilient: a single item or file failure is recorded in
// the Result and the run continues. Only authentication failures and
// configuration problems are returned as errors.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/content"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
)

// ErrSyncInProgress is returned when a run for the same project is already
// in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// IsSyncInProgress reports whether err is an ErrSyncInProgress.
func IsSyncInProgress(err error) bool { return errors.Is(err, ErrSyncInProgress) }

// Remote is the part of the Notion client the engines use.
// *notion.Client implements it.
type Remote interface {
	// QueryDatabase returns the items matching f.
	QueryDatabase(ctx context.Context, f notion.Filter) ([]notion.Item, error)

	// GetPageBlocks returns a page's content flattened to markdown.
	GetPageBlocks(ctx context.Context, pageID string) (string, error)

	// UpdatePage patches page properties.
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) error
}

// Registry is the project registry. *project.Store implements it.
type Registry interface {
	Active() ([]*project.Project, error)
	Get(slug string) (*project.Project, error)
	Update(slug string, fn func(*project.Project) error) (*project.Project, error)
}

// AuditSink records one entry per bucket or project. *audit.Log implements
// it.
type AuditSink interface {
	Append(ctx context.Context, e audit.Entry) error
}

// Renderer renders prompt files. *content.Generator implements it.
type Renderer interface {
	Render(ctx context.Context, in content.Input) (*content.Document, error)
}

// ItemError is one failed item or file.
type ItemError struct {
	// Item is the remote item id or the local file path.
	Item  string `json:"item"`
	Cause string `json:"cause"`
}

func (e ItemError) String() string {
	return fmt.Sprintf("%s: %s", e.Item, e.Cause)
}

// Routing records why an item was sent to the Inbox.
type Routing struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Inbox routing reasons.
const (
	ReasonBlankProject   = "blank project"
	ReasonUnknownProject = "unknown project"
)

// Result is the outcome of a sync run.
type Result struct {
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors,omitempty"`

	// Routed lists the items forward sync sent to the Inbox.
	Routed []Routing `json:"routed,omitempty"`
}

func (r *Result) fail(item string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{Item: item, Cause: err.Error()})
}

// Merge adds o's counts and records to r.
func (r *Result) Merge(o *Result) {
	if o == nil {
		return
	}
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
	r.Routed = append(r.Routed, o.Routed...)
}

func (r *Result) errorStrings() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}
