// Package project is the registry of projects nsma syncs: where each
// project's documentation and prompt tree live, its imported taxonomy and
// its reverse sync policy. The registry is a single YAML file.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

var (
	// ErrUnknownProject is returned when a slug is not in the registry.
	ErrUnknownProject = errors.New("unknown project")

	// ErrInvalidProject is returned by Validate.
	ErrInvalidProject = errors.New("invalid project")
)

// IsUnknownProject reports whether err is an ErrUnknownProject.
func IsUnknownProject(err error) bool { return errors.Is(err, ErrUnknownProject) }

// ErrorMode is the reverse sync policy for local files whose remote item
// no longer exists.
type ErrorMode string

const (
	// ModeSkip logs and retries on the next run.
	ModeSkip ErrorMode = "skip"
	// ModeDelete removes the local file.
	ModeDelete ErrorMode = "delete"
	// ModeArchive moves the local file to archived/.
	ModeArchive ErrorMode = "archive"
)

// Valid reports whether m is a known mode. The empty mode is valid and
// means ModeSkip.
func (m ErrorMode) Valid() bool {
	switch m {
	case "", ModeSkip, ModeDelete, ModeArchive:
		return true
	}
	return false
}

// ReverseSync is a project's reverse sync policy.
type ReverseSync struct {
	Enabled   bool      `yaml:"enabled"`
	ErrorMode ErrorMode `yaml:"error_mode,omitempty"`
}

// Mode returns the effective error mode.
func (r ReverseSync) Mode() ErrorMode {
	if r.ErrorMode == "" {
		return ModeSkip
	}
	return r.ErrorMode
}

// Stats are the folder counts from the last recount.
type Stats struct {
	Pending   int       `yaml:"pending"`
	Processed int       `yaml:"processed"`
	Archived  int       `yaml:"archived"`
	Deferred  int       `yaml:"deferred"`
	CountedAt time.Time `yaml:"counted_at,omitempty"`
}

// Total returns the number of prompt files across folders.
func (s Stats) Total() int {
	return s.Pending + s.Processed + s.Archived + s.Deferred
}

// Project is one registry entry.
type Project struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`

	// Path is the project repository root holding its config documents.
	Path string `yaml:"path"`

	// PromptsPath is the prompt tree root. Defaults to Path/prompts.
	PromptsPath string `yaml:"prompts_path,omitempty"`

	Active bool `yaml:"active"`

	taxonomy.Taxonomy `yaml:",inline"`

	ReverseSync ReverseSync `yaml:"reverse_sync"`

	ConfigSource   string               `yaml:"config_source,omitempty"`
	LastImportedAt time.Time            `yaml:"last_imported_at,omitempty"`
	ConfigMtimes   map[string]time.Time `yaml:"config_mtimes,omitempty"`

	Stats Stats `yaml:"stats"`
}

// Prompts returns the prompt tree root.
func (p *Project) Prompts() string {
	if p.PromptsPath != "" {
		return p.PromptsPath
	}
	return filepath.Join(p.Path, "prompts")
}

// Validate checks the fields every project needs.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Slug) == "" {
		return fmt.Errorf("%w: slug is empty", ErrInvalidProject)
	}
	if p.Path == "" && p.PromptsPath == "" {
		return fmt.Errorf("%w: %s has no path", ErrInvalidProject, p.Slug)
	}
	if !p.ReverseSync.ErrorMode.Valid() {
		return fmt.Errorf("%w: %s has unknown error mode %q", ErrInvalidProject, p.Slug, p.ReverseSync.ErrorMode)
	}
	return nil
}

// ApplyImport replaces the taxonomy with an import result and stamps the
// import metadata.
func (p *Project) ApplyImport(r *taxonomy.ImportResult) {
	p.Taxonomy = r.Taxonomy
	p.ConfigSource = r.ConfigSource
	p.LastImportedAt = r.LastImportedAt
	p.ConfigMtimes = r.Mtimes
}

// SetCounts records folder counts.
func (p *Project) SetCounts(counts map[schema.Folder]int, at time.Time) {
	p.Stats = Stats{
		Pending:   counts[schema.Pending],
		Processed: counts[schema.Processed],
		Archived:  counts[schema.Archived],
		Deferred:  counts[schema.Deferred],
		CountedAt: at,
	}
}
