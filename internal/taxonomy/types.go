// Package taxonomy extracts a project's phase/module taxonomy from its
// documentation files and keeps entity ids stable across re-imports.
//
// A config document is markdown with optional frontmatter and two fixed
// sections:
//
//	## Development Phases
//
//	### Authentication
//	**ID**: auth
//	**Description**: Login, sessions and permissions
//	**Keywords**: login, oauth, session
//	**Priority**: 1
//
//	## Modules
//
//	### Session Store
//	**Phase**: Authentication
//	**Paths**:
//	- internal/session/
//	- internal/auth/store.go
package taxonomy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultPriority is used for phases without a parsable Priority field.
const DefaultPriority = 99

var (
	// ErrNoConfigFiles is returned by AutoImport when a project root has no
	// config documents.
	ErrNoConfigFiles = errors.New("no config files found")

	// ErrNoTaxonomy is returned when no discovered file could be parsed.
	ErrNoTaxonomy = errors.New("no parsable config files")
)

// ParseError reports a config file that could not be used.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Phase is a named work grouping.
type Phase struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Priority    int      `yaml:"priority" json:"priority"`
}

// Module is a named code area, optionally assigned to a phase.
type Module struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	FilePaths   []string `yaml:"file_paths,omitempty" json:"filePaths,omitempty"`

	// Phase is the phase reference as written in the document: a phase
	// name, a phase id or part of a phase name.
	Phase string `yaml:"phase,omitempty" json:"phase,omitempty"`
}

// Taxonomy is the full classification config of a project.
type Taxonomy struct {
	Phases  []Phase           `yaml:"phases" json:"phases"`
	Modules []Module          `yaml:"modules" json:"modules"`
	Mapping map[string]string `yaml:"module_phase_mapping" json:"modulePhaseMapping"`
}

// PhaseByID returns the phase with the given id.
func (t *Taxonomy) PhaseByID(id string) (Phase, bool) {
	for _, p := range t.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

// ModuleByRef finds a module by id or case-insensitive name.
func (t *Taxonomy) ModuleByRef(ref string) (Module, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Module{}, false
	}
	for _, m := range t.Modules {
		if m.ID == ref || strings.EqualFold(m.Name, ref) {
			return m, true
		}
	}
	return Module{}, false
}

// ImportResult is the outcome of AutoImport.
type ImportResult struct {
	Taxonomy

	// ConfigSource lists the files that contributed, comma-joined.
	ConfigSource string

	// Files are the absolute paths of the discovered files.
	Files []string

	// Mtimes snapshots each discovered file's modification time, keyed by
	// path relative to the project root.
	Mtimes map[string]time.Time

	LastImportedAt time.Time
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a name into a lowercase, hyphen-separated id.
func Slugify(name string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
