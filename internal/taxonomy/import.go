package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ConfigFileNames is the allowlist of config documents at a project root,
// in priority order.
var ConfigFileNames = []string{
	".nsma-config.md",
	"nsma-config.md",
	"NSMA.md",
	"ARCHITECTURE.md",
	"ROADMAP.md",
}

// DocCategories are the docs/ subfolders whose markdown files are config
// documents.
var DocCategories = []string{"architecture", "setup", "security", "api"}

// FindConfigFiles returns the config documents under root in discovery
// order: allowlisted root files first, then docs/<category>/*.md sorted by
// name. Arbitrary markdown elsewhere is never returned.
func FindConfigFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	var files []string
	for _, name := range ConfigFileNames {
		path := filepath.Join(root, name)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			files = append(files, path)
		}
	}

	for _, cat := range DocCategories {
		dir := filepath.Join(root, "docs", cat)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			files = append(files, filepath.Join(dir, n))
		}
	}
	return files, nil
}

// ConfigDirs returns the directories that may hold config documents: the
// root and the docs category folders that exist.
func ConfigDirs(root string) []string {
	dirs := []string{root}
	for _, cat := range DocCategories {
		dir := filepath.Join(root, "docs", cat)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// IsConfigFile reports whether path is a config document of the project
// at root.
func IsConfigFile(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		for _, name := range ConfigFileNames {
			if parts[0] == name {
				return true
			}
		}
	case 3:
		if parts[0] != "docs" || !strings.EqualFold(filepath.Ext(parts[2]), ".md") {
			return false
		}
		for _, cat := range DocCategories {
			if parts[1] == cat {
				return true
			}
		}
	}
	return false
}

// ParseMultipleFiles parses every path, skipping files that fail to parse,
// and merges the results. It returns the merged taxonomy, the files that
// contributed and ErrNoTaxonomy when none did.
func ParseMultipleFiles(paths []string, logger *zap.Logger) (*Taxonomy, []string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var parsed []*ParsedFile
	for _, p := range paths {
		pf, err := ParseFile(p)
		if err != nil {
			logger.Warn("skipping config file", zap.String("file", p), zap.Error(err))
			continue
		}
		parsed = append(parsed, pf)
	}
	if len(parsed) == 0 {
		return nil, nil, ErrNoTaxonomy
	}

	used := make([]string, len(parsed))
	for i, pf := range parsed {
		used[i] = pf.Path
	}

	phases, modules := parsed[0].Phases, parsed[0].Modules
	if len(parsed) > 1 {
		phases, modules = mergeParsed(parsed)
	}
	return &Taxonomy{
		Phases:  phases,
		Modules: modules,
		Mapping: GenerateMapping(phases, modules),
	}, used, nil
}

// mergeParsed merges entities by exact name. Keywords and file paths are
// unioned; the first file to set a description, priority or phase wins.
func mergeParsed(files []*ParsedFile) ([]Phase, []Module) {
	var phases []Phase
	phaseIdx := make(map[string]int)
	var modules []Module
	moduleIdx := make(map[string]int)

	for _, f := range files {
		for _, p := range f.Phases {
			i, ok := phaseIdx[p.Name]
			if !ok {
				phaseIdx[p.Name] = len(phases)
				p.Keywords = union(nil, p.Keywords)
				phases = append(phases, p)
				continue
			}
			existing := &phases[i]
			existing.Keywords = union(existing.Keywords, p.Keywords)
			if existing.Description == "" {
				existing.Description = p.Description
			}
			if existing.Priority == DefaultPriority {
				existing.Priority = p.Priority
			}
		}

		for _, m := range f.Modules {
			i, ok := moduleIdx[m.Name]
			if !ok {
				moduleIdx[m.Name] = len(modules)
				m.FilePaths = union(nil, m.FilePaths)
				modules = append(modules, m)
				continue
			}
			existing := &modules[i]
			existing.FilePaths = union(existing.FilePaths, m.FilePaths)
			if existing.Description == "" {
				existing.Description = m.Description
			}
			if existing.Phase == "" {
				existing.Phase = m.Phase
			}
		}
	}

	sortPhases(phases)
	return phases, modules
}

// union appends the items of b missing from a, ignoring case.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			key := strings.ToLower(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// MergeWithExisting carries ids over from existing into parsed. An entity
// that matches an existing one keeps the existing id and takes every other
// field from the fresh parse. Name matches win over id matches, and each
// existing id is handed out at most once; unmatched entities keep their
// fresh ids, suffixed when one is already taken. The mapping is regenerated
// from the merged sets.
func MergeWithExisting(parsed, existing Taxonomy) Taxonomy {
	out := Taxonomy{
		Phases:  make([]Phase, len(parsed.Phases)),
		Modules: make([]Module, len(parsed.Modules)),
	}

	names, ids := make([]string, len(parsed.Phases)), make([]string, len(parsed.Phases))
	for i, p := range parsed.Phases {
		names[i], ids[i] = p.Name, p.ID
	}
	oldNames, oldIDs := make([]string, len(existing.Phases)), make([]string, len(existing.Phases))
	for i, p := range existing.Phases {
		oldNames[i], oldIDs[i] = p.Name, p.ID
	}
	ids = carryIDs(names, ids, oldNames, oldIDs)
	for i, p := range parsed.Phases {
		p.ID = ids[i]
		p.Keywords = append([]string(nil), p.Keywords...)
		out.Phases[i] = p
	}

	names, ids = make([]string, len(parsed.Modules)), make([]string, len(parsed.Modules))
	for i, m := range parsed.Modules {
		names[i], ids[i] = m.Name, m.ID
	}
	oldNames, oldIDs = make([]string, len(existing.Modules)), make([]string, len(existing.Modules))
	for i, m := range existing.Modules {
		oldNames[i], oldIDs[i] = m.Name, m.ID
	}
	ids = carryIDs(names, ids, oldNames, oldIDs)
	for i, m := range parsed.Modules {
		m.ID = ids[i]
		m.FilePaths = append([]string(nil), m.FilePaths...)
		out.Modules[i] = m
	}

	out.Mapping = GenerateMapping(out.Phases, out.Modules)
	return out
}

// carryIDs resolves the final ids of parsed entities against existing ones.
func carryIDs(names, ids, oldNames, oldIDs []string) []string {
	out := append([]string(nil), ids...)
	matched := make([]bool, len(names))
	claimed := make([]bool, len(oldNames))
	used := make(map[string]bool)

	claim := func(i int, same func(j int) bool) {
		for j := range oldNames {
			if !claimed[j] && same(j) {
				claimed[j], matched[i] = true, true
				out[i] = oldIDs[j]
				used[out[i]] = true
				return
			}
		}
	}
	for i := range names {
		claim(i, func(j int) bool { return strings.EqualFold(oldNames[j], names[i]) })
	}
	for i := range names {
		if !matched[i] {
			claim(i, func(j int) bool { return oldIDs[j] == ids[i] })
		}
	}

	for i := range names {
		if matched[i] {
			continue
		}
		id := out[i]
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", out[i], n)
		}
		out[i] = id
		used[id] = true
	}
	return out
}

var parseFiles = ParseMultipleFiles

// AutoImport discovers, parses and merges the config documents under root.
// When existing is non-nil, ids are carried over from it. It returns
// ErrNoConfigFiles when root holds no config documents.
func AutoImport(root string, existing *Taxonomy, logger *zap.Logger) (*ImportResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := FindConfigFiles(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoConfigFiles)
	}

	// Taken before parsing so an edit made mid-import still reads as a change.
	mtimes := Snapshot(root, files)

	tax, used, err := parseFiles(files, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", root, err)
	}

	result := *tax
	if existing != nil {
		result = MergeWithExisting(*tax, *existing)
	}

	names := make([]string, len(used))
	for i, p := range used {
		names[i] = relName(root, p)
	}

	logger.Info("imported taxonomy",
		zap.String("root", root),
		zap.Strings("files", names),
		zap.Int("phases", len(result.Phases)),
		zap.Int("modules", len(result.Modules)))

	return &ImportResult{
		Taxonomy:       result,
		ConfigSource:   strings.Join(names, ", "),
		Files:          files,
		Mtimes:         mtimes,
		LastImportedAt: time.Now(),
	}, nil
}

// Snapshot records the modification time of each file, keyed by path
// relative to root. Unreadable files are left out.
func Snapshot(root string, files []string) map[string]time.Time {
	snap := make(map[string]time.Time, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		snap[relName(root, f)] = info.ModTime()
	}
	return snap
}

// HasConfigChanged reports whether any config document under root is newer
// than, or missing from, the snapshot taken at the last import. Files that
// cannot be read are skipped rather than treated as changed.
func HasConfigChanged(root string, snapshot map[string]time.Time) (bool, error) {
	files, err := FindConfigFiles(root)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		seen, ok := snapshot[relName(root, f)]
		if !ok || info.ModTime().After(seen) {
			return true, nil
		}
	}
	return false, nil
}

func relName(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}
