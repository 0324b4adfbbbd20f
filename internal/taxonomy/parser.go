package taxonomy

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nsma/nsma/internal/schema"
)

const (
	sectionPhases  = "development phases"
	sectionModules = "modules"
)

// fieldRe matches bold-labeled fields in both "**ID**: x" and "**ID:** x"
// forms, optionally as a list item.
var fieldRe = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*([A-Za-z ]+?):?\*\*:?\s*(.*)$`)

// bulletRe matches list items used for Paths.
var bulletRe = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)

// ParsedFile is the content of one config document.
type ParsedFile struct {
	Path        string
	Frontmatter map[string]string
	Phases      []Phase
	Modules     []Module
}

// ParseFile parses one config document. A document with neither a phases
// nor a modules section is reported as a ParseError.
func ParseFile(path string) (*ParsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	parsed.Path = path
	return parsed, nil
}

// entity collects the raw fields of one ### block.
type entity struct {
	name   string
	fields map[string]string
	paths  []string
}

// Parse parses config document content.
func Parse(content string) (*ParsedFile, error) {
	fm, body, _ := schema.ParseFrontmatter(content)
	out := &ParsedFile{Frontmatter: fm.Map()}

	var (
		section     string
		current     *entity
		inPaths     bool
		sawSection  bool
		phaseBlocks []*entity
		moduleBlock []*entity
	)

	flush := func() {
		if current == nil {
			return
		}
		switch section {
		case sectionPhases:
			phaseBlocks = append(phaseBlocks, current)
		case sectionModules:
			moduleBlock = append(moduleBlock, current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			inPaths = false
			title := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
			switch title {
			case sectionPhases, sectionModules:
				section = title
				sawSection = true
			default:
				section = ""
			}
			continue

		case strings.HasPrefix(line, "# "):
			flush()
			inPaths = false
			section = ""
			continue

		case strings.HasPrefix(line, "### "):
			flush()
			inPaths = false
			if section == "" {
				continue
			}
			current = &entity{
				name:   strings.TrimSpace(strings.TrimPrefix(line, "### ")),
				fields: make(map[string]string),
			}
			continue
		}

		if current == nil {
			continue
		}

		if m := fieldRe.FindStringSubmatch(line); m != nil {
			label := strings.ToLower(strings.TrimSpace(m[1]))
			value := strings.TrimSpace(m[2])
			inPaths = label == "paths" || label == "files"
			if inPaths {
				current.paths = append(current.paths, splitList(value)...)
				continue
			}
			current.fields[label] = value
			continue
		}

		if inPaths {
			if m := bulletRe.FindStringSubmatch(line); m != nil {
				if p := cleanItem(m[1]); p != "" {
					current.paths = append(current.paths, p)
				}
				continue
			}
			if strings.TrimSpace(line) != "" {
				inPaths = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	flush()

	if !sawSection {
		return nil, errors.New("no Development Phases or Modules section")
	}

	for _, e := range phaseBlocks {
		out.Phases = append(out.Phases, e.toPhase())
	}
	sortPhases(out.Phases)

	for _, e := range moduleBlock {
		out.Modules = append(out.Modules, e.toModule())
	}
	return out, nil
}

func (e *entity) id() string {
	if id := cleanItem(e.fields["id"]); id != "" {
		return id
	}
	return Slugify(e.name)
}

func (e *entity) toPhase() Phase {
	p := Phase{
		ID:          e.id(),
		Name:        e.name,
		Description: e.fields["description"],
		Keywords:    splitList(e.fields["keywords"]),
		Priority:    DefaultPriority,
	}
	if raw := strings.TrimSpace(e.fields["priority"]); raw != "" {
		if n, err := strconv.Atoi(strings.Fields(raw)[0]); err == nil {
			p.Priority = n
		}
	}
	return p
}

func (e *entity) toModule() Module {
	return Module{
		ID:          e.id(),
		Name:        e.name,
		Description: e.fields["description"],
		FilePaths:   e.paths,
		Phase:       cleanItem(e.fields["phase"]),
	}
}

// splitList splits a comma-separated value into cleaned items.
func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if item := cleanItem(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func cleanItem(s string) string {
	return strings.Trim(strings.TrimSpace(s), "`\"'")
}

// sortPhases orders phases by ascending priority, keeping document order
// for equal priorities.
func sortPhases(phases []Phase) {
	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].Priority < phases[j].Priority
	})
}

// GenerateMapping maps each module with a phase reference to a phase id.
// A reference matches a phase by exact name, then exact id, then by the
// phase name containing the reference; comparisons ignore case.
func GenerateMapping(phases []Phase, modules []Module) map[string]string {
	mapping := make(map[string]string)
	for _, m := range modules {
		if m.Phase == "" {
			continue
		}
		if id, ok := matchPhase(phases, m.Phase); ok {
			mapping[m.ID] = id
		}
	}
	return mapping
}

func matchPhase(phases []Phase, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	for _, p := range phases {
		if strings.EqualFold(p.Name, ref) {
			return p.ID, true
		}
	}
	for _, p := range phases {
		if p.ID == ref {
			return p.ID, true
		}
	}
	lower := strings.ToLower(ref)
	for _, p := range phases {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			return p.ID, true
		}
	}
	return "", false
}
