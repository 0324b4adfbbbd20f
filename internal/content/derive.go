// Package content turns a remote work item into a local prompt file: it
// derives the phase, effort and dependency tags deterministically, picks
// the filename and renders the markdown document.
package content

import (
	"regexp"
	"strings"

	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/taxonomy"
)

// BacklogPhase is used when a project has no phases.
const BacklogPhase = "Backlog"

// DeterminePhase returns the phase name for item. A module mapped to a
// phase wins; then the first phase (in priority order) with a keyword
// found in the title or description; then the first phase; then
// BacklogPhase.
func DeterminePhase(item notion.Item, tax taxonomy.Taxonomy) string {
	if m, ok := tax.ModuleByRef(item.AffectedModule); ok {
		if id, ok := tax.Mapping[m.ID]; ok {
			if p, ok := tax.PhaseByID(id); ok {
				return p.Name
			}
		}
	}

	text := strings.ToLower(item.Title + " " + item.Description)
	for _, p := range tax.Phases {
		for _, kw := range p.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				return p.Name
			}
		}
	}

	if len(tax.Phases) > 0 {
		return tax.Phases[0].Name
	}
	return BacklogPhase
}

// Effort buckets.
const (
	EffortXS = "XS - < 2 hours"
	EffortS  = "S - 2-4 hours"
	EffortM  = "M - 1-2 days"
	EffortL  = "L - 3-5 days"
)

// longDescription is the length above which a description adds a point.
const longDescription = 500

var typeScores = map[string]int{
	"feature":     3,
	"improvement": 2,
	"bugfix":      1,
	"techdebt":    2,
	"spike":       2,
}

// EstimateEffort maps item to an effort bucket from its type and the
// length of its description.
func EstimateEffort(item notion.Item) string {
	score, ok := typeScores[normalizeType(item.Type)]
	if !ok {
		score = 2
	}
	if len([]rune(item.Description)) > longDescription {
		score++
	}

	switch {
	case score <= 1:
		return EffortXS
	case score <= 3:
		return EffortS
	case score <= 5:
		return EffortM
	default:
		return EffortL
	}
}

// normalizeType folds "Bug Fix", "bug-fix" and "BugFix" together.
func normalizeType(t string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(t) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var dependencyTable = []struct {
	tag      string
	keywords []string
}{
	{"database", []string{"database", "db", "sql", "migration", "schema", "query"}},
	{"authentication", []string{"auth", "login", "logout", "oauth", "session", "password", "sso"}},
	{"api", []string{"api", "endpoint", "rest", "graphql", "webhook"}},
	{"frontend", []string{"ui", "frontend", "component", "css", "layout", "button"}},
	{"testing", []string{"test", "tests", "testing", "coverage"}},
	{"infrastructure", []string{"deploy", "deployment", "docker", "kubernetes", "ci", "pipeline"}},
	{"caching", []string{"cache", "caching", "redis"}},
	{"notifications", []string{"email", "notification", "notifications", "push"}},
	{"payments", []string{"payment", "payments", "billing", "stripe", "invoice"}},
	{"search", []string{"search", "index", "indexing"}},
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// IdentifyDependencies returns the dependency tags whose keywords appear as
// words in the title or description, in table order without duplicates.
func IdentifyDependencies(item notion.Item) []string {
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(item.Title+" "+item.Description), -1) {
		words[w] = true
	}

	var tags []string
	for _, entry := range dependencyTable {
		for _, kw := range entry.keywords {
			if words[kw] {
				tags = append(tags, entry.tag)
				break
			}
		}
	}
	return tags
}

// RelatedFiles returns the file paths of the item's module, if any.
func RelatedFiles(item notion.Item, tax taxonomy.Taxonomy) []string {
	if m, ok := tax.ModuleByRef(item.AffectedModule); ok {
		return m.FilePaths
	}
	return nil
}
