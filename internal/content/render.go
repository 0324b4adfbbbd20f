package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/ai"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

// Expander is the AI expansion the generator falls back on when an item
// has no hydrated content. *ai.Chain implements it.
type Expander interface {
	Expand(ctx context.Context, system, user string) (*ai.Expansion, error)
}

// Body sources recorded on a Document.
const (
	SourceHydrated    = "hydrated"
	SourceAI          = "ai"
	SourceDescription = "description"
)

// Input is everything Render needs for one item.
type Input struct {
	Item     notion.Item
	Project  string
	Taxonomy taxonomy.Taxonomy

	// Hydrated is the flattened page content of a hydrated item.
	Hydrated string

	// OriginalProject is set for Inbox items to the slug the item asked
	// for, which may be empty.
	OriginalProject string
	Inbox           bool

	SuccessCriteria string
	Now             time.Time
}

// Document is a rendered prompt file.
type Document struct {
	Filename     string
	Content      string
	Phase        string
	Effort       string
	Module       string
	Dependencies []string

	// Source is where the body came from; for AI bodies it names the
	// provider, e.g. "ai:anthropic".
	Source string
}

// Generator renders prompt files.
type Generator struct {
	expander Expander
	logger   *zap.Logger
}

// NewGenerator returns a generator. A nil expander disables AI expansion.
func NewGenerator(expander Expander, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{expander: expander, logger: logger}
}

// Render derives and renders the prompt file for in.Item. The body is the
// hydrated content when present, else an AI expansion, else the raw
// description. It only fails when ctx is done.
func (g *Generator) Render(ctx context.Context, in Input) (*Document, error) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	item := in.Item

	doc := &Document{
		Phase:        DeterminePhase(item, in.Taxonomy),
		Effort:       EstimateEffort(item),
		Dependencies: IdentifyDependencies(item),
	}
	if m, ok := in.Taxonomy.ModuleByRef(item.AffectedModule); ok {
		doc.Module = m.Name
	} else {
		doc.Module = item.AffectedModule
	}
	doc.Filename = GenerateFilename(in.Now, doc.Phase, item.Title)

	related := RelatedFiles(item, in.Taxonomy)
	body, source, err := g.body(ctx, in, doc, related)
	if err != nil {
		return nil, err
	}
	doc.Source = source

	var b strings.Builder
	b.WriteString(g.frontmatter(in, doc).String())
	b.WriteString("\n# " + item.Title + "\n\n")

	b.WriteString("## Metadata\n\n")
	writeField(&b, "Project", in.Project)
	if in.Inbox {
		writeField(&b, "Requested Project", orNone(in.OriginalProject))
	}
	writeField(&b, "Phase", doc.Phase)
	writeField(&b, "Module", orNone(doc.Module))
	writeField(&b, "Type", orNone(item.Type))
	writeField(&b, "Priority", orNone(item.Priority))
	writeField(&b, "Effort", doc.Effort)
	if !item.CapturedDate.IsZero() {
		writeField(&b, "Captured", item.CapturedDate.Format("2006-01-02"))
	}
	if item.URL != "" {
		writeField(&b, "Notion", item.URL)
	}

	b.WriteString("\n## Related Files\n\n")
	if len(related) == 0 {
		b.WriteString("_No related files identified._\n")
	}
	for _, p := range related {
		b.WriteString("- `" + p + "`\n")
	}

	b.WriteString("\n## Dependencies\n\n")
	if len(doc.Dependencies) == 0 {
		b.WriteString("_None identified._\n")
	}
	for _, d := range doc.Dependencies {
		b.WriteString("- " + d + "\n")
	}

	b.WriteString("\n## Prompt\n\n")
	b.WriteString(strings.TrimSpace(body) + "\n")

	if criteria := strings.TrimSpace(in.SuccessCriteria); criteria != "" {
		b.WriteString("\n## Success Criteria\n\n" + criteria + "\n")
	}

	b.WriteString("\n## Completion\n\n")
	b.WriteString(completionInstructions)

	doc.Content = b.String()
	return doc, nil
}

const completionInstructions = `When this prompt is done, move this file to ` + "`processed/`" + `.
Move it to ` + "`deferred/`" + ` to postpone it or ` + "`archived/`" + ` to drop it.
The status in Notion follows the folder on the next reverse sync.
`

func (g *Generator) frontmatter(in Input, doc *Document) *schema.Frontmatter {
	item := in.Item
	fm := schema.NewFrontmatter()
	fm.Set(schema.KeyPageID, item.ID)
	fm.Set(schema.KeyNotionURL, item.URL)
	fm.Set(schema.KeyProject, in.Project)
	if in.Inbox {
		fm.Set(schema.KeyOriginalProj, in.OriginalProject)
	}
	fm.Set(schema.KeyHydrated, strconv.FormatBool(item.Hydrated))
	fm.Set(schema.KeyGeneratedAt, in.Now.UTC().Format(time.RFC3339))
	fm.Set(schema.KeyType, item.Type)
	fm.Set(schema.KeyModule, doc.Module)
	fm.Set(schema.KeyPhase, doc.Phase)
	fm.Set(schema.KeyPriority, item.Priority)
	fm.Set(schema.KeyEffort, doc.Effort)
	return fm
}

func (g *Generator) body(ctx context.Context, in Input, doc *Document, related []string) (string, string, error) {
	if strings.TrimSpace(in.Hydrated) != "" {
		return in.Hydrated, SourceHydrated, nil
	}

	if g.expander != nil {
		exp, err := g.expander.Expand(ctx, systemPrompt, userPrompt(in, doc, related))
		switch {
		case err == nil:
			return exp.Text, SourceAI + ":" + exp.Provider, nil
		case ctx.Err() != nil:
			return "", "", ctx.Err()
		case errors.Is(err, ai.ErrExhausted):
			g.logger.Info("ai expansion unavailable, using description",
				zap.String("item", in.Item.ID), zap.Error(err))
		default:
			g.logger.Warn("ai expansion failed, using description",
				zap.String("item", in.Item.ID), zap.Error(err))
		}
	}

	desc := strings.TrimSpace(in.Item.Description)
	if desc == "" {
		desc = in.Item.Title
	}
	return desc, SourceDescription, nil
}

const systemPrompt = `You turn short software work-item ideas into complete implementation prompts for a coding assistant.
Write markdown with these sections: Context, Requirements, Implementation Notes, Edge Cases.
Be concrete and stay within the scope of the idea. Do not invent unrelated features.`

func userPrompt(in Input, doc *Document, related []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", in.Item.Title)
	fmt.Fprintf(&b, "Type: %s\n", orNone(in.Item.Type))
	fmt.Fprintf(&b, "Project: %s\n", in.Project)
	fmt.Fprintf(&b, "Phase: %s\n", doc.Phase)
	fmt.Fprintf(&b, "Module: %s\n", orNone(doc.Module))
	if len(related) > 0 {
		fmt.Fprintf(&b, "Related files: %s\n", strings.Join(related, ", "))
	}
	if len(doc.Dependencies) > 0 {
		fmt.Fprintf(&b, "Touches: %s\n", strings.Join(doc.Dependencies, ", "))
	}
	b.WriteString("\nIdea:\n")
	b.WriteString(strings.TrimSpace(in.Item.Description))
	b.WriteString("\n")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString("- **" + label + "**: " + value + "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
