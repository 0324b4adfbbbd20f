package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsma/nsma/internal/ai"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

func testTaxonomy() taxonomy.Taxonomy {
	return taxonomy.Taxonomy{
		Phases: []taxonomy.Phase{
			{ID: "auth", Name: "Auth", Keywords: []string{"login", "oauth"}, Priority: 1},
			{ID: "core", Name: "Core Platform", Keywords: []string{"config"}, Priority: 2},
			{ID: "reports", Name: "Reporting", Keywords: []string{"export"}, Priority: 3},
		},
		Modules: []taxonomy.Module{
			{ID: "exporter", Name: "Exporter", FilePaths: []string{"internal/export/"}, Phase: "Reporting"},
			{ID: "loose", Name: "Loose"},
		},
		Mapping: map[string]string{"exporter": "reports"},
	}
}

func TestDeterminePhase(t *testing.T) {
	tax := testTaxonomy()
	tests := []struct {
		name string
		item notion.Item
		tax  taxonomy.Taxonomy
		want string
	}{
		{"keyword", notion.Item{Title: "Fix login bug", Type: "Bug Fix", Description: "short"}, tax, "Auth"},
		{"mapping beats keyword", notion.Item{Title: "Fix login export", AffectedModule: "Exporter"}, tax, "Reporting"},
		{"mapping by module id", notion.Item{Title: "oauth", AffectedModule: "exporter"}, tax, "Reporting"},
		{"unmapped module falls to keywords", notion.Item{Title: "config loader", AffectedModule: "Loose"}, tax, "Core Platform"},
		{"keyword in description", notion.Item{Title: "x", Description: "Needs an EXPORT button"}, tax, "Reporting"},
		{"first phase", notion.Item{Title: "nothing matches"}, tax, "Auth"},
		{"backlog", notion.Item{Title: "nothing matches"}, taxonomy.Taxonomy{}, BacklogPhase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeterminePhase(tt.item, tt.tax))
		})
	}
}

func TestEstimateEffort(t *testing.T) {
	long := strings.Repeat("x", 501)
	tests := []struct {
		typ, desc, want string
	}{
		{"Bug Fix", "short", EffortXS},
		{"bug-fix", long, EffortS},
		{"Feature", "", EffortS},
		{"Feature", long, EffortM},
		{"Improvement", "", EffortS},
		{"Tech Debt", long, EffortS},
		{"Spike", "", EffortS},
		{"Mystery", "", EffortS},
	}
	for _, tt := range tests {
		got := EstimateEffort(notion.Item{Type: tt.typ, Description: tt.desc})
		if got != tt.want {
			t.Errorf("EstimateEffort(%q, %d chars) = %q, want %q", tt.typ, len(tt.desc), got, tt.want)
		}
	}
}

func TestEstimateEffort_Monotonic(t *testing.T) {
	rank := map[string]int{EffortXS: 0, EffortS: 1, EffortM: 2, EffortL: 3}
	for _, typ := range []string{"Feature", "Improvement", "Bug Fix", "Tech Debt", "Spike", ""} {
		short := EstimateEffort(notion.Item{Type: typ, Description: strings.Repeat("a", 100)})
		long := EstimateEffort(notion.Item{Type: typ, Description: strings.Repeat("a", 600)})
		if rank[long] < rank[short] {
			t.Errorf("%s: effort for 600 chars (%s) below effort for 100 chars (%s)", typ, long, short)
		}
	}
}

func TestIdentifyDependencies(t *testing.T) {
	got := IdentifyDependencies(notion.Item{
		Title:       "Login API",
		Description: "Add an endpoint; store the session in redis and the DB. Session expiry too.",
	})
	assert.Equal(t, []string{"database", "authentication", "api", "caching"}, got)

	// Substrings of longer words are not matches.
	assert.Empty(t, IdentifyDependencies(notion.Item{Title: "Build a decision matrix"}))
}

func TestGenerateFilename(t *testing.T) {
	date := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		phase, title, want string
	}{
		{"Auth", "Fix login bug", "20260307_auth_fix_login_bug.md"},
		{"Core Platform", "Émoji 🚀 & symbols!!", "20260307_core_platform_moji_symbols.md"},
		{"", "", "20260307_backlog_untitled.md"},
		{"Auth", "A very long title that keeps on going well past the limit", "20260307_auth_a_very_long_title_that_keeps_on_going_we.md"},
		{"Auth", "forty chars exactly then an underscores xyz", "20260307_auth_forty_chars_exactly_then_an_underscores.md"},
	}
	for _, tt := range tests {
		got := GenerateFilename(date, tt.phase, tt.title)
		if got != tt.want {
			t.Errorf("GenerateFilename(%q, %q) = %q, want %q", tt.phase, tt.title, got, tt.want)
		}
	}
}

type stubExpander struct {
	text  string
	err   error
	calls int
}

func (s *stubExpander) Expand(ctx context.Context, system, user string) (*ai.Expansion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Expansion{Text: s.text, Provider: "stub"}, nil
}

func TestRender_RoundTrip(t *testing.T) {
	item := notion.Item{
		ID:           "page-1",
		URL:          "https://notion.so/page-1",
		Title:        "Fix login bug",
		Type:         "Bug Fix",
		Priority:     "High",
		Description:  "short",
		CapturedDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	g := NewGenerator(&stubExpander{text: "## Context\nExpanded."}, nil)
	doc, err := g.Render(context.Background(), Input{
		Item:            item,
		Project:         "web-app",
		Taxonomy:        testTaxonomy(),
		SuccessCriteria: "- [ ] works",
		Now:             now,
	})
	require.NoError(t, err)

	assert.Equal(t, "Auth", doc.Phase)
	assert.Equal(t, EffortXS, doc.Effort)
	assert.Equal(t, "20261015_auth_fix_login_bug.md", doc.Filename)
	assert.Equal(t, "ai:stub", doc.Source)

	fm, body, ok := schema.ParseFrontmatter(doc.Content)
	require.True(t, ok)
	assert.Equal(t, "page-1", fm.Get(schema.KeyPageID))
	assert.Equal(t, "Auth", fm.Get(schema.KeyPhase))
	assert.Equal(t, EffortXS, fm.Get(schema.KeyEffort))
	assert.Equal(t, "false", fm.Get(schema.KeyHydrated))
	assert.Equal(t, "2026-10-15T09:30:00Z", fm.Get(schema.KeyGeneratedAt))
	_, hasOriginal := fm.Lookup(schema.KeyOriginalProj)
	assert.False(t, hasOriginal)

	assert.Contains(t, body, "# Fix login bug")
	assert.Contains(t, body, "Expanded.")
	assert.Contains(t, body, "## Success Criteria\n\n- [ ] works")
	assert.Contains(t, body, "`processed/`")
}

func TestRender_BodySources(t *testing.T) {
	item := notion.Item{ID: "p", Title: "Export CSV", Description: "raw idea", AffectedModule: "Exporter"}

	t.Run("hydrated skips ai", func(t *testing.T) {
		exp := &stubExpander{text: "unused"}
		doc, err := NewGenerator(exp, nil).Render(context.Background(), Input{
			Item: item, Taxonomy: testTaxonomy(), Hydrated: "Full page content",
		})
		require.NoError(t, err)
		assert.Equal(t, SourceHydrated, doc.Source)
		assert.Contains(t, doc.Content, "Full page content")
		assert.Contains(t, doc.Content, "- `internal/export/`")
		assert.Zero(t, exp.calls)
	})

	t.Run("exhausted falls back to description", func(t *testing.T) {
		exp := &stubExpander{err: fmt.Errorf("%w: none", ai.ErrExhausted)}
		doc, err := NewGenerator(exp, nil).Render(context.Background(), Input{Item: item})
		require.NoError(t, err)
		assert.Equal(t, SourceDescription, doc.Source)
		assert.Contains(t, doc.Content, "raw idea")
	})

	t.Run("no expander", func(t *testing.T) {
		doc, err := NewGenerator(nil, nil).Render(context.Background(), Input{Item: notion.Item{Title: "Only title"}})
		require.NoError(t, err)
		assert.Equal(t, SourceDescription, doc.Source)
		assert.Contains(t, doc.Content, "## Prompt\n\nOnly title\n")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		exp := &stubExpander{err: errors.New("request aborted")}
		_, err := NewGenerator(exp, nil).Render(ctx, Input{Item: item})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRender_InboxInjectsOriginalProject(t *testing.T) {
	doc, err := NewGenerator(nil, nil).Render(context.Background(), Input{
		Item:            notion.Item{ID: "p", Title: "Ghost idea", Project: "ghost-project"},
		Project:         "inbox",
		Inbox:           true,
		OriginalProject: "ghost-project",
	})
	require.NoError(t, err)

	fm, _, ok := schema.ParseFrontmatter(doc.Content)
	require.True(t, ok)
	assert.Equal(t, "ghost-project", fm.Get(schema.KeyOriginalProj))
	assert.Equal(t, "inbox", fm.Get(schema.KeyProject))
	assert.Equal(t, BacklogPhase, doc.Phase)
}
