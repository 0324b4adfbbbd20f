// Package schema defines the local prompt-file format: the folder states a
// file can live in, the flat frontmatter block at the top of each file and
// the scanner that reads them back.
package schema

import (
	"slices"
	"strings"
)

// Frontmatter keys written by forward sync.
const (
	KeyPageID       = "notion_page_id"
	KeyNotionURL    = "notion_url"
	KeyProject      = "project"
	KeyHydrated     = "hydrated"
	KeyGeneratedAt  = "generated_at"
	KeyType         = "type"
	KeyModule       = "module"
	KeyPhase        = "phase"
	KeyPriority     = "priority"
	KeyEffort       = "effort"
	KeyOriginalProj = "original_project"
)

// Frontmatter keys owned by reverse sync.
const (
	KeyLastSynced = "last_synced_to_notion"
	KeyLastStatus = "last_status"
)

const delimiter = "---"

// Frontmatter is a flat, ordered key/value block. Only single-line
// "key: value" entries are supported; there is no nesting.
type Frontmatter struct {
	keys   []string
	values map[string]string
}

// NewFrontmatter returns an empty block.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: make(map[string]string)}
}

// Get returns the value for key, or "" when absent.
func (f *Frontmatter) Get(key string) string {
	return f.values[key]
}

// Lookup returns the value for key and whether it is present.
func (f *Frontmatter) Lookup(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Set adds or replaces key. New keys are appended after existing ones.
func (f *Frontmatter) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Keys returns the keys in file order.
func (f *Frontmatter) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Len returns the number of entries.
func (f *Frontmatter) Len() int { return len(f.keys) }

// Map returns a copy of the entries.
func (f *Frontmatter) Map() map[string]string {
	m := make(map[string]string, len(f.values))
	for k, v := range f.values {
		m[k] = v
	}
	return m
}

// String renders the block including both delimiter lines and a trailing
// newline.
func (f *Frontmatter) String() string {
	var b strings.Builder
	b.WriteString(delimiter + "\n")
	for _, k := range f.keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(quoteValue(f.values[k]))
		b.WriteString("\n")
	}
	b.WriteString(delimiter + "\n")
	return b.String()
}

// quoteValue wraps values that would not survive a parse unchanged.
func quoteValue(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	switch {
	case v == "":
		return `""`
	case v != strings.TrimSpace(v),
		strings.HasPrefix(v, `"`),
		strings.HasPrefix(v, `'`):
		return `"` + v + `"`
	}
	return v
}

// unquoteValue strips one pair of matching surrounding quotes.
func unquoteValue(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// SplitFrontmatter splits content into the raw text between the delimiter
// lines and the untouched remainder after the closing delimiter. ok is
// false when content does not start with a frontmatter block.
func SplitFrontmatter(content string) (block, rest string, ok bool) {
	first, after, found := cutLine(content)
	if !found || strings.TrimRight(first, "\r") != delimiter {
		return "", content, false
	}

	offset := len(content) - len(after)
	remaining := after
	for {
		line, next, hasNewline := cutLine(remaining)
		if strings.TrimRight(line, "\r") == delimiter {
			end := len(content) - len(remaining)
			return content[offset:end], next, true
		}
		if !hasNewline {
			return "", content, false
		}
		remaining = next
	}
}

// cutLine returns the first line of s without its newline and the text
// after it. found reports whether a newline was present.
func cutLine(s string) (line, rest string, found bool) {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

// ParseFrontmatter parses the leading frontmatter block of content. It
// returns the block, the body after it and whether a block was found.
// Content without a block yields an empty Frontmatter and the whole
// content as body.
func ParseFrontmatter(content string) (*Frontmatter, string, bool) {
	block, rest, ok := SplitFrontmatter(content)
	if !ok {
		return NewFrontmatter(), content, false
	}
	return parseBlock(block), rest, true
}

func parseBlock(block string) *Frontmatter {
	fm := NewFrontmatter()
	for _, line := range strings.Split(block, "\n") {
		if key, value, ok := entry(line); ok {
			fm.Set(key, unquoteValue(value))
		}
	}
	return fm
}

// entry splits a "key: value" line. Blank lines, comments and lines
// without a key report false.
func entry(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, ":")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// RewriteFrontmatter applies updates to the frontmatter of content and
// returns the new content. Only the lines of updated keys change; other
// lines of the block, including comments, and the body after it are kept
// byte for byte. New keys go at the end of the block. Content without a
// block gets one prepended.
func RewriteFrontmatter(content string, updates map[string]string, order ...string) string {
	block, rest, ok := SplitFrontmatter(content)
	if !ok {
		fm := NewFrontmatter()
		for _, k := range orderedKeys(updates, order) {
			fm.Set(k, updates[k])
		}
		return fm.String() + content
	}

	head := content[:strings.IndexByte(content, '\n')+1]
	closing := content[len(head)+len(block) : len(content)-len(rest)]
	eol := "\n"
	if strings.HasSuffix(head, "\r\n") {
		eol = "\r\n"
	}

	var b strings.Builder
	b.WriteString(head)
	done := make(map[string]bool, len(updates))
	for _, line := range strings.SplitAfter(block, "\n") {
		if key, _, ok := entry(line); ok {
			if v, update := updates[key]; update {
				line = key + ": " + quoteValue(v) + lineEnding(line)
				done[key] = true
			}
		}
		b.WriteString(line)
	}
	for _, k := range orderedKeys(updates, order) {
		if !done[k] {
			b.WriteString(k + ": " + quoteValue(updates[k]) + eol)
		}
	}
	b.WriteString(closing)
	b.WriteString(rest)
	return b.String()
}

func lineEnding(line string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	}
	return ""
}

// orderedKeys returns the keys of updates, those named in order first.
func orderedKeys(updates map[string]string, order []string) []string {
	keys := make([]string, 0, len(updates))
	seen := make(map[string]bool, len(updates))
	for _, k := range order {
		if _, ok := updates[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range updates {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}
