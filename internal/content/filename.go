package content

import (
	"regexp"
	"strings"
	"time"
)

const maxTitleSlug = 40

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every run of other characters into one
// underscore.
func Slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// GenerateFilename returns {YYYYMMDD}_{phase}_{title}.md with the title slug
// cut to 40 characters.
func GenerateFilename(date time.Time, phase, title string) string {
	phaseSlug := Slug(phase)
	if phaseSlug == "" {
		phaseSlug = Slug(BacklogPhase)
	}
	titleSlug := Slug(title)
	if len(titleSlug) > maxTitleSlug {
		titleSlug = strings.TrimRight(titleSlug[:maxTitleSlug], "_")
	}
	if titleSlug == "" {
		titleSlug = "untitled"
	}
	return date.Format("20060102") + "_" + phaseSlug + "_" + titleSlug + ".md"
}
