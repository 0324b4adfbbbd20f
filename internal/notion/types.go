// Package notion is a typed wrapper over the parts of the Notion REST API
// the sync engine consumes: filtered database queries, paginated block
// children, partial page patches and select-option management.
package notion

import (
	"strings"
	"time"
)

// Status values of the Status property.
const (
	StatusNotStarted = "Not Started"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
	StatusArchived   = "Archived"
	StatusDeferred   = "Deferred"
)

// Property names used on the ideas database.
const (
	PropTitle          = "Title"
	PropType           = "Type"
	PropAffectedModule = "Affected Module"
	PropSuggestedPhase = "Suggested Phase"
	PropStatus         = "Status"
	PropPriority       = "Priority"
	PropProject        = "Project"
	PropDescription    = "Description"
	PropCapturedDate   = "Captured Date"
	PropHydrated       = "Hydrated"
	PropAssignedPhase  = "Assigned Phase"
	PropEffort         = "Effort"
	PropFileLocation   = "File Location"
	PropNotes          = "Processing Notes"
	PropProcessedDate  = "Processed Date"
)

// Item is a work item in the remote database.
type Item struct {
	ID             string
	URL            string
	Title          string
	Type           string
	AffectedModule string
	SuggestedPhase string
	Status         string
	Priority       string
	Project        string
	Description    string
	CapturedDate   time.Time
	Hydrated       bool
}

// Filter selects items for QueryDatabase.
type Filter struct {
	// Status is the status to match. Defaults to StatusNotStarted.
	Status string

	// IncludeEmpty also matches items with no status set.
	IncludeEmpty bool

	// Project restricts results to one project slug when non-empty.
	Project string
}

// Properties is a partial property patch for UpdatePage.
type Properties map[string]any

// SelectOption is one option of a select property.
type SelectOption struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// SelectProp builds a select property value. An empty name clears it.
func SelectProp(name string) any {
	if name == "" {
		return map[string]any{"select": nil}
	}
	return map[string]any{"select": map[string]string{"name": name}}
}

// StatusProp builds a status value for the Status property, which is a
// select on the ideas database.
func StatusProp(status string) any {
	return SelectProp(status)
}

// TextProp builds a rich_text property value. Notion rejects text runs
// longer than 2000 characters, so longer values are truncated.
func TextProp(text string) any {
	if r := []rune(text); len(r) > 2000 {
		text = string(r[:2000])
	}
	return map[string]any{
		"rich_text": []map[string]any{
			{"type": "text", "text": map[string]string{"content": text}},
		},
	}
}

// DateProp builds a date property value (date only, no time).
func DateProp(t time.Time) any {
	return map[string]any{
		"date": map[string]string{"start": t.Format("2006-01-02")},
	}
}

// page is the subset of a Notion page object the client decodes.
type page struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Properties map[string]property `json:"properties"`
}

type property struct {
	Type     string     `json:"type"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
	Select   *struct {
		Name string `json:"name"`
	} `json:"select"`
	Status *struct {
		Name string `json:"name"`
	} `json:"status"`
	Date *struct {
		Start string `json:"start"`
	} `json:"date"`
	Checkbox bool `json:"checkbox"`
}

type richText struct {
	PlainText   string `json:"plain_text"`
	Href        string `json:"href"`
	Annotations struct {
		Bold          bool `json:"bold"`
		Italic        bool `json:"italic"`
		Strikethrough bool `json:"strikethrough"`
		Code          bool `json:"code"`
	} `json:"annotations"`
}

func (p property) text() string {
	switch p.Type {
	case "title":
		return plainText(p.Title)
	case "rich_text":
		return plainText(p.RichText)
	case "select":
		if p.Select != nil {
			return p.Select.Name
		}
	case "status":
		if p.Status != nil {
			return p.Status.Name
		}
	}
	return ""
}

func plainText(runs []richText) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.PlainText)
	}
	return b.String()
}

// toItem converts a decoded page into an Item.
func (p page) toItem() Item {
	item := Item{
		ID:             p.ID,
		URL:            p.URL,
		Title:          p.Properties[PropTitle].text(),
		Type:           p.Properties[PropType].text(),
		AffectedModule: p.Properties[PropAffectedModule].text(),
		SuggestedPhase: p.Properties[PropSuggestedPhase].text(),
		Status:         p.Properties[PropStatus].text(),
		Priority:       p.Properties[PropPriority].text(),
		Project:        strings.TrimSpace(p.Properties[PropProject].text()),
		Description:    p.Properties[PropDescription].text(),
		Hydrated:       p.Properties[PropHydrated].Checkbox,
	}
	if item.Title == "" {
		// Databases created from the template name the title column "Name".
		item.Title = p.Properties["Name"].text()
	}
	if d := p.Properties[PropCapturedDate].Date; d != nil && d.Start != "" {
		if t, err := time.Parse(time.RFC3339, d.Start); err == nil {
			item.CapturedDate = t
		} else if t, err := time.Parse("2006-01-02", d.Start); err == nil {
			item.CapturedDate = t
		}
	}
	return item
}
