package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Block is one child block of a page. Only the fields used for markdown
// flattening are decoded.
type Block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	// Content holds the type-specific payload, e.g. the "paragraph" object
	// for a paragraph block.
	Content blockContent `json:"-"`

	// Children are the nested blocks, fetched when HasChildren is set.
	Children []Block `json:"-"`
}

// maxBlockDepth bounds how deep nested children are fetched.
const maxBlockDepth = 3

// nestable lists the block types whose children are rendered.
var nestable = map[string]bool{
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"to_do":              true,
	"toggle":             true,
	"quote":              true,
	"callout":            true,
}

type blockContent struct {
	RichText []richText `json:"rich_text"`
	Checked  bool       `json:"checked"`
	Language string     `json:"language"`
	Icon     *struct {
		Type  string `json:"type"`
		Emoji string `json:"emoji"`
	} `json:"icon"`
}

// UnmarshalJSON decodes the type-specific payload into Content.
func (b *Block) UnmarshalJSON(data []byte) error {
	type plain Block
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	if payload, ok := raw[b.Type]; ok {
		// Payloads of unsupported block types may not be objects.
		_ = json.Unmarshal(payload, &b.Content)
	}
	return nil
}

type blocksResponse struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// GetPageBlocks fetches every child block of a page, following pagination
// and nested children of list items, toggles, quotes and callouts, and
// returns them flattened to markdown.
func (c *Client) GetPageBlocks(ctx context.Context, pageID string) (string, error) {
	blocks, err := c.blockTree(ctx, pageID, 0)
	if err != nil {
		return "", err
	}
	return BlocksToMarkdown(blocks), nil
}

func (c *Client) blockTree(ctx context.Context, blockID string, depth int) ([]Block, error) {
	blocks, err := c.listBlocks(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if depth+1 >= maxBlockDepth {
		return blocks, nil
	}
	for i := range blocks {
		b := &blocks[i]
		if !b.HasChildren || !nestable[b.Type] {
			continue
		}
		if b.Children, err = c.blockTree(ctx, b.ID, depth+1); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func (c *Client) listBlocks(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", fmt.Sprint(pageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}

		var resp blocksResponse
		endpoint := "/blocks/" + blockID + "/children?" + q.Encode()
		if err := c.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetching blocks of %s: %w", blockID, err)
		}
		blocks = append(blocks, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			return blocks, nil
		}
		cursor = resp.NextCursor
	}
}

// BlocksToMarkdown flattens blocks to markdown. Unsupported block types
// are dropped. Children of list items are indented under them; children of
// toggles, quotes and callouts are placed inside them.
func BlocksToMarkdown(blocks []Block) string {
	var lines []string
	numbered := 0
	for _, b := range blocks {
		if b.Type != "numbered_list_item" {
			numbered = 0
		}
		text := renderRichText(b.Content.RichText)

		switch b.Type {
		case "paragraph":
			lines = append(lines, text)
		case "heading_1":
			lines = append(lines, "# "+text)
		case "heading_2":
			lines = append(lines, "## "+text)
		case "heading_3":
			lines = append(lines, "### "+text)
		case "bulleted_list_item":
			lines = append(lines, "- "+text+nested(b.Children))
		case "numbered_list_item":
			numbered++
			lines = append(lines, fmt.Sprintf("%d. %s", numbered, text)+nested(b.Children))
		case "to_do":
			box := "[ ]"
			if b.Content.Checked {
				box = "[x]"
			}
			lines = append(lines, "- "+box+" "+text+nested(b.Children))
		case "code":
			lines = append(lines, "```"+b.Content.Language+"\n"+plainText(b.Content.RichText)+"\n```")
		case "quote":
			lines = append(lines, quoted(text, b.Children))
		case "divider":
			lines = append(lines, "---")
		case "callout":
			icon := ""
			if b.Content.Icon != nil && b.Content.Icon.Emoji != "" {
				icon = b.Content.Icon.Emoji + " "
			}
			lines = append(lines, quoted(icon+text, b.Children))
		case "toggle":
			body := BlocksToMarkdown(b.Children)
			if body == "" {
				lines = append(lines, "<details><summary>"+text+"</summary></details>")
			} else {
				lines = append(lines, "<details><summary>"+text+"</summary>\n\n"+body+"\n\n</details>")
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n\n"))
}

// nested renders children as an indented block under a list item.
func nested(children []Block) string {
	body := BlocksToMarkdown(children)
	if body == "" {
		return ""
	}
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return "\n" + strings.Join(lines, "\n")
}

// quoted renders text and children as one blockquote.
func quoted(text string, children []Block) string {
	if body := BlocksToMarkdown(children); body != "" {
		text += "\n\n" + body
	}
	return "> " + strings.ReplaceAll(text, "\n", "\n> ")
}

func renderRichText(runs []richText) string {
	var b strings.Builder
	for _, r := range runs {
		t := r.PlainText
		if t == "" {
			continue
		}
		a := r.Annotations
		switch {
		case a.Code:
			t = "`" + t + "`"
		default:
			if a.Bold {
				t = "**" + t + "**"
			}
			if a.Italic {
				t = "*" + t + "*"
			}
			if a.Strikethrough {
				t = "~~" + t + "~~"
			}
		}
		if r.Href != "" {
			t = "[" + t + "](" + r.Href + ")"
		}
		b.WriteString(t)
	}
	return b.String()
}
