package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/retry"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
	pageSize       = 100
	defaultTimeout = 30 * time.Second
)

// Client talks to the Notion API. It is safe for concurrent use.
type Client struct {
	token      string
	databaseID string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (used by tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the retry policy used for every request.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the given integration token and ideas
// database. It returns ErrNoCredential when token is empty.
func NewClient(token, databaseID string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoCredential
	}
	c := &Client{
		token:      token,
		databaseID: databaseID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		policy:     retry.DefaultPolicy(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("retrying notion request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return c, nil
}

// DatabaseID returns the configured ideas database.
func (c *Client) DatabaseID() string { return c.databaseID }

// request performs one API call under the retry policy. body may be nil;
// out may be nil when the response body is not needed.
func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	return retry.Execute(ctx, c.policy, func(ctx context.Context) error {
		return c.do(ctx, method, endpoint, payload, out)
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response, data []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			apiErr.After = time.Duration(secs * float64(time.Second))
		} else if at, err := http.ParseTime(ra); err == nil {
			apiErr.After = time.Until(at)
		}
	}
	return apiErr
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryDatabase returns the items matching (Status = f.Status OR status is
// empty when f.IncludeEmpty) AND Project = f.Project when set.
func (c *Client) QueryDatabase(ctx context.Context, f Filter) ([]Item, error) {
	if c.databaseID == "" {
		return nil, ErrNoDatabase
	}

	var items []Item
	cursor := ""
	for {
		body := map[string]any{
			"filter":    buildFilter(f),
			"page_size": pageSize,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp queryResponse
		if err := c.request(ctx, http.MethodPost, "/databases/"+c.databaseID+"/query", body, &resp); err != nil {
			return nil, fmt.Errorf("querying database: %w", err)
		}
		for _, p := range resp.Results {
			items = append(items, p.toItem())
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	c.logger.Debug("queried notion database",
		zap.String("status", f.Status),
		zap.String("project", f.Project),
		zap.Int("items", len(items)))
	return items, nil
}

func buildFilter(f Filter) map[string]any {
	status := f.Status
	if status == "" {
		status = StatusNotStarted
	}

	statusFilter := map[string]any{
		"property": PropStatus,
		"select":   map[string]any{"equals": status},
	}
	if f.IncludeEmpty {
		statusFilter = map[string]any{
			"or": []any{
				statusFilter,
				map[string]any{
					"property": PropStatus,
					"select":   map[string]any{"is_empty": true},
				},
			},
		}
	}

	if f.Project == "" {
		return statusFilter
	}
	return map[string]any{
		"and": []any{
			statusFilter,
			map[string]any{
				"property": PropProject,
				"select":   map[string]any{"equals": f.Project},
			},
		},
	}
}

// UpdatePage applies a partial property patch to a page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props Properties) error {
	body := map[string]any{"properties": props}
	if err := c.request(ctx, http.MethodPatch, "/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("updating page %s: %w", pageID, err)
	}
	return nil
}

type databaseResponse struct {
	Properties map[string]struct {
		Type   string `json:"type"`
		Select *struct {
			Options []SelectOption `json:"options"`
		} `json:"select"`
		MultiSelect *struct {
			Options []SelectOption `json:"options"`
		} `json:"multi_select"`
	} `json:"properties"`
}

// SyncSelectOptions makes sure every value is an option of the select
// property on the database. Existing options keep their order, ids and
// colours; only genuinely new names are appended. Names starting with "__"
// are reserved and never added. It returns the names that were added.
func (c *Client) SyncSelectOptions(ctx context.Context, databaseID, prop string, values []string) ([]string, error) {
	if databaseID == "" {
		databaseID = c.databaseID
	}
	if databaseID == "" {
		return nil, ErrNoDatabase
	}

	var db databaseResponse
	if err := c.request(ctx, http.MethodGet, "/databases/"+databaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("reading database %s: %w", databaseID, err)
	}

	schema, ok := db.Properties[prop]
	if !ok {
		return nil, fmt.Errorf("database %s has no property %q", databaseID, prop)
	}

	kind := schema.Type
	var existing []SelectOption
	switch {
	case kind == "select" && schema.Select != nil:
		existing = schema.Select.Options
	case kind == "multi_select" && schema.MultiSelect != nil:
		existing = schema.MultiSelect.Options
	case kind == "select" || kind == "multi_select":
	default:
		return nil, fmt.Errorf("property %q is %s, not a select", prop, kind)
	}

	merged, added := mergeOptions(existing, values)
	if len(added) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"properties": map[string]any{
			prop: map[string]any{
				kind: map[string]any{"options": merged},
			},
		},
	}
	if err := c.request(ctx, http.MethodPatch, "/databases/"+databaseID, body, nil); err != nil {
		return nil, fmt.Errorf("updating options of %q: %w", prop, err)
	}

	c.logger.Info("added select options",
		zap.String("property", prop),
		zap.Strings("options", added))
	return added, nil
}

// mergeOptions appends the new, non-reserved values to existing.
func mergeOptions(existing []SelectOption, values []string) ([]SelectOption, []string) {
	seen := make(map[string]bool, len(existing))
	for _, o := range existing {
		seen[strings.ToLower(o.Name)] = true
	}

	merged := append([]SelectOption(nil), existing...)
	var added []string
	for _, v := range values {
		name := strings.TrimSpace(v)
		if name == "" || strings.HasPrefix(name, "__") {
			continue
		}
		// Notion forbids commas in option names.
		name = strings.ReplaceAll(name, ",", " ")
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, SelectOption{Name: name})
		added = append(added, name)
	}
	return merged, added
}
