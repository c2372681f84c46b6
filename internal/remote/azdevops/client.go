// Package azdevops implements the remote work-item store against the
// Azure DevOps REST API.
package azdevops

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/remote"
	"golang.org/x/oauth2"
)

const apiVersion = "7.0"

// Config holds connection settings for an Azure DevOps organization.
// Exactly one of PAT or TokenSource should be set; with neither, the
// client constructs in a disabled state.
type Config struct {
	OrgURL      string // e.g. https://dev.azure.com/myorg
	Project     string
	AreaPath    string
	PAT         string
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
}

// Client talks to the Azure DevOps work item tracking API.
type Client struct {
	cfg      Config
	client   *resty.Client
	disabled bool
}

// New builds a Client from config. Without a PAT or token source the
// client reports itself disabled and every call fails with
// remote.ErrDisabled instead of attempting network I/O.
func New(cfg Config) *Client {
	c := &Client{cfg: cfg}
	if cfg.PAT == "" && cfg.TokenSource == nil {
		c.disabled = true
		return c
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.client = resty.New().
		SetTimeout(timeout).
		SetBaseURL(strings.TrimRight(cfg.OrgURL, "/"))

	if cfg.PAT != "" {
		// AZDO PATs authenticate as basic auth with an empty username.
		c.client.SetBasicAuth("", cfg.PAT)
	} else {
		c.client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			tok, err := cfg.TokenSource.Token()
			if err != nil {
				return fmt.Errorf("azdevops: fetch token: %w", err)
			}
			req.SetAuthToken(tok.AccessToken)
			return nil
		})
	}
	return c
}

// Disabled reports whether the client was constructed without credentials.
func (c *Client) Disabled() bool { return c.disabled }

// patchOp is one entry in an Azure DevOps JSON-patch document.
type patchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// workItemResponse is the subset of the AZDO work item body we read.
type workItemResponse struct {
	ID     int                    `json:"id"`
	URL    string                 `json:"url"`
	Fields map[string]interface{} `json:"fields"`
}

// Create creates a work item of the given type and returns its remote
// identity. A 2xx response without an ID yields remote.ErrMissingID.
func (c *Client) Create(ctx context.Context, t backlog.WorkItemType, f remote.Fields) (*remote.Item, error) {
	if c.disabled {
		return nil, remote.ErrDisabled
	}

	doc := []patchOp{{Op: "add", Path: "/fields/System.Title", Value: f.Title}}
	if f.Description != "" {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/System.Description", Value: f.Description})
	}
	if f.Acceptance != "" {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/Microsoft.VSTS.Common.AcceptanceCriteria", Value: f.Acceptance})
	}
	if f.Priority > 0 {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/Microsoft.VSTS.Common.Priority", Value: f.Priority})
	}
	if f.AreaPath != "" {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/System.AreaPath", Value: f.AreaPath})
	}
	if f.Estimate > 0 {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/Microsoft.VSTS.Scheduling.OriginalEstimate", Value: f.Estimate})
	}
	if len(f.Steps) > 0 {
		doc = append(doc, patchOp{Op: "add", Path: "/fields/Microsoft.VSTS.TCM.Steps", Value: formatSteps(f.Steps, f.Expected)})
	}

	path := fmt.Sprintf("/%s/_apis/wit/workitems/$%s", url.PathEscape(c.cfg.Project), url.PathEscape(string(t)))
	var body workItemResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json-patch+json").
		SetQueryParam("api-version", apiVersion).
		SetBody(doc).
		SetResult(&body).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("azdevops: create %s %q: %w", t, f.Title, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("azdevops: create %s %q: %s", t, f.Title, resp.Status())
	}
	if body.ID == 0 {
		return nil, remote.ErrMissingID
	}

	item := &remote.Item{ID: body.ID, Title: f.Title, URL: body.URL}
	if state, ok := body.Fields["System.State"].(string); ok {
		item.State = state
	}
	return item, nil
}

// LinkParent adds a parent relation to an existing work item. Best
// effort: a failure here leaves the child created but unlinked, and the
// caller decides whether that matters.
func (c *Client) LinkParent(ctx context.Context, childID, parentID int) error {
	if c.disabled {
		return remote.ErrDisabled
	}

	parentURL := fmt.Sprintf("%s/_apis/wit/workItems/%d", strings.TrimRight(c.cfg.OrgURL, "/"), parentID)
	doc := []patchOp{{
		Op:   "add",
		Path: "/relations/-",
		Value: map[string]interface{}{
			"rel": "System.LinkTypes.Hierarchy-Reverse",
			"url": parentURL,
		},
	}}

	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(c.cfg.Project), childID)
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json-patch+json").
		SetQueryParam("api-version", apiVersion).
		SetBody(doc).
		Patch(path)
	if err != nil {
		return fmt.Errorf("azdevops: link %d → parent %d: %w", childID, parentID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("azdevops: link %d → parent %d: %s", childID, parentID, resp.Status())
	}
	return nil
}

// Delete removes a work item.
func (c *Client) Delete(ctx context.Context, id int) error {
	if c.disabled {
		return remote.ErrDisabled
	}

	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(c.cfg.Project), id)
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("api-version", apiVersion).
		Delete(path)
	if err != nil {
		return fmt.Errorf("azdevops: delete %d: %w", id, err)
	}
	if resp.IsError() {
		return fmt.Errorf("azdevops: delete %d: %s", id, resp.Status())
	}
	return nil
}

// wiqlResponse is the shape of a WIQL query result.
type wiqlResponse struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

// QueryByTypeAndArea returns the IDs of existing work items of one type
// under an area path. Available for reconciliation after a
// timed-out-but-possibly-succeeded create.
func (c *Client) QueryByTypeAndArea(ctx context.Context, t backlog.WorkItemType, areaPath string) ([]int, error) {
	if c.disabled {
		return nil, remote.ErrDisabled
	}

	wiql := fmt.Sprintf(
		"SELECT [System.Id] FROM WorkItems WHERE [System.WorkItemType] = '%s' AND [System.AreaPath] UNDER '%s'",
		string(t), strings.ReplaceAll(areaPath, "'", "''"))

	path := fmt.Sprintf("/%s/_apis/wit/wiql", url.PathEscape(c.cfg.Project))
	var body wiqlResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("api-version", apiVersion).
		SetBody(map[string]string{"query": wiql}).
		SetResult(&body).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("azdevops: query %s under %q: %w", t, areaPath, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("azdevops: query %s under %q: %s", t, areaPath, resp.Status())
	}

	ids := make([]int, 0, len(body.WorkItems))
	for _, wi := range body.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// formatSteps renders test steps as a plain numbered list. Full TCM step
// XML is out of scope; AZDO accepts plain text here.
func formatSteps(steps []string, expected string) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	if expected != "" {
		fmt.Fprintf(&b, "Expected: %s\n", expected)
	}
	return b.String()
}
