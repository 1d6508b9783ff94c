package scriptlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Scriptline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Script represents the API script model.
type Script struct {
	ID               string   `json:"_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Script           []string `json:"script"`
	Default          bool     `json:"default"`
	Language         string   `json:"language,omitempty"`
	Context          string   `json:"context,omitempty"`
	CreatedBy        string   `json:"createdBy,omitempty"`
	CreationDate     int64    `json:"creationDate,omitempty"`
	LastModifiedBy   string   `json:"lastModifiedBy,omitempty"`
	LastModifiedDate int64    `json:"lastModifiedDate,omitempty"`
}

// ExportMeta is the provenance block of an export document.
type ExportMeta struct {
	Origin            string `json:"origin,omitempty"`
	OriginAmVersion   string `json:"originAmVersion,omitempty"`
	ExportedBy        string `json:"exportedBy,omitempty"`
	ExportDate        string `json:"exportDate,omitempty"`
	ExportTool        string `json:"exportTool,omitempty"`
	ExportToolVersion string `json:"exportToolVersion,omitempty"`
}

// ScriptExport is an export document keyed by script id.
type ScriptExport struct {
	Meta     ExportMeta        `json:"meta"`
	Entities map[string]Script `json:"entities"`
}

// ImportResult is returned by ImportScripts.
type ImportResult struct {
	Imported bool `json:"imported"`
	Count    int  `json:"count"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given status and code.
// An empty code matches any code.
func IsCode(err error, status int, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == status && (code == "" || apiErr.Code == code)
}

// ListScripts returns every script.
func (c *Client) ListScripts(ctx context.Context) ([]Script, error) {
	return c.listScripts(ctx, "scripts")
}

// QueryScriptsByName returns all scripts with the exact name.
func (c *Client) QueryScriptsByName(ctx context.Context, name string) ([]Script, error) {
	return c.listScripts(ctx, "scripts?name="+url.QueryEscape(name))
}

func (c *Client) listScripts(ctx context.Context, endpoint string) ([]Script, error) {
	var resp struct {
		Items []Script `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath(endpoint), nil, &resp)
	return resp.Items, err
}

// GetScript fetches a script by id.
func (c *Client) GetScript(ctx context.Context, id string) (Script, error) {
	var resp Script
	err := c.do(ctx, http.MethodGet, c.apiPath("scripts/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// PutScript creates or replaces the script under id.
func (c *Client) PutScript(ctx context.Context, id string, s Script) (Script, error) {
	var resp Script
	err := c.do(ctx, http.MethodPut, c.apiPath("scripts/"+url.PathEscape(id)), s, &resp)
	return resp, err
}

// DeleteScript deletes a script by id.
func (c *Client) DeleteScript(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("scripts/"+url.PathEscape(id)), nil, nil)
}

// ExportScript exports a single script by id.
func (c *Client) ExportScript(ctx context.Context, id string) (ScriptExport, error) {
	var resp ScriptExport
	err := c.do(ctx, http.MethodGet, c.apiPath("scripts/"+url.PathEscape(id)+"/export"), nil, &resp)
	return resp, err
}

// ExportScripts exports all scripts, or only the one named name when set.
func (c *Client) ExportScripts(ctx context.Context, name string) (ScriptExport, error) {
	endpoint := "export"
	if name != "" {
		endpoint += "?name=" + url.QueryEscape(name)
	}
	var resp ScriptExport
	err := c.do(ctx, http.MethodGet, c.apiPath(endpoint), nil, &resp)
	return resp, err
}

// ImportScripts submits doc for import, restricted to name when set.
func (c *Client) ImportScripts(ctx context.Context, name string, doc ScriptExport) (ImportResult, error) {
	endpoint := "import"
	if name != "" {
		endpoint += "?name=" + url.QueryEscape(name)
	}
	if doc.Entities == nil {
		doc.Entities = map[string]Script{}
	}
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, c.apiPath(endpoint), doc, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
