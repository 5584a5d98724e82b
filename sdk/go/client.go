package docfishsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal docfish HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// TeamID, when set, makes every write and per-scope read act for that team.
	TeamID string
}

// New creates a client for an API rooted at baseURL, e.g. http://127.0.0.1:8080/v1.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

type Scope struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type Collection struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	OwnerID      string   `json:"owner_id"`
	Private      bool     `json:"private"`
	Contributors []string `json:"contributors"`
}

type Target struct {
	ID       string `json:"id"`
	UID      string `json:"uid"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Source   string `json:"source"`
	Location string `json:"location"`
	Active   bool   `json:"active"`
}

// Assignment is the selector's answer. Current is nil when nothing is left.
type Assignment struct {
	Current   *Target `json:"current,omitempty"`
	Next      *Target `json:"next,omitempty"`
	Exhausted bool    `json:"exhausted"`
}

type Selection struct {
	Name            string `json:"name"`
	Label           string `json:"label"`
	CoordinatesJSON string `json:"coordinates_json,omitempty"`
}

type Annotation struct {
	ID              string `json:"id"`
	Scope           Scope  `json:"scope"`
	TargetID        string `json:"target_id"`
	Name            string `json:"name"`
	Label           string `json:"label"`
	CoordinatesJSON string `json:"coordinates_json,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

type Summary struct {
	Labels map[string]string `json:"labels"`
	Counts map[string]int    `json:"counts"`
}

type ImageMarkup struct {
	OverlayPath   string `json:"overlay_path,omitempty"`
	BasePath      string `json:"base_path,omitempty"`
	TransformJSON string `json:"transform_json,omitempty"`
}

type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type TextMarkup struct {
	Delimiter string `json:"delimiter,omitempty"`
	Text      string `json:"text,omitempty"`
	Spans     []Span `json:"spans"`
}

type Markup struct {
	ID        string       `json:"id"`
	Scope     Scope        `json:"scope"`
	TargetID  string       `json:"target_id"`
	Kind      string       `json:"kind"`
	Image     *ImageMarkup `json:"image,omitempty"`
	Text      *TextMarkup  `json:"text,omitempty"`
	UpdatedAt string       `json:"updated_at"`
}

type Description struct {
	ID        string `json:"id"`
	Scope     Scope  `json:"scope"`
	TargetID  string `json:"target_id"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// NextOptions narrows what Next hands out. Zero values select image annotation.
type NextOptions struct {
	Task string
	Kind string
	Skip string
	Pair bool
}

// ListCollections returns the collections the caller can see.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var resp struct {
		Items []Collection `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "collections", nil, &resp)
	return resp.Items, err
}

// Next asks for the next target the caller's scope has no record for.
func (c *Client) Next(ctx context.Context, collectionID string, opts NextOptions) (Assignment, error) {
	if opts.Task == "" {
		opts.Task = "annotation"
	}
	if opts.Kind == "" {
		opts.Kind = "image"
	}
	body := map[string]any{
		"task":    opts.Task,
		"kind":    opts.Kind,
		"skip":    opts.Skip,
		"pair":    opts.Pair,
		"team_id": c.TeamID,
	}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, c.collectionPath(collectionID, "next"), body, &resp)
	return resp, err
}

// Apply records labels for a target.
func (c *Client) Apply(ctx context.Context, collectionID, targetID string, sels ...Selection) ([]Annotation, error) {
	body := map[string]any{
		"team_id":    c.TeamID,
		"selections": sels,
	}
	var resp struct {
		Items []Annotation `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.targetPath(collectionID, targetID, "annotations"), body, &resp)
	return resp.Items, err
}

// Clear removes the caller's labels for a target.
func (c *Client) Clear(ctx context.Context, collectionID, targetID string) (bool, error) {
	var resp struct {
		Cleared bool `json:"cleared"`
	}
	err := c.do(ctx, http.MethodDelete, c.withTeam(c.targetPath(collectionID, targetID, "annotations")), nil, &resp)
	return resp.Cleared, err
}

// Summarize returns the caller's labels and per-name scope counts for a target.
func (c *Client) Summarize(ctx context.Context, collectionID, targetID string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, c.withTeam(c.targetPath(collectionID, targetID, "annotations")), nil, &resp)
	return resp, err
}

// PutMarkup saves image or text markup; set exactly one of image and text.
func (c *Client) PutMarkup(ctx context.Context, collectionID, targetID string, image *ImageMarkup, text *TextMarkup) (Markup, error) {
	body := map[string]any{"team_id": c.TeamID}
	if image != nil {
		body["image"] = image
	}
	if text != nil {
		body["text"] = text
	}
	var resp Markup
	err := c.do(ctx, http.MethodPut, c.targetPath(collectionID, targetID, "markup"), body, &resp)
	return resp, err
}

func (c *Client) GetMarkup(ctx context.Context, collectionID, targetID string) (Markup, error) {
	var resp Markup
	err := c.do(ctx, http.MethodGet, c.withTeam(c.targetPath(collectionID, targetID, "markup")), nil, &resp)
	return resp, err
}

func (c *Client) PutDescription(ctx context.Context, collectionID, targetID, text string) (Description, error) {
	body := map[string]any{"team_id": c.TeamID, "body": text}
	var resp Description
	err := c.do(ctx, http.MethodPut, c.targetPath(collectionID, targetID, "description"), body, &resp)
	return resp, err
}

func (c *Client) GetDescription(ctx context.Context, collectionID, targetID string) (Description, error) {
	var resp Description
	err := c.do(ctx, http.MethodGet, c.withTeam(c.targetPath(collectionID, targetID, "description")), nil, &resp)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) collectionPath(collectionID, p string) string {
	return fmt.Sprintf("collections/%s/%s", url.PathEscape(collectionID), strings.TrimLeft(p, "/"))
}

func (c *Client) targetPath(collectionID, targetID, p string) string {
	return c.collectionPath(collectionID, fmt.Sprintf("targets/%s/%s", url.PathEscape(targetID), p))
}

func (c *Client) withTeam(endpoint string) string {
	if c.TeamID == "" {
		return endpoint
	}
	return endpoint + "?team_id=" + url.QueryEscape(c.TeamID)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
