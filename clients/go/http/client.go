// Package http provides an HTTP client for the phlagd feature flag service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	phlag "github.com/phlag/phlagd/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the phlagd server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format. Required for the
	// management API; resolution endpoints work without it.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements phlag.FlagManager, phlag.EnvironmentManager,
// phlag.Resolver, and phlag.WebhookManager over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the phlagd service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
// Message carries the server's "error" field when the body is a JSON error
// object, or the raw body otherwise.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phlag: HTTP %d: %s", e.StatusCode, e.Message)
}

// -- wire types --------------------------------------------------------------

type wireWebhookRequest struct {
	Name                      string            `json:"name"`
	URL                       string            `json:"url"`
	IsActive                  *bool             `json:"is_active,omitempty"`
	Headers                   map[string]string `json:"headers,omitempty"`
	PayloadTemplate           string            `json:"payload_template,omitempty"`
	EventTypes                []string          `json:"event_types"`
	IncludeEnvironmentChanges bool              `json:"include_environment_changes,omitempty"`
}

func webhookRequestFromHook(hook phlag.Webhook) wireWebhookRequest {
	isActive := hook.IsActive
	return wireWebhookRequest{
		Name:                      hook.Name,
		URL:                       hook.URL,
		IsActive:                  &isActive,
		Headers:                   hook.Headers,
		PayloadTemplate:           hook.PayloadTemplate,
		EventTypes:                hook.EventTypes,
		IncludeEnvironmentChanges: hook.IncludeEnvironmentChanges,
	}
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("phlag: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("phlag: create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phlag: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		message := strings.TrimSpace(string(raw))
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	return resp, nil
}

func decodeInto[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("phlag: decode response: %w", err)
	}
	return out, nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// -- FlagManager -------------------------------------------------------------

func (c *Client) CreateFlag(ctx context.Context, flag phlag.Flag) (phlag.Flag, error) {
	body := map[string]string{"name": flag.Name, "type": flag.Type}
	if flag.Description != "" {
		body["description"] = flag.Description
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/flags", body)
	if err != nil {
		return phlag.Flag{}, err
	}
	return decodeInto[phlag.Flag](resp)
}

func (c *Client) GetFlag(ctx context.Context, name string) (phlag.Flag, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/flags/"+url.PathEscape(name), nil)
	if err != nil {
		return phlag.Flag{}, err
	}
	return decodeInto[phlag.Flag](resp)
}

func (c *Client) ListFlags(ctx context.Context) ([]phlag.Flag, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/flags", nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]phlag.Flag](resp)
}

func (c *Client) UpdateFlag(ctx context.Context, name, description string) (phlag.Flag, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/flags/"+url.PathEscape(name),
		map[string]string{"description": description})
	if err != nil {
		return phlag.Flag{}, err
	}
	return decodeInto[phlag.Flag](resp)
}

func (c *Client) DeleteFlag(ctx context.Context, name string) error {
	return c.delete(ctx, "/v1/flags/"+url.PathEscape(name))
}

// -- EnvironmentManager ------------------------------------------------------

func (c *Client) CreateEnvironment(ctx context.Context, env phlag.Environment) (phlag.Environment, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/environments",
		map[string]any{"name": env.Name, "sort_order": env.SortOrder})
	if err != nil {
		return phlag.Environment{}, err
	}
	return decodeInto[phlag.Environment](resp)
}

func (c *Client) ListEnvironments(ctx context.Context) ([]phlag.Environment, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/environments", nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]phlag.Environment](resp)
}

func (c *Client) UpdateEnvironment(ctx context.Context, env phlag.Environment) (phlag.Environment, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/environments/"+url.PathEscape(env.ID),
		map[string]any{"name": env.Name, "sort_order": env.SortOrder})
	if err != nil {
		return phlag.Environment{}, err
	}
	return decodeInto[phlag.Environment](resp)
}

func (c *Client) DeleteEnvironment(ctx context.Context, id string) error {
	return c.delete(ctx, "/v1/environments/"+url.PathEscape(id))
}

func (c *Client) UpsertValue(ctx context.Context, flagName, environment string, value phlag.ValueUpdate) (phlag.EnvironmentValue, error) {
	path := "/v1/flags/" + url.PathEscape(flagName) + "/values/" + url.PathEscape(environment)
	resp, err := c.do(ctx, http.MethodPut, path, value)
	if err != nil {
		return phlag.EnvironmentValue{}, err
	}
	return decodeInto[phlag.EnvironmentValue](resp)
}

func (c *Client) DeleteValue(ctx context.Context, flagName, environment string) error {
	return c.delete(ctx, "/v1/flags/"+url.PathEscape(flagName)+"/values/"+url.PathEscape(environment))
}

// -- Resolver ----------------------------------------------------------------

// Resolve returns the typed value of one flag in one environment. The result
// is nil, a bool, a float64, or a string, mirroring the JSON scalar the
// server emits. Unknown flags resolve to nil rather than an error.
func (c *Client) Resolve(ctx context.Context, environment, flagName string) (any, error) {
	path := "/flag/" + url.PathEscape(environment) + "/" + url.PathEscape(flagName)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[any](resp)
}

func (c *Client) ResolveAll(ctx context.Context, environment string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/all-flags/"+url.PathEscape(environment), nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[map[string]any](resp)
}

func (c *Client) ResolveDetailed(ctx context.Context, environment string) ([]phlag.FlagState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/get-flags/"+url.PathEscape(environment), nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]phlag.FlagState](resp)
}

// -- WebhookManager ----------------------------------------------------------

func (c *Client) CreateWebhook(ctx context.Context, hook phlag.Webhook) (phlag.Webhook, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/webhooks", webhookRequestFromHook(hook))
	if err != nil {
		return phlag.Webhook{}, err
	}
	return decodeInto[phlag.Webhook](resp)
}

func (c *Client) GetWebhook(ctx context.Context, id string) (phlag.Webhook, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/webhooks/"+url.PathEscape(id), nil)
	if err != nil {
		return phlag.Webhook{}, err
	}
	return decodeInto[phlag.Webhook](resp)
}

func (c *Client) ListWebhooks(ctx context.Context) ([]phlag.Webhook, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/webhooks", nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[[]phlag.Webhook](resp)
}

func (c *Client) UpdateWebhook(ctx context.Context, hook phlag.Webhook) (phlag.Webhook, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/webhooks/"+url.PathEscape(hook.ID), webhookRequestFromHook(hook))
	if err != nil {
		return phlag.Webhook{}, err
	}
	return decodeInto[phlag.Webhook](resp)
}

func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.delete(ctx, "/v1/webhooks/"+url.PathEscape(id))
}

func (c *Client) TestWebhook(ctx context.Context, id, flagName string) (phlag.TestResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/webhooks/"+url.PathEscape(id)+"/test",
		map[string]string{"flag": flagName})
	if err != nil {
		return phlag.TestResult{}, err
	}
	return decodeInto[phlag.TestResult](resp)
}

var (
	_ phlag.FlagManager        = (*Client)(nil)
	_ phlag.EnvironmentManager = (*Client)(nil)
	_ phlag.Resolver           = (*Client)(nil)
	_ phlag.WebhookManager     = (*Client)(nil)
)
