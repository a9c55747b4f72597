// Package phlag provides client interfaces and domain types for the phlagd
// feature flag service.
//
// Use the sub-package to create a transport-specific client:
//
//	import phlaghttp "github.com/phlag/phlagd/clients/go/http"
package phlag

import (
	"context"
	"time"
)

// FlagManager covers CRUD operations on feature flags.
type FlagManager interface {
	CreateFlag(ctx context.Context, flag Flag) (Flag, error)
	GetFlag(ctx context.Context, name string) (Flag, error)
	ListFlags(ctx context.Context) ([]Flag, error)
	UpdateFlag(ctx context.Context, name, description string) (Flag, error)
	DeleteFlag(ctx context.Context, name string) error
}

// EnvironmentManager covers CRUD operations on environments and the
// per-environment values of flags.
type EnvironmentManager interface {
	CreateEnvironment(ctx context.Context, env Environment) (Environment, error)
	ListEnvironments(ctx context.Context) ([]Environment, error)
	UpdateEnvironment(ctx context.Context, env Environment) (Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error

	UpsertValue(ctx context.Context, flagName, environment string, value ValueUpdate) (EnvironmentValue, error)
	DeleteValue(ctx context.Context, flagName, environment string) error
}

// Resolver covers flag resolution in one environment.
type Resolver interface {
	Resolve(ctx context.Context, environment, flagName string) (any, error)
	ResolveAll(ctx context.Context, environment string) (map[string]any, error)
	ResolveDetailed(ctx context.Context, environment string) ([]FlagState, error)
}

// WebhookManager covers CRUD operations on webhooks plus test deliveries.
type WebhookManager interface {
	CreateWebhook(ctx context.Context, hook Webhook) (Webhook, error)
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	UpdateWebhook(ctx context.Context, hook Webhook) (Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	TestWebhook(ctx context.Context, id, flagName string) (TestResult, error)
}

// Flag is a named, typed configuration unit. Type is one of BOOLEAN, INTEGER,
// FLOAT, STRING, or SWITCH.
type Flag struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Environment is a named deployment context with independent flag values.
type Environment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValueUpdate is the payload for setting a flag's value in an environment.
// A nil Value disables the flag there; the window bounds are optional and
// inclusive on both ends.
type ValueUpdate struct {
	Value         *string    `json:"value"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
}

// EnvironmentValue is the stored value of one flag in one environment.
type EnvironmentValue struct {
	ID            string     `json:"id"`
	FlagID        string     `json:"flag_id"`
	EnvironmentID string     `json:"environment_id"`
	Value         *string    `json:"value"`
	StartDatetime *time.Time `json:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// FlagState is one entry of a detailed environment listing: the flag together
// with its typed value and activation window in that environment.
type FlagState struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Value         any     `json:"value"`
	StartDatetime *string `json:"start_datetime"`
	EndDatetime   *string `json:"end_datetime"`
}

// Webhook is an HTTP endpoint notified on flag mutations.
type Webhook struct {
	ID                        string            `json:"id"`
	Name                      string            `json:"name"`
	URL                       string            `json:"url"`
	IsActive                  bool              `json:"is_active"`
	Headers                   map[string]string `json:"headers,omitempty"`
	PayloadTemplate           string            `json:"payload_template,omitempty"`
	EventTypes                []string          `json:"event_types"`
	IncludeEnvironmentChanges bool              `json:"include_environment_changes,omitempty"`
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
}

// TestResult is the outcome of a test delivery to a webhook.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
}
