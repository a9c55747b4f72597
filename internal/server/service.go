package server

import (
	"context"
	"time"

	"github.com/phlag/phlagd/internal/core"
	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/service"
	"github.com/phlag/phlagd/internal/webhook"
)

// Service is the application surface the HTTP handlers depend on.
type Service interface {
	CreateFlag(ctx context.Context, flag repository.Flag) (repository.Flag, error)
	UpdateFlag(ctx context.Context, name, description string) (repository.Flag, error)
	GetFlag(ctx context.Context, name string) (repository.Flag, error)
	ListFlags(ctx context.Context) ([]repository.Flag, error)
	DeleteFlag(ctx context.Context, name string) error

	CreateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error)
	UpdateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error)
	ListEnvironments(ctx context.Context) ([]repository.Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error

	UpsertEnvironmentValue(ctx context.Context, flagName, envName string, value *string, start, end *time.Time) (repository.EnvironmentValue, error)
	DeleteEnvironmentValue(ctx context.Context, flagName, envName string) error

	ResolveValue(ctx context.Context, envName, flagName string) (core.Value, error)
	ResolveAll(ctx context.Context, envName string) (map[string]core.Value, error)
	ResolveDetailed(ctx context.Context, envName string) ([]service.FlagState, error)

	CreateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error)
	UpdateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error)
	GetWebhook(ctx context.Context, id string) (repository.Webhook, error)
	ListWebhooks(ctx context.Context) ([]repository.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	TestWebhook(ctx context.Context, webhookID, flagName string) (webhook.TestResult, error)
}

var _ Service = (*service.Service)(nil)
