// Package service implements the application logic between the HTTP
// handlers and the repository: flag, environment, and webhook management
// plus typed flag resolution. Mutations trigger webhook dispatch and audit
// logging as best-effort side effects that never fail the mutation itself.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/phlag/phlagd/internal/core"
	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/webhook"
)

const (
	notifyBudget = 10 * time.Second
	auditTimeout = 2 * time.Second
)

var (
	ErrFlagNotFound        = errors.New("flag not found")
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrValueNotFound       = errors.New("environment value not found")
	ErrWebhookNotFound     = errors.New("webhook not found")
	ErrInvalidFlagName     = errors.New("flag name must contain only letters, digits, underscores, and hyphens")
	ErrInvalidFlagType     = errors.New("flag type must be one of SWITCH, INTEGER, FLOAT, STRING")
	ErrEnvironmentRequired = errors.New("environment name is required")
)

var flagNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validFlagTypes = map[core.FlagType]bool{
	core.TypeSwitch:  true,
	core.TypeInteger: true,
	core.TypeFloat:   true,
	core.TypeString:  true,
}

// Repository is the persistence surface the service depends on.
type Repository interface {
	CreateFlag(ctx context.Context, flag repository.Flag) (repository.Flag, error)
	UpdateFlag(ctx context.Context, flag repository.Flag) (repository.Flag, error)
	GetFlag(ctx context.Context, name string) (repository.Flag, error)
	ListFlags(ctx context.Context) ([]repository.Flag, error)
	DeleteFlag(ctx context.Context, name string) error

	CreateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error)
	UpdateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error)
	GetEnvironment(ctx context.Context, id string) (repository.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (repository.Environment, error)
	ListEnvironments(ctx context.Context) ([]repository.Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error

	UpsertEnvironmentValue(ctx context.Context, value repository.EnvironmentValue) (repository.EnvironmentValue, error)
	GetEnvironmentValue(ctx context.Context, flagID, environmentID string) (repository.EnvironmentValue, error)
	ListEnvironmentValuesForFlag(ctx context.Context, flagID string) ([]repository.EnvironmentValue, error)
	ListEnvironmentValuesForEnvironment(ctx context.Context, environmentID string) ([]repository.EnvironmentValue, error)
	DeleteEnvironmentValue(ctx context.Context, flagID, environmentID string) error

	CreateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error)
	UpdateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error)
	GetWebhook(ctx context.Context, id string) (repository.Webhook, error)
	ListWebhooks(ctx context.Context) ([]repository.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
}

// Notifier delivers webhook notifications for flag and environment-value
// mutations. *webhook.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, flag repository.Flag, previous *webhook.FlagSnapshot)
	DispatchDeleted(ctx context.Context, snapshot webhook.FlagSnapshot)
	DispatchEnvironmentChange(ctx context.Context, eventType string, value repository.EnvironmentValue)
	DispatchTest(ctx context.Context, hook repository.Webhook, flag repository.Flag) webhook.TestResult
	Snapshot(ctx context.Context, flag repository.Flag) (webhook.FlagSnapshot, error)
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithNotifier wires the webhook dispatcher.
func WithNotifier(notifier Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithLogger sets the logger for side-effect failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNow overrides the evaluation clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEvaluationRecorder registers a callback invoked with the result kind
// of every flag evaluation (e.g. to increment a Prometheus counter).
func WithEvaluationRecorder(record func(kind string)) Option {
	return func(s *Service) { s.recordEvaluation = record }
}

type Service struct {
	repo             Repository
	notifier         Notifier
	log              *slog.Logger
	now              func() time.Time
	recordEvaluation func(kind string)
}

func New(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo: repo,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// CreateFlag validates and persists a new flag, then notifies webhooks of a
// created event.
func (s *Service) CreateFlag(ctx context.Context, flag repository.Flag) (repository.Flag, error) {
	if !flagNamePattern.MatchString(flag.Name) {
		return repository.Flag{}, ErrInvalidFlagName
	}
	if !validFlagTypes[core.FlagType(flag.Type)] {
		return repository.Flag{}, ErrInvalidFlagType
	}

	created, err := s.repo.CreateFlag(ctx, flag)
	if err != nil {
		return repository.Flag{}, fmt.Errorf("create flag: %w", err)
	}

	s.audit(ctx, "create", "flag", created.Name, created)
	s.notifyBestEffort(ctx, func(ctx context.Context, n Notifier) {
		n.Dispatch(ctx, webhook.EventCreated, created, nil)
	})

	return created, nil
}

// UpdateFlag changes a flag's description. Name and type are immutable
// after creation; webhooks receive the pre-mutation state as the previous
// snapshot.
func (s *Service) UpdateFlag(ctx context.Context, name, description string) (repository.Flag, error) {
	existing, err := s.GetFlag(ctx, name)
	if err != nil {
		return repository.Flag{}, err
	}

	previous := s.snapshotBestEffort(ctx, existing)

	updated, err := s.repo.UpdateFlag(ctx, repository.Flag{Name: name, Description: description})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Flag{}, ErrFlagNotFound
		}
		return repository.Flag{}, fmt.Errorf("update flag: %w", err)
	}

	s.audit(ctx, "update", "flag", updated.Name, updated)
	s.notifyBestEffort(ctx, func(ctx context.Context, n Notifier) {
		n.Dispatch(ctx, webhook.EventUpdated, updated, previous)
	})

	return updated, nil
}

func (s *Service) GetFlag(ctx context.Context, name string) (repository.Flag, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Flag{}, ErrFlagNotFound
	}

	flag, err := s.repo.GetFlag(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Flag{}, ErrFlagNotFound
		}
		return repository.Flag{}, fmt.Errorf("get flag: %w", err)
	}

	return flag, nil
}

func (s *Service) ListFlags(ctx context.Context) ([]repository.Flag, error) {
	flags, err := s.repo.ListFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	return flags, nil
}

// DeleteFlag removes a flag and its environment values. The webhook payload
// is snapshotted before deletion.
func (s *Service) DeleteFlag(ctx context.Context, name string) error {
	existing, err := s.GetFlag(ctx, name)
	if err != nil {
		return err
	}

	snapshot := s.snapshotBestEffort(ctx, existing)

	if err := s.repo.DeleteFlag(ctx, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFlagNotFound
		}
		return fmt.Errorf("delete flag: %w", err)
	}

	s.audit(ctx, "delete", "flag", name, nil)
	if snapshot != nil {
		s.notifyBestEffort(ctx, func(ctx context.Context, n Notifier) {
			n.DispatchDeleted(ctx, *snapshot)
		})
	}

	return nil
}

func (s *Service) CreateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error) {
	if strings.TrimSpace(env.Name) == "" {
		return repository.Environment{}, ErrEnvironmentRequired
	}

	created, err := s.repo.CreateEnvironment(ctx, env)
	if err != nil {
		return repository.Environment{}, fmt.Errorf("create environment: %w", err)
	}

	s.audit(ctx, "create", "environment", created.Name, created)
	return created, nil
}

func (s *Service) UpdateEnvironment(ctx context.Context, env repository.Environment) (repository.Environment, error) {
	if strings.TrimSpace(env.Name) == "" {
		return repository.Environment{}, ErrEnvironmentRequired
	}

	updated, err := s.repo.UpdateEnvironment(ctx, env)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Environment{}, ErrEnvironmentNotFound
		}
		return repository.Environment{}, fmt.Errorf("update environment: %w", err)
	}

	s.audit(ctx, "update", "environment", updated.Name, updated)
	return updated, nil
}

func (s *Service) ListEnvironments(ctx context.Context) ([]repository.Environment, error) {
	environments, err := s.repo.ListEnvironments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}

	return environments, nil
}

func (s *Service) DeleteEnvironment(ctx context.Context, id string) error {
	if err := s.repo.DeleteEnvironment(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEnvironmentNotFound
		}
		return fmt.Errorf("delete environment: %w", err)
	}

	s.audit(ctx, "delete", "environment", id, nil)
	return nil
}

// UpsertEnvironmentValue creates or replaces a flag's value in one
// environment, identified by flag name and environment name. Webhooks that
// opted into environment changes receive an environment_value_updated event.
func (s *Service) UpsertEnvironmentValue(ctx context.Context, flagName, envName string, value *string, start, end *time.Time) (repository.EnvironmentValue, error) {
	flag, err := s.GetFlag(ctx, flagName)
	if err != nil {
		return repository.EnvironmentValue{}, err
	}
	env, err := s.environmentByName(ctx, envName)
	if err != nil {
		return repository.EnvironmentValue{}, err
	}

	upserted, err := s.repo.UpsertEnvironmentValue(ctx, repository.EnvironmentValue{
		FlagID:        flag.ID,
		EnvironmentID: env.ID,
		Value:         value,
		StartDatetime: start,
		EndDatetime:   end,
	})
	if err != nil {
		return repository.EnvironmentValue{}, fmt.Errorf("upsert environment value: %w", err)
	}

	s.audit(ctx, "upsert", "environment_value", flagName+"/"+envName, upserted)
	s.notifyBestEffort(ctx, func(ctx context.Context, n Notifier) {
		n.DispatchEnvironmentChange(ctx, webhook.EventEnvironmentValueUpdated, upserted)
	})

	return upserted, nil
}

// DeleteEnvironmentValue removes a flag's value in one environment, putting
// the flag back to not-configured there.
func (s *Service) DeleteEnvironmentValue(ctx context.Context, flagName, envName string) error {
	flag, err := s.GetFlag(ctx, flagName)
	if err != nil {
		return err
	}
	env, err := s.environmentByName(ctx, envName)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteEnvironmentValue(ctx, flag.ID, env.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrValueNotFound
		}
		return fmt.Errorf("delete environment value: %w", err)
	}

	s.audit(ctx, "delete", "environment_value", flagName+"/"+envName, nil)
	s.notifyBestEffort(ctx, func(ctx context.Context, n Notifier) {
		n.DispatchEnvironmentChange(ctx, webhook.EventEnvironmentValueUpdated, repository.EnvironmentValue{
			FlagID:        flag.ID,
			EnvironmentID: env.ID,
		})
	})

	return nil
}

func (s *Service) environmentByName(ctx context.Context, name string) (repository.Environment, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Environment{}, ErrEnvironmentNotFound
	}

	env, err := s.repo.GetEnvironmentByName(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Environment{}, ErrEnvironmentNotFound
		}
		return repository.Environment{}, fmt.Errorf("get environment: %w", err)
	}

	return env, nil
}

// snapshotBestEffort captures the webhook-visible state of a flag before a
// mutation. Failures degrade to a nil snapshot rather than blocking the
// mutation.
func (s *Service) snapshotBestEffort(ctx context.Context, flag repository.Flag) *webhook.FlagSnapshot {
	if s.notifier == nil {
		return nil
	}

	snapshot, err := s.notifier.Snapshot(ctx, flag)
	if err != nil {
		s.log.Warn("capture flag snapshot", "flag", flag.Name, "error", err)
		return nil
	}

	return &snapshot
}

// notifyBestEffort runs a dispatch on a detached context so the triggering
// mutation neither waits on webhook delivery nor is cancelled with it.
func (s *Service) notifyBestEffort(ctx context.Context, dispatch func(ctx context.Context, n Notifier)) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyBudget)
	go func() {
		defer cancel()
		dispatch(notifyCtx, s.notifier)
	}()
}

// audit records a mutation in the audit log. Mutations have already
// committed by the time this runs, so failures only log.
func (s *Service) audit(ctx context.Context, action, entity, entityKey string, details any) {
	var payload []byte
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			s.log.Warn("marshal audit details", "entity", entity, "error", err)
		} else {
			payload = encoded
		}
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := s.repo.InsertAuditLog(auditCtx, repository.AuditLogEntry{
		APIKeyID:  actorFromContext(ctx),
		Action:    action,
		Entity:    entity,
		EntityKey: entityKey,
		Details:   payload,
	})
	if err != nil {
		s.log.Warn("write audit log", "entity", entity, "action", action, "error", err)
	}
}
