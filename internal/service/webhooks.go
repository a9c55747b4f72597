package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/webhook"
)

// CreateWebhook validates and persists a webhook registration. Validation
// errors surface the first failing rule's sentinel.
func (s *Service) CreateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error) {
	if err := webhook.Validate(hook); err != nil {
		return repository.Webhook{}, err
	}

	created, err := s.repo.CreateWebhook(ctx, hook)
	if err != nil {
		return repository.Webhook{}, fmt.Errorf("create webhook: %w", err)
	}

	s.audit(ctx, "create", "webhook", created.ID, created)
	return created, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, hook repository.Webhook) (repository.Webhook, error) {
	if err := webhook.Validate(hook); err != nil {
		return repository.Webhook{}, err
	}

	updated, err := s.repo.UpdateWebhook(ctx, hook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Webhook{}, ErrWebhookNotFound
		}
		return repository.Webhook{}, fmt.Errorf("update webhook: %w", err)
	}

	s.audit(ctx, "update", "webhook", updated.ID, updated)
	return updated, nil
}

func (s *Service) GetWebhook(ctx context.Context, id string) (repository.Webhook, error) {
	hook, err := s.repo.GetWebhook(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Webhook{}, ErrWebhookNotFound
		}
		return repository.Webhook{}, fmt.Errorf("get webhook: %w", err)
	}

	return hook, nil
}

func (s *Service) ListWebhooks(ctx context.Context) ([]repository.Webhook, error) {
	hooks, err := s.repo.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	return hooks, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id string) error {
	if err := s.repo.DeleteWebhook(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWebhookNotFound
		}
		return fmt.Errorf("delete webhook: %w", err)
	}

	s.audit(ctx, "delete", "webhook", id, nil)
	return nil
}

// TestWebhook performs one real delivery to the webhook using the named
// flag's current data. Unlike normal dispatch, the outcome is returned to
// the caller; inactive webhooks and unsubscribed event types are not
// filtered here.
func (s *Service) TestWebhook(ctx context.Context, webhookID, flagName string) (webhook.TestResult, error) {
	if s.notifier == nil {
		return webhook.TestResult{}, errors.New("webhook dispatcher not configured")
	}

	hook, err := s.GetWebhook(ctx, webhookID)
	if err != nil {
		return webhook.TestResult{}, err
	}

	flag, err := s.GetFlag(ctx, flagName)
	if err != nil {
		return webhook.TestResult{}, err
	}

	return s.notifier.DispatchTest(ctx, hook, flag), nil
}
