package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const webhookColumns = `id, name, url, is_active, headers, payload_template, event_types, include_environment_changes, created_at, updated_at`

// CreateWebhook inserts a new webhook. Headers default to an empty object
// and event types to an empty array when unset; the validator rejects empty
// event-type sets before this point.
func (r *PostgresRepository) CreateWebhook(ctx context.Context, webhook Webhook) (Webhook, error) {
	var created Webhook
	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhooks (id, name, url, is_active, headers, payload_template, event_types, include_environment_changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+webhookColumns+`
	`,
		uuid.NewString(),
		webhook.Name,
		webhook.URL,
		webhook.IsActive,
		ensureJSON(webhook.Headers, "{}"),
		webhook.PayloadTemplate,
		ensureJSON(webhook.EventTypes, "[]"),
		webhook.IncludeEnvironmentChanges,
	).Scan(scanWebhook(&created)...)
	if err != nil {
		return Webhook{}, fmt.Errorf("create webhook: %w", err)
	}

	return created, nil
}

// UpdateWebhook replaces all mutable fields of a webhook by ID. Returns
// pgx.ErrNoRows (wrapped) if it does not exist.
func (r *PostgresRepository) UpdateWebhook(ctx context.Context, webhook Webhook) (Webhook, error) {
	var updated Webhook
	err := r.pool.QueryRow(ctx, `
		UPDATE webhooks
		SET name = $2,
		    url = $3,
		    is_active = $4,
		    headers = $5,
		    payload_template = $6,
		    event_types = $7,
		    include_environment_changes = $8,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+webhookColumns+`
	`,
		webhook.ID,
		webhook.Name,
		webhook.URL,
		webhook.IsActive,
		ensureJSON(webhook.Headers, "{}"),
		webhook.PayloadTemplate,
		ensureJSON(webhook.EventTypes, "[]"),
		webhook.IncludeEnvironmentChanges,
	).Scan(scanWebhook(&updated)...)
	if err != nil {
		return Webhook{}, fmt.Errorf("update webhook: %w", err)
	}

	return updated, nil
}

// GetWebhook retrieves a webhook by ID.
func (r *PostgresRepository) GetWebhook(ctx context.Context, id string) (Webhook, error) {
	var webhook Webhook
	err := r.pool.QueryRow(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE id = $1
	`, id).Scan(scanWebhook(&webhook)...)
	if err != nil {
		return Webhook{}, fmt.Errorf("get webhook: %w", err)
	}

	return webhook, nil
}

// ListWebhooks returns all webhooks ordered by name.
func (r *PostgresRepository) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	return r.listWebhooks(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		ORDER BY name
	`)
}

// ListActiveWebhooks returns all active webhooks. When environmentChanges is
// true the query additionally filters on include_environment_changes, so
// environment-level events only ever reach webhooks that opted in.
func (r *PostgresRepository) ListActiveWebhooks(ctx context.Context, environmentChanges bool) ([]Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE is_active
		ORDER BY name
	`
	if environmentChanges {
		query = `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE is_active AND include_environment_changes
		ORDER BY name
	`
	}

	return r.listWebhooks(ctx, query)
}

func (r *PostgresRepository) listWebhooks(ctx context.Context, query string) ([]Webhook, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := make([]Webhook, 0)
	for rows.Next() {
		var webhook Webhook
		if err := rows.Scan(scanWebhook(&webhook)...); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}

		webhooks = append(webhooks, webhook)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhooks rows: %w", err)
	}

	return webhooks, nil
}

// DeleteWebhook removes a webhook by ID. Returns pgx.ErrNoRows (wrapped) if
// it does not exist.
func (r *PostgresRepository) DeleteWebhook(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	return noRows("delete webhook", commandTag)
}

func scanWebhook(w *Webhook) []any {
	return []any{
		&w.ID,
		&w.Name,
		&w.URL,
		&w.IsActive,
		&w.Headers,
		&w.PayloadTemplate,
		&w.EventTypes,
		&w.IncludeEnvironmentChanges,
		&w.CreatedAt,
		&w.UpdatedAt,
	}
}
