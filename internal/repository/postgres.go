// Package repository provides PostgreSQL-backed persistence for flags,
// environments, per-environment flag values, webhooks, and API keys.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Flag is a named, typed configuration unit. Name and Type are immutable
// after creation; updates touch the description only.
type Flag struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Environment is a named deployment context with independent flag values.
// Listings order by SortOrder ascending, ties broken by name.
type Environment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnvironmentValue stores the value of one flag in one environment together
// with its optional activation window. A nil Value means the flag is
// explicitly disabled there; the absence of a row means not configured.
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

// Webhook is an externally configured HTTP endpoint notified on flag and
// environment mutations. EventTypes and Headers are stored as raw JSON (an
// array of event-type strings and a string-to-string object); the webhook
// validator gates their shape before save.
type Webhook struct {
	ID                        string          `json:"id"`
	Name                      string          `json:"name"`
	URL                       string          `json:"url"`
	IsActive                  bool            `json:"is_active"`
	Headers                   json.RawMessage `json:"headers"`
	PayloadTemplate           string          `json:"payload_template"`
	EventTypes                json.RawMessage `json:"event_types"`
	IncludeEnvironmentChanges bool            `json:"include_environment_changes"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// PostgresRepository implements persistence backed by a pgxpool connection
// pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a [PostgresRepository].
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateFlag inserts a new flag row and returns the created record with
// server-generated timestamps.
func (r *PostgresRepository) CreateFlag(ctx context.Context, flag Flag) (Flag, error) {
	var created Flag
	err := r.pool.QueryRow(ctx, `
		INSERT INTO flags (id, name, type, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, type, description, created_at, updated_at
	`,
		uuid.NewString(),
		flag.Name,
		flag.Type,
		flag.Description,
	).Scan(
		&created.ID,
		&created.Name,
		&created.Type,
		&created.Description,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Flag{}, fmt.Errorf("create flag: %w", err)
	}

	return created, nil
}

// UpdateFlag updates a flag's description by name and returns the updated
// record. Name and type are never touched. Returns pgx.ErrNoRows (wrapped)
// if the flag does not exist.
func (r *PostgresRepository) UpdateFlag(ctx context.Context, flag Flag) (Flag, error) {
	var updated Flag
	err := r.pool.QueryRow(ctx, `
		UPDATE flags
		SET description = $2,
		    updated_at = NOW()
		WHERE name = $1
		RETURNING id, name, type, description, created_at, updated_at
	`,
		flag.Name,
		flag.Description,
	).Scan(
		&updated.ID,
		&updated.Name,
		&updated.Type,
		&updated.Description,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Flag{}, fmt.Errorf("update flag: %w", err)
	}

	return updated, nil
}

// GetFlag retrieves a single flag by name. Returns pgx.ErrNoRows (wrapped)
// if not found.
func (r *PostgresRepository) GetFlag(ctx context.Context, name string) (Flag, error) {
	var flag Flag
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, description, created_at, updated_at
		FROM flags
		WHERE name = $1
	`, name).Scan(
		&flag.ID,
		&flag.Name,
		&flag.Type,
		&flag.Description,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	if err != nil {
		return Flag{}, fmt.Errorf("get flag: %w", err)
	}

	return flag, nil
}

// GetFlagByID retrieves a single flag by its ID.
func (r *PostgresRepository) GetFlagByID(ctx context.Context, id string) (Flag, error) {
	var flag Flag
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, description, created_at, updated_at
		FROM flags
		WHERE id = $1
	`, id).Scan(
		&flag.ID,
		&flag.Name,
		&flag.Type,
		&flag.Description,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	if err != nil {
		return Flag{}, fmt.Errorf("get flag by id: %w", err)
	}

	return flag, nil
}

// ListFlags returns all flags ordered by name.
func (r *PostgresRepository) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, type, description, created_at, updated_at
		FROM flags
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	flags := make([]Flag, 0)
	for rows.Next() {
		var flag Flag
		if err := rows.Scan(
			&flag.ID,
			&flag.Name,
			&flag.Type,
			&flag.Description,
			&flag.CreatedAt,
			&flag.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}

		flags = append(flags, flag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flags rows: %w", err)
	}

	return flags, nil
}

// DeleteFlag removes a flag by name along with its environment values.
// Returns pgx.ErrNoRows (wrapped) if the flag does not exist.
func (r *PostgresRepository) DeleteFlag(ctx context.Context, name string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM flags WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}

	return noRows("delete flag", commandTag)
}

// CreateEnvironment inserts a new environment.
func (r *PostgresRepository) CreateEnvironment(ctx context.Context, env Environment) (Environment, error) {
	var created Environment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO environments (id, name, sort_order)
		VALUES ($1, $2, $3)
		RETURNING id, name, sort_order, created_at, updated_at
	`,
		uuid.NewString(),
		env.Name,
		env.SortOrder,
	).Scan(
		&created.ID,
		&created.Name,
		&created.SortOrder,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Environment{}, fmt.Errorf("create environment: %w", err)
	}

	return created, nil
}

// UpdateEnvironment updates an environment's name and sort order by ID.
// Returns pgx.ErrNoRows (wrapped) if it does not exist.
func (r *PostgresRepository) UpdateEnvironment(ctx context.Context, env Environment) (Environment, error) {
	var updated Environment
	err := r.pool.QueryRow(ctx, `
		UPDATE environments
		SET name = $2,
		    sort_order = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, sort_order, created_at, updated_at
	`,
		env.ID,
		env.Name,
		env.SortOrder,
	).Scan(
		&updated.ID,
		&updated.Name,
		&updated.SortOrder,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Environment{}, fmt.Errorf("update environment: %w", err)
	}

	return updated, nil
}

// GetEnvironment retrieves an environment by ID.
func (r *PostgresRepository) GetEnvironment(ctx context.Context, id string) (Environment, error) {
	var env Environment
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, sort_order, created_at, updated_at
		FROM environments
		WHERE id = $1
	`, id).Scan(
		&env.ID,
		&env.Name,
		&env.SortOrder,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return Environment{}, fmt.Errorf("get environment: %w", err)
	}

	return env, nil
}

// GetEnvironmentByName retrieves an environment by its unique name.
func (r *PostgresRepository) GetEnvironmentByName(ctx context.Context, name string) (Environment, error) {
	var env Environment
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, sort_order, created_at, updated_at
		FROM environments
		WHERE name = $1
	`, name).Scan(
		&env.ID,
		&env.Name,
		&env.SortOrder,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return Environment{}, fmt.Errorf("get environment by name: %w", err)
	}

	return env, nil
}

// ListEnvironments returns all environments ordered by sort order, then name.
func (r *PostgresRepository) ListEnvironments(ctx context.Context) ([]Environment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, sort_order, created_at, updated_at
		FROM environments
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	environments := make([]Environment, 0)
	for rows.Next() {
		var env Environment
		if err := rows.Scan(
			&env.ID,
			&env.Name,
			&env.SortOrder,
			&env.CreatedAt,
			&env.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}

		environments = append(environments, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list environments rows: %w", err)
	}

	return environments, nil
}

// DeleteEnvironment removes an environment by ID along with its values.
// Returns pgx.ErrNoRows (wrapped) if it does not exist.
func (r *PostgresRepository) DeleteEnvironment(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}

	return noRows("delete environment", commandTag)
}

// UpsertEnvironmentValue creates or replaces the value of one flag in one
// environment. The (flag_id, environment_id) pair is unique.
func (r *PostgresRepository) UpsertEnvironmentValue(ctx context.Context, value EnvironmentValue) (EnvironmentValue, error) {
	var saved EnvironmentValue
	err := r.pool.QueryRow(ctx, `
		INSERT INTO environment_values (id, flag_id, environment_id, value, start_datetime, end_datetime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (flag_id, environment_id) DO UPDATE
		SET value = EXCLUDED.value,
		    start_datetime = EXCLUDED.start_datetime,
		    end_datetime = EXCLUDED.end_datetime,
		    updated_at = NOW()
		RETURNING id, flag_id, environment_id, value, start_datetime, end_datetime, created_at, updated_at
	`,
		uuid.NewString(),
		value.FlagID,
		value.EnvironmentID,
		value.Value,
		value.StartDatetime,
		value.EndDatetime,
	).Scan(
		&saved.ID,
		&saved.FlagID,
		&saved.EnvironmentID,
		&saved.Value,
		&saved.StartDatetime,
		&saved.EndDatetime,
		&saved.CreatedAt,
		&saved.UpdatedAt,
	)
	if err != nil {
		return EnvironmentValue{}, fmt.Errorf("upsert environment value: %w", err)
	}

	return saved, nil
}

// GetEnvironmentValue retrieves the value of one flag in one environment.
// Returns pgx.ErrNoRows (wrapped) when the flag is not configured there.
func (r *PostgresRepository) GetEnvironmentValue(ctx context.Context, flagID, environmentID string) (EnvironmentValue, error) {
	var value EnvironmentValue
	err := r.pool.QueryRow(ctx, `
		SELECT id, flag_id, environment_id, value, start_datetime, end_datetime, created_at, updated_at
		FROM environment_values
		WHERE flag_id = $1 AND environment_id = $2
	`, flagID, environmentID).Scan(
		&value.ID,
		&value.FlagID,
		&value.EnvironmentID,
		&value.Value,
		&value.StartDatetime,
		&value.EndDatetime,
		&value.CreatedAt,
		&value.UpdatedAt,
	)
	if err != nil {
		return EnvironmentValue{}, fmt.Errorf("get environment value: %w", err)
	}

	return value, nil
}

// GetEnvironmentValueByID retrieves an environment value row by its ID.
func (r *PostgresRepository) GetEnvironmentValueByID(ctx context.Context, id string) (EnvironmentValue, error) {
	var value EnvironmentValue
	err := r.pool.QueryRow(ctx, `
		SELECT id, flag_id, environment_id, value, start_datetime, end_datetime, created_at, updated_at
		FROM environment_values
		WHERE id = $1
	`, id).Scan(
		&value.ID,
		&value.FlagID,
		&value.EnvironmentID,
		&value.Value,
		&value.StartDatetime,
		&value.EndDatetime,
		&value.CreatedAt,
		&value.UpdatedAt,
	)
	if err != nil {
		return EnvironmentValue{}, fmt.Errorf("get environment value by id: %w", err)
	}

	return value, nil
}

// ListEnvironmentValuesForFlag returns all configured values for one flag
// across environments.
func (r *PostgresRepository) ListEnvironmentValuesForFlag(ctx context.Context, flagID string) ([]EnvironmentValue, error) {
	return r.listEnvironmentValues(ctx, `
		SELECT id, flag_id, environment_id, value, start_datetime, end_datetime, created_at, updated_at
		FROM environment_values
		WHERE flag_id = $1
	`, flagID)
}

// ListEnvironmentValuesForEnvironment returns all configured values in one
// environment across flags.
func (r *PostgresRepository) ListEnvironmentValuesForEnvironment(ctx context.Context, environmentID string) ([]EnvironmentValue, error) {
	return r.listEnvironmentValues(ctx, `
		SELECT id, flag_id, environment_id, value, start_datetime, end_datetime, created_at, updated_at
		FROM environment_values
		WHERE environment_id = $1
	`, environmentID)
}

func (r *PostgresRepository) listEnvironmentValues(ctx context.Context, query string, arg any) ([]EnvironmentValue, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list environment values: %w", err)
	}
	defer rows.Close()

	values := make([]EnvironmentValue, 0)
	for rows.Next() {
		var value EnvironmentValue
		if err := rows.Scan(
			&value.ID,
			&value.FlagID,
			&value.EnvironmentID,
			&value.Value,
			&value.StartDatetime,
			&value.EndDatetime,
			&value.CreatedAt,
			&value.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan environment value: %w", err)
		}

		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list environment values rows: %w", err)
	}

	return values, nil
}

// DeleteEnvironmentValue removes the value of one flag in one environment.
// Returns pgx.ErrNoRows (wrapped) if no such value exists.
func (r *PostgresRepository) DeleteEnvironmentValue(ctx context.Context, flagID, environmentID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		DELETE FROM environment_values WHERE flag_id = $1 AND environment_id = $2
	`, flagID, environmentID)
	if err != nil {
		return fmt.Errorf("delete environment value: %w", err)
	}

	return noRows("delete environment value", commandTag)
}

func noRows(operation string, commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", operation, pgx.ErrNoRows)
	}

	return nil
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}
