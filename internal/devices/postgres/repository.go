// Package postgres provides PostgreSQL implementation of devices repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/devices"
	"github.com/heraldhq/herald/internal/domain"
)

// Repository implements devices.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const tokenColumns = `id, tenant_id, user_id, device_id, token, platform, language, active, created_at, updated_at`

// UpsertToken registers a device token. A token is bound to exactly one
// installation, so any other row still holding it is removed before the
// insert; re-registration of a known (tenant, user, device) triple replaces
// the token in place and reactivates the row.
func (r *Repository) UpsertToken(ctx context.Context, t *domain.DeviceToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	release := `
		DELETE FROM device_tokens
		WHERE token = $1
		  AND NOT (tenant_id = $2 AND user_id = $3 AND device_id = $4)
	`
	if _, err := tx.Exec(ctx, release, t.Token, t.TenantID, t.UserID, t.DeviceID); err != nil {
		return fmt.Errorf("release stale token: %w", err)
	}

	upsert := `
		INSERT INTO device_tokens (tenant_id, user_id, device_id, token, platform, language, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (tenant_id, user_id, device_id)
		DO UPDATE SET token = EXCLUDED.token, platform = EXCLUDED.platform,
		              language = EXCLUDED.language, active = TRUE, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, upsert,
		t.TenantID,
		t.UserID,
		t.DeviceID,
		t.Token,
		t.Platform,
		t.Language,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	t.Active = true

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTokenByID retrieves a registration scoped to the tenant.
func (r *Repository) GetTokenByID(ctx context.Context, tenantID, id string) (*domain.DeviceToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM device_tokens
		WHERE id = $1 AND tenant_id = $2
	`
	return scanToken(r.db.QueryRow(ctx, query, id, tenantID))
}

// ListTokens retrieves all of the user's registrations, active or not,
// most recently updated first.
func (r *Repository) ListTokens(ctx context.Context, tenantID, userID string) ([]domain.DeviceToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM device_tokens
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY updated_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	list := make([]domain.DeviceToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}

	return list, rows.Err()
}

// ListActiveTokens retrieves the user's active token strings.
func (r *Repository) ListActiveTokens(ctx context.Context, tenantID, userID string) ([]string, error) {
	query := `
		SELECT token
		FROM device_tokens
		WHERE tenant_id = $1 AND user_id = $2 AND active = TRUE
		ORDER BY updated_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// DeactivateToken marks a registration inactive by id.
func (r *Repository) DeactivateToken(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE device_tokens
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND active = TRUE
	`
	result, err := r.db.Exec(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("deactivate device token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return devices.ErrTokenNotFound
	}
	return nil
}

// DeactivateByToken marks a registration inactive by its token value. A
// token the registry never held is not an error; the provider verdict
// already stands.
func (r *Repository) DeactivateByToken(ctx context.Context, tenantID, token string) error {
	query := `
		UPDATE device_tokens
		SET active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND token = $2 AND active = TRUE
	`
	if _, err := r.db.Exec(ctx, query, tenantID, token); err != nil {
		return fmt.Errorf("deactivate by token: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*domain.DeviceToken, error) {
	var t domain.DeviceToken
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.UserID,
		&t.DeviceID,
		&t.Token,
		&t.Platform,
		&t.Language,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, devices.ErrTokenNotFound
		}
		return nil, fmt.Errorf("scan device token: %w", err)
	}
	return &t, nil
}
