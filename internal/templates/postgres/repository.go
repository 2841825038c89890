// Package postgres provides PostgreSQL implementation of templates repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/templates"
)

// Repository implements templates.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const templateColumns = `id, tenant_id, name, channel, subject, body, data, version, placeholders, active, created_at, updated_at`

// CreateTemplate creates a new template.
func (r *Repository) CreateTemplate(ctx context.Context, t *domain.Template) error {
	data, err := encodeData(t.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_templates (tenant_id, name, channel, subject, body, data, version, placeholders, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		t.TenantID,
		t.Name,
		t.Channel,
		t.Subject,
		t.Body,
		data,
		t.Version,
		t.Placeholders,
		t.Active,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// GetTemplateByID retrieves a template scoped to the tenant.
func (r *Repository) GetTemplateByID(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	return scanTemplate(r.db.QueryRow(ctx, query, id, tenantID))
}

// ListTemplates retrieves the tenant's templates matching the filter,
// newest first.
func (r *Repository) ListTemplates(ctx context.Context, tenantID string, filter templates.Filter) ([]domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE tenant_id = $1 AND deleted_at IS NULL
		  AND ($2 = '' OR name = $2)
		  AND ($3 = '' OR channel = $3)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, filter.Name, string(filter.Channel))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	list := make([]domain.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}

	return list, rows.Err()
}

// UpdateTemplate updates an existing template.
func (r *Repository) UpdateTemplate(ctx context.Context, t *domain.Template) error {
	data, err := encodeData(t.Data)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_templates
		SET subject = $3, body = $4, data = $5, version = $6, placeholders = $7, active = $8, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		RETURNING updated_at
	`
	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.TenantID,
		t.Subject,
		t.Body,
		data,
		t.Version,
		t.Placeholders,
		t.Active,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return templates.ErrTemplateNotFound
		}
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// DeleteTemplate soft-deletes a template.
func (r *Repository) DeleteTemplate(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE notification_templates
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	result, err := r.db.Exec(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return templates.ErrTemplateNotFound
	}
	return nil
}

// GetActiveTemplate retrieves the highest-version active template for the
// (tenant, name, channel) triple.
func (r *Repository) GetActiveTemplate(ctx context.Context, tenantID, name string, channel domain.ChannelType) (*domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE tenant_id = $1 AND name = $2 AND channel = $3 AND active = TRUE AND deleted_at IS NULL
		ORDER BY version DESC, updated_at DESC
		LIMIT 1
	`
	return scanTemplate(r.db.QueryRow(ctx, query, tenantID, name, channel))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var (
		t    domain.Template
		data []byte
	)
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&t.Channel,
		&t.Subject,
		&t.Body,
		&data,
		&t.Version,
		&t.Placeholders,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, templates.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, fmt.Errorf("decode template data: %w", err)
		}
	}
	return &t, nil
}

func encodeData(data map[string]string) ([]byte, error) {
	if data == nil {
		data = map[string]string{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode template data: %w", err)
	}
	return encoded, nil
}
