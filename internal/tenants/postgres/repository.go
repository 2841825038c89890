// Package postgres provides PostgreSQL implementation of tenants repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/pkg/secrets"
	"github.com/heraldhq/herald/internal/tenants"
)

// Repository implements tenants.Repository using PostgreSQL. Sensitive
// credential fields are sealed before they reach the database and opened
// again on load; the plaintext never leaves process memory.
type Repository struct {
	db     *pgxpool.Pool
	cipher *secrets.Cipher
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool, cipher *secrets.Cipher) *Repository {
	return &Repository{db: db, cipher: cipher}
}

// GetActiveCredential retrieves the active credential for the pair.
func (r *Repository) GetActiveCredential(ctx context.Context, tenantID string, channel domain.ChannelType) (*domain.Credential, error) {
	query := `
		SELECT id, tenant_id, channel, data, secret_data, custom, active, created_at, updated_at
		FROM tenant_credentials
		WHERE tenant_id = $1 AND channel = $2 AND active = TRUE
	`
	return r.scanCredential(r.db.QueryRow(ctx, query, tenantID, channel))
}

// GetCredentialByID retrieves a credential scoped to the tenant.
func (r *Repository) GetCredentialByID(ctx context.Context, tenantID, id string) (*domain.Credential, error) {
	query := `
		SELECT id, tenant_id, channel, data, secret_data, custom, active, created_at, updated_at
		FROM tenant_credentials
		WHERE id = $1 AND tenant_id = $2
	`
	return r.scanCredential(r.db.QueryRow(ctx, query, id, tenantID))
}

// ListCredentials retrieves all credentials of the tenant, newest first.
func (r *Repository) ListCredentials(ctx context.Context, tenantID string) ([]domain.Credential, error) {
	query := `
		SELECT id, tenant_id, channel, data, secret_data, custom, active, created_at, updated_at
		FROM tenant_credentials
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := make([]domain.Credential, 0)
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}

	return creds, rows.Err()
}

// ReplaceActiveCredential deactivates the current active credential for the
// (tenant, channel) pair and inserts cred as the new active one.
func (r *Repository) ReplaceActiveCredential(ctx context.Context, cred *domain.Credential) error {
	data, sealed, err := r.encodeData(cred.Data)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	deactivate := `
		UPDATE tenant_credentials
		SET active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND channel = $2 AND active = TRUE
	`
	if _, err := tx.Exec(ctx, deactivate, cred.TenantID, cred.Channel); err != nil {
		return fmt.Errorf("deactivate previous credential: %w", err)
	}

	insert := `
		INSERT INTO tenant_credentials (tenant_id, channel, data, secret_data, custom, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert, cred.TenantID, cred.Channel, data, sealed, cred.Custom).
		Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	cred.Active = true

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateCredential updates an existing credential. When the credential is
// active, any other active credential for the same channel is deactivated
// in the same transaction.
func (r *Repository) UpdateCredential(ctx context.Context, cred *domain.Credential) error {
	data, sealed, err := r.encodeData(cred.Data)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cred.Active {
		deactivate := `
			UPDATE tenant_credentials
			SET active = FALSE, updated_at = NOW()
			WHERE tenant_id = $1 AND channel = $2 AND active = TRUE AND id <> $3
		`
		if _, err := tx.Exec(ctx, deactivate, cred.TenantID, cred.Channel, cred.ID); err != nil {
			return fmt.Errorf("deactivate previous credential: %w", err)
		}
	}

	update := `
		UPDATE tenant_credentials
		SET data = $3, secret_data = $4, custom = $5, active = $6, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`
	err = tx.QueryRow(ctx, update, cred.ID, cred.TenantID, data, sealed, cred.Custom, cred.Active).
		Scan(&cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenants.ErrCredentialNotFound
		}
		return fmt.Errorf("update credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanCredential(row rowScanner) (*domain.Credential, error) {
	var (
		cred   domain.Credential
		data   []byte
		sealed []byte
	)
	err := row.Scan(
		&cred.ID,
		&cred.TenantID,
		&cred.Channel,
		&data,
		&sealed,
		&cred.Custom,
		&cred.Active,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenants.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	cred.Data = make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cred.Data); err != nil {
			return nil, fmt.Errorf("decode credential data: %w", err)
		}
	}
	if err := r.openSecrets(&cred, sealed); err != nil {
		return nil, err
	}
	return &cred, nil
}

// encodeData splits the field map into its plaintext JSON part and a sealed
// blob holding the sensitive fields.
func (r *Repository) encodeData(fields map[string]string) (data, sealed []byte, err error) {
	public := make(map[string]string)
	secret := make(map[string]string)
	for k, v := range fields {
		if domain.IsSensitiveCredentialField(k) {
			secret[k] = v
		} else {
			public[k] = v
		}
	}

	data, err = json.Marshal(public)
	if err != nil {
		return nil, nil, fmt.Errorf("encode credential data: %w", err)
	}

	if len(secret) > 0 {
		plain, err := json.Marshal(secret)
		if err != nil {
			return nil, nil, fmt.Errorf("encode credential secrets: %w", err)
		}
		sealed, err = r.cipher.Seal(plain)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt credential secrets: %w", err)
		}
	}

	return data, sealed, nil
}

func (r *Repository) openSecrets(cred *domain.Credential, sealed []byte) error {
	if len(sealed) == 0 {
		return nil
	}

	plain, err := r.cipher.Open(sealed)
	if err != nil {
		return fmt.Errorf("decrypt credential %s: %w", cred.ID, err)
	}

	secret := make(map[string]string)
	if err := json.Unmarshal(plain, &secret); err != nil {
		return fmt.Errorf("decode credential secrets: %w", err)
	}
	for k, v := range secret {
		cred.Data[k] = v
	}
	return nil
}
