package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

const apiKeyColumns = `id, organization_id, user_id, name, key_hash, key_prefix, is_active,
	request_count, last_used_at, created_at, updated_at`

// APIKeyRepository persists API keys and their usage log.
type APIKeyRepository struct {
	db *sqlx.DB
}

func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Insert(ctx context.Context, key *domain.APIKey) error {
	query := `
		INSERT INTO api_keys (id, organization_id, user_id, name, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING request_count, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		key.ID, key.OrganizationID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.IsActive,
	).Scan(&key.RequestCount, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// FindActiveByHash returns the active key with hash. Inactive keys are
// reported as not found.
func (r *APIKeyRepository) FindActiveByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var key domain.APIKey
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND is_active`
	if err := r.db.GetContext(ctx, &key, query, hash); err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", noRows(err, domain.NotFound("api key")))
	}
	return &key, nil
}

// Touch increments the request counter and refreshes last_used_at.
func (r *APIKeyRepository) Touch(ctx context.Context, id string) error {
	query := `
		UPDATE api_keys SET request_count = request_count + 1, last_used_at = NOW()
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err = execRequireRows(result, err, domain.NotFound("api key")); err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) GetByID(ctx context.Context, orgID, id string) (*domain.APIKey, error) {
	var key domain.APIKey
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND organization_id = $2`
	if err := r.db.GetContext(ctx, &key, query, id, orgID); err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", noRows(err, domain.NotFound("api key")))
	}
	return &key, nil
}

func (r *APIKeyRepository) ListByOrganization(ctx context.Context, orgID string) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE organization_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &keys, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Revoke soft-disables a key; its usage history is kept.
func (r *APIKeyRepository) Revoke(ctx context.Context, orgID, id string) error {
	query := `
		UPDATE api_keys SET is_active = FALSE, updated_at = GREATEST(updated_at, NOW())
		WHERE id = $1 AND organization_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, orgID)
	if err = execRequireRows(result, err, domain.NotFound("api key")); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// Delete removes a key. Usage rows go with it through ON DELETE CASCADE.
func (r *APIKeyRepository) Delete(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err = execRequireRows(result, err, domain.NotFound("api key")); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) InsertUsage(ctx context.Context, usage *domain.APIKeyUsage) error {
	query := `
		INSERT INTO api_key_usage (id, api_key_id, endpoint, method, status_code, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query,
		usage.ID, usage.APIKeyID, usage.Endpoint, usage.Method, usage.StatusCode, usage.ProcessingMs,
	).Scan(&usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return nil
}

// RecentUsage returns the newest rows first.
func (r *APIKeyRepository) RecentUsage(ctx context.Context, keyID string, limit int) ([]domain.APIKeyUsage, error) {
	rows := []domain.APIKeyUsage{}
	query := `
		SELECT id, api_key_id, endpoint, method, status_code, processing_ms, created_at
		FROM api_key_usage
		WHERE api_key_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, keyID, limit); err != nil {
		return nil, fmt.Errorf("failed to list api key usage: %w", err)
	}
	return rows, nil
}

// UsageCounts totals requests over the rolling 24h, 7d and 30d windows.
func (r *APIKeyRepository) UsageCounts(ctx context.Context, keyID string) (domain.UsageCounts, error) {
	var counts domain.UsageCounts
	query := `
		SELECT
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours') AS last_24h,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '7 days')   AS last_7d,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '30 days')  AS last_30d
		FROM api_key_usage
		WHERE api_key_id = $1`
	if err := r.db.GetContext(ctx, &counts, query, keyID); err != nil {
		return counts, fmt.Errorf("failed to count api key usage: %w", err)
	}
	return counts, nil
}
