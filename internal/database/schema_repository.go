package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

const schemaColumns = `id, organization_id, user_id, name, description, json_schema, usage_count,
	last_used_at, created_at, updated_at`

type SchemaRepository struct {
	db *sqlx.DB
}

func NewSchemaRepository(db *sqlx.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

func (r *SchemaRepository) Insert(ctx context.Context, s *domain.Schema) error {
	query := `
		INSERT INTO schemas (id, organization_id, user_id, name, description, json_schema)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING usage_count, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.OrganizationID, s.UserID, s.Name, s.Description, s.JSONSchema,
	).Scan(&s.UsageCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *SchemaRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Schema, error) {
	var s domain.Schema
	query := `SELECT ` + schemaColumns + ` FROM schemas WHERE id = $1 AND organization_id = $2`
	if err := r.db.GetContext(ctx, &s, query, id, orgID); err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", noRows(err, domain.NotFound("schema")))
	}
	return &s, nil
}

func (r *SchemaRepository) List(ctx context.Context, orgID string) ([]*domain.Schema, error) {
	schemas := []*domain.Schema{}
	query := `SELECT ` + schemaColumns + ` FROM schemas WHERE organization_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &schemas, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return schemas, nil
}

func (r *SchemaRepository) Delete(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schemas WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err = execRequireRows(result, err, domain.NotFound("schema")); err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}
	return nil
}

// MarkUsed counts an extract job against the schema.
func (r *SchemaRepository) MarkUsed(ctx context.Context, id string) error {
	query := `UPDATE schemas SET usage_count = usage_count + 1, last_used_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err = execRequireRows(result, err, domain.NotFound("schema")); err != nil {
		return fmt.Errorf("failed to mark schema used: %w", err)
	}
	return nil
}
