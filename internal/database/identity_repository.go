package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

// IdentityRepository reads users, organizations and memberships.
type IdentityRepository struct {
	db *sqlx.DB
}

func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := r.db.GetContext(ctx, &u, `SELECT id, name, email FROM users WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", noRows(err, domain.NotFound("user")))
	}
	return &u, nil
}

func (r *IdentityRepository) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var o domain.Organization
	if err := r.db.GetContext(ctx, &o, `SELECT id, name, slug FROM organizations WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", noRows(err, domain.NotFound("organization")))
	}
	return &o, nil
}

// MemberOrganization returns orgID if userID belongs to it.
func (r *IdentityRepository) MemberOrganization(ctx context.Context, userID, orgID string) (*domain.Organization, error) {
	var o domain.Organization
	query := `
		SELECT o.id, o.name, o.slug
		FROM organizations o
		JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = $1 AND o.id = $2`
	if err := r.db.GetContext(ctx, &o, query, userID, orgID); err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", noRows(err, domain.NotFound("organization")))
	}
	return &o, nil
}

// FirstOrganization returns the organization userID joined earliest.
func (r *IdentityRepository) FirstOrganization(ctx context.Context, userID string) (*domain.Organization, error) {
	var o domain.Organization
	query := `
		SELECT o.id, o.name, o.slug
		FROM organizations o
		JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY m.created_at, o.id
		LIMIT 1`
	if err := r.db.GetContext(ctx, &o, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get first organization: %w", noRows(err, domain.NotFound("organization")))
	}
	return &o, nil
}
