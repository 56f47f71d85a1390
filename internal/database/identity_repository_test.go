package database_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/domain"
)

func TestIdentityRepository_GetUser(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewIdentityRepository(db)

	mock.ExpectQuery("SELECT id, name, email FROM users").
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("usr_1", "Ada", "ada@example.test"))
	mock.ExpectQuery("SELECT id, name, email FROM users").
		WithArgs("usr_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))

	u, err := repo.GetUser(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = repo.GetUser(context.Background(), "usr_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityRepository_Memberships(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewIdentityRepository(db)
	cols := []string{"id", "name", "slug"}

	mock.ExpectQuery("WHERE m.user_id = \\$1 AND o.id = \\$2").
		WithArgs("usr_1", "org_other").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("ORDER BY m.created_at, o.id\\s+LIMIT 1").
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("org_1", "Acme", "acme"))

	_, err := repo.MemberOrganization(context.Background(), "usr_1", "org_other")
	require.ErrorIs(t, err, domain.ErrNotFound)

	org, err := repo.FirstOrganization(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", org.ID)
}
