package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/domain"
)

var apiKeyColumnNames = []string{
	"id", "organization_id", "user_id", "name", "key_hash", "key_prefix", "is_active",
	"request_count", "last_used_at", "created_at", "updated_at",
}

func TestAPIKeyRepository_Insert(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewAPIKeyRepository(db)
	now := time.Now()

	key := &domain.APIKey{
		ID: "key_1", OrganizationID: "org_1", UserID: "usr_1", Name: "ci",
		KeyHash: "abc123", KeyPrefix: "sk_AbCdE", IsActive: true,
	}
	mock.ExpectQuery("INSERT INTO api_keys").
		WithArgs("key_1", "org_1", "usr_1", "ci", "abc123", "sk_AbCdE", true).
		WillReturnRows(sqlmock.NewRows([]string{"request_count", "created_at", "updated_at"}).AddRow(0, now, now))

	require.NoError(t, repo.Insert(context.Background(), key))
	assert.Equal(t, now, key.CreatedAt)
}

func TestAPIKeyRepository_FindActiveByHash_Inactive(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewAPIKeyRepository(db)

	mock.ExpectQuery("FROM api_keys WHERE key_hash = \\$1 AND is_active").
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows(apiKeyColumnNames))

	_, err := repo.FindActiveByHash(context.Background(), "deadbeef")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAPIKeyRepository_RevokeAndDelete(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewAPIKeyRepository(db)

	mock.ExpectExec("UPDATE api_keys SET is_active = FALSE").
		WithArgs("key_1", "org_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM api_keys").
		WithArgs("key_1", "org_2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "org_1", "key_1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "org_2", "key_1"), domain.ErrNotFound)
}

func TestAPIKeyRepository_Usage(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewAPIKeyRepository(db)
	now := time.Now()
	ms := int64(42)

	mock.ExpectQuery("INSERT INTO api_key_usage").
		WithArgs("use_1", "key_1", "/v1/parse", "POST", 200, ms).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery("FROM api_key_usage\\s+WHERE api_key_id = \\$1\\s+ORDER BY created_at DESC").
		WithArgs("key_1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "api_key_id", "endpoint", "method", "status_code", "processing_ms", "created_at"}).
			AddRow("use_1", "key_1", "/v1/parse", "POST", 200, ms, now))
	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WithArgs("key_1").
		WillReturnRows(sqlmock.NewRows([]string{"last_24h", "last_7d", "last_30d"}).AddRow(1, 5, 9))

	usage := &domain.APIKeyUsage{ID: "use_1", APIKeyID: "key_1", Endpoint: "/v1/parse", Method: "POST", StatusCode: 200, ProcessingMs: &ms}
	require.NoError(t, repo.InsertUsage(context.Background(), usage))

	rows, err := repo.RecentUsage(context.Background(), "key_1", 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 200, rows[0].StatusCode)

	counts, err := repo.UsageCounts(context.Background(), "key_1")
	require.NoError(t, err)
	assert.Equal(t, domain.UsageCounts{Last24h: 1, Last7d: 5, Last30d: 9}, counts)
}

func TestAPIKeyRepository_Touch(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewAPIKeyRepository(db)

	mock.ExpectExec("UPDATE api_keys SET request_count = request_count \\+ 1").
		WithArgs("key_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Touch(context.Background(), "key_1"))
}
