package domain

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Schema is a JSON Schema used by extract jobs.
type Schema struct {
	ID             string         `db:"id"              json:"id"`
	OrganizationID string         `db:"organization_id" json:"organizationId"`
	UserID         string         `db:"user_id"         json:"userId"`
	Name           string         `db:"name"            json:"name"`
	Description    *string        `db:"description"     json:"description"`
	JSONSchema     types.JSONText `db:"json_schema"     json:"jsonSchema"`
	UsageCount     int            `db:"usage_count"     json:"usageCount"`
	LastUsedAt     *time.Time     `db:"last_used_at"    json:"lastUsedAt"`
	CreatedAt      time.Time      `db:"created_at"      json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at"      json:"updatedAt"`
}
