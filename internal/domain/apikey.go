package domain

import "time"

// APIKey is a programmatic credential. The plaintext secret is never stored.
type APIKey struct {
	ID             string     `db:"id"              json:"id"`
	OrganizationID string     `db:"organization_id" json:"organizationId"`
	UserID         string     `db:"user_id"         json:"userId"`
	Name           string     `db:"name"            json:"name"`
	KeyHash        string     `db:"key_hash"        json:"-"`
	KeyPrefix      string     `db:"key_prefix"      json:"keyPrefix"`
	IsActive       bool       `db:"is_active"       json:"isActive"`
	RequestCount   int64      `db:"request_count"   json:"requestCount"`
	LastUsedAt     *time.Time `db:"last_used_at"    json:"lastUsedAt"`
	CreatedAt      time.Time  `db:"created_at"      json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updatedAt"`
}

// APIKeyUsage is one append-only audit row.
type APIKeyUsage struct {
	ID           string    `db:"id"            json:"id"`
	APIKeyID     string    `db:"api_key_id"    json:"apiKeyId"`
	Endpoint     string    `db:"endpoint"      json:"endpoint"`
	Method       string    `db:"method"        json:"method"`
	StatusCode   int       `db:"status_code"   json:"statusCode"`
	ProcessingMs *int64    `db:"processing_ms" json:"processingMs"`
	CreatedAt    time.Time `db:"created_at"    json:"createdAt"`
}

// UsageCounts are rolling request totals.
type UsageCounts struct {
	Last24h int `db:"last_24h" json:"last24h"`
	Last7d  int `db:"last_7d"  json:"last7d"`
	Last30d int `db:"last_30d" json:"last30d"`
}

// APIKeyUsageReport is returned by the usage endpoint.
type APIKeyUsageReport struct {
	Key    APIKey        `json:"key"`
	Recent []APIKeyUsage `json:"recentUsage"`
	Counts UsageCounts   `json:"counts"`
}
