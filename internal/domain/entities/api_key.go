package entities

import "time"

// APIKey is a long-lived key for programmatic access. The secret value is
// only returned once, at creation.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsExpired returns true if the key has an expiry that has passed
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// APIKeyList is the response of GET /api-keys
type APIKeyList struct {
	APIKeys []APIKey `json:"api_keys"`
	Total   int      `json:"total"`
}

// CreateAPIKeyRequest is the body of POST /api-keys
type CreateAPIKeyRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	ExpiresInDays int    `json:"expires_in_days,omitempty" validate:"gte=0,lte=3650"`
}

// CreateAPIKeyResponse carries the only copy of the secret key
type CreateAPIKeyResponse struct {
	APIKey APIKey `json:"api_key"`
	Key    string `json:"key"`
}
