package entities

import "time"

// TokenInfo is the access/refresh token pair issued by the API
type TokenInfo struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired returns true if the token has expired at now
func (t *TokenInfo) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ExpiresWithin returns true if the token expires within buffer of now
func (t *TokenInfo) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return !t.ExpiresAt.IsZero() && !now.Add(buffer).Before(t.ExpiresAt)
}

// HasRefreshToken returns true if the pair can be refreshed
func (t *TokenInfo) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// AuthSession tracks activity for the current login
type AuthSession struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IdleFor returns how long the session has been inactive at now
func (s *AuthSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
