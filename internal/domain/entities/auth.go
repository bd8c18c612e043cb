package entities

import "time"

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	OrgName  string `json:"org_name,omitempty" validate:"omitempty,max=100"`
}

// AuthResponse is returned by login, register, and refresh
type AuthResponse struct {
	User      *User     `json:"user,omitempty"`
	TokenInfo TokenInfo `json:"token_info"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// CSRFResponse is the response of GET /auth/csrf-token
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// Health is the response of GET /health
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// IsHealthy returns true if the API reports itself healthy
func (h *Health) IsHealthy() bool {
	return h.Status == "ok" || h.Status == "healthy"
}

// ErrorBody is the JSON error envelope returned by the API
type ErrorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}
