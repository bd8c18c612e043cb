package auth

import (
	"context"
	"errors"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// UserContext contains authenticated user information
type UserContext struct {
	UserID    string
	Username  string
	Email     string
	Role      entities.Role
	SessionID string
}

// NewUserContext builds a UserContext from an API user
func NewUserContext(u *entities.User, sessionID string) *UserContext {
	return &UserContext{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		SessionID: sessionID,
	}
}

// IsAdmin returns true if the user can manage users
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == entities.RoleAdmin
}

// CanEdit returns true if the user can delete hosts
func (u *UserContext) CanEdit() bool {
	return u != nil && (u.Role == entities.RoleAdmin || u.Role == entities.RoleEditor)
}

// contextKey is the key for storing user info in context
type contextKey string

const userContextKey contextKey = "user"

// GetUserFromContext extracts the authenticated user from the context
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// SetUserInContext stores the authenticated user in the context
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// RequireAdmin checks if the user is an admin
func RequireAdmin(ctx context.Context) error {
	user, err := GetUserFromContext(ctx)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// RequireEditor checks if the user may modify hosts
func RequireEditor(ctx context.Context) error {
	user, err := GetUserFromContext(ctx)
	if err != nil {
		return err
	}
	if !user.CanEdit() {
		return ErrForbidden
	}
	return nil
}
