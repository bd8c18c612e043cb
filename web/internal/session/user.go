package session

import (
	"strings"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/domain/entities"
)

// User is the display copy of the signed-in account kept in the cookie.
// Authorization is still enforced by the API.
type User struct {
	ID       string
	Username string
	Role     entities.Role
}

// UserFrom copies the fields the pages need
func UserFrom(u *entities.User) User {
	return User{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Context converts the cookie copy to the request's auth context
func (u User) Context(sessionID string) *auth.UserContext {
	return &auth.UserContext{
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		SessionID: sessionID,
	}
}

func (u User) encode() string {
	return strings.Join([]string{u.ID, u.Username, string(u.Role)}, "\x1f")
}

func decodeUser(raw string) (User, bool) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 3 || parts[0] == "" {
		return User{}, false
	}
	return User{ID: parts[0], Username: parts[1], Role: entities.Role(parts[2])}, true
}
