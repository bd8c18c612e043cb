package entities

import "time"

// User is a dashboard account
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Roles lists every assignable role, most privileged first
func Roles() []Role {
	return []Role{RoleAdmin, RoleEditor, RoleViewer}
}

// Valid returns true if r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// IsAdmin returns true if the user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanEdit returns true if the user may modify hosts
func (u *User) CanEdit() bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor
}

// UserList is the response of GET /users
type UserList struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// CreateUserRequest is the body of POST /users
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     Role   `json:"role" validate:"required,oneof=admin editor viewer"`
}

// UpdateRoleRequest is the body of PUT /users/{id}/role
type UpdateRoleRequest struct {
	Role Role `json:"role" validate:"required,oneof=admin editor viewer"`
}
