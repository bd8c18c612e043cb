package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sluggisty/dashboard/internal/domain/entities"
)

func TestStructValid(t *testing.T) {
	req := entities.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "longenough"}
	assert.Nil(t, Struct(req))
}

func TestStructFieldMessages(t *testing.T) {
	req := entities.RegisterRequest{Username: "a!", Email: "nope", Password: "short"}
	fields := Struct(req)
	assert.Equal(t, "must be at least 3 characters", fields["username"])
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at least 8 characters", fields["password"])
	assert.NotContains(t, fields, "org_name")
}

func TestStructOneOf(t *testing.T) {
	fields := Struct(entities.UpdateRoleRequest{Role: "root"})
	assert.Equal(t, "must be one of: admin, editor, viewer", fields["role"])
}
