package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1905060202/image-ai-processor/internal/auth"
	"github.com/1905060202/image-ai-processor/internal/models"
)

func TestRegisterHashesPasswordAndClampsRole(t *testing.T) {
	store := newFakeUserStore()
	svc := NewUserService(store)

	user, err := svc.Register(context.Background(), "ada", "hunter2", models.Role("superuser"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role, "unknown roles collapse to user")
	assert.NotEqual(t, "hunter2", user.PasswordHash)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "hunter2"))

	admin, err := svc.Register(context.Background(), "root", "hunter2", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
}

func TestRegisterRejectsDuplicatesAndBlanks(t *testing.T) {
	store := newFakeUserStore(&models.User{ID: 1, Username: "ada"})
	svc := NewUserService(store)

	_, err := svc.Register(context.Background(), "ada", "pw", models.RoleUser)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(context.Background(), "", "pw", models.RoleUser)
	assert.Error(t, err)
	_, err = svc.Register(context.Background(), "bob", "", models.RoleUser)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	store := newFakeUserStore()
	svc := NewUserService(store)
	_, err := svc.Register(context.Background(), "ada", "hunter2", models.RoleUser)
	require.NoError(t, err)

	user, err := svc.Authenticate(context.Background(), "ada", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)

	_, err = svc.Authenticate(context.Background(), "ada", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown users fail the same way as bad passwords")
}
