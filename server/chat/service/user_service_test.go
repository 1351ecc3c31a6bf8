package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena_realtime/server/chat/domain"
	"arena_realtime/server/chat/repository"
)

type fakeUserRepo struct {
	byID       map[string]domain.User
	byUsername map[string]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]domain.User{}, byUsername: map[string]domain.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user domain.User) error {
	f.byID[user.ID] = user
	f.byUsername[user.Username] = user
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, userID string) (domain.User, error) {
	user, ok := f.byID[userID]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	user, ok := f.byUsername[username]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	svc := NewUserService(newFakeUserRepo())

	user, err := svc.Register(context.Background(), "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, domain.DefaultUserRole, user.Role)
	assert.True(t, user.IsActive)
	assert.Empty(t, user.PasswordHash, "hash never leaves the service")
}

func TestAuthenticate(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRejectsDeactivated(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	user := repo.byID[registered.ID]
	user.IsActive = false
	repo.byID[registered.ID] = user
	repo.byUsername[user.Username] = user

	_, err = svc.Authenticate(ctx, "alice", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.ActiveUser(ctx, registered.ID)
	assert.Error(t, err)
}
