package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
)

type fakeUserStore struct {
	byUsername map[string]model.User
	hashes     map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byUsername: map[string]model.User{}, hashes: map[string]string{}}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user model.User, hash string) error {
	if _, exists := f.byUsername[user.Username]; exists {
		return apperr.New(apperr.Duplicate, "already exists")
	}
	f.byUsername[user.Username] = user
	f.hashes[user.Username] = hash
	return nil
}

func (f *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (model.User, string, error) {
	u, ok := f.byUsername[username]
	if !ok {
		return model.User{}, "", apperr.New(apperr.NotFound, "not found")
	}
	return u, f.hashes[username], nil
}

func (f *fakeUserStore) DeleteUser(ctx context.Context, username string) error {
	delete(f.byUsername, username)
	delete(f.hashes, username)
	return nil
}

func (f *fakeUserStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var out []model.User
	for _, u := range f.byUsername {
		out = append(out, u)
	}
	return out, nil
}

func TestService_RegisterLoginAuthenticate(t *testing.T) {
	store := newFakeUserStore()
	svc := New(store, "test-secret", time.Minute)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "hunter2", model.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	token, loggedIn, err := svc.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEmpty(t, token)

	authed, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", authed.Username)
}

func TestService_LoginWrongPasswordFails(t *testing.T) {
	store := newFakeUserStore()
	svc := New(store, "test-secret", time.Minute)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "correct-password", model.RoleUser)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "bob", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestService_AuthenticateRejectsBadToken(t *testing.T) {
	svc := New(newFakeUserStore(), "test-secret", time.Minute)
	_, err := svc.Authenticate(context.Background(), "not-a-real-token")
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestService_RegisterHashesPassword(t *testing.T) {
	store := newFakeUserStore()
	svc := New(store, "test-secret", time.Minute)
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "s3cret", model.RoleAdmin)
	require.NoError(t, err)

	_, hash, err := store.GetUserByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}
