package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "secret", time.Hour), mr
}

func TestSessionStoreIssueResolveRevoke(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	userID := uuid.New()

	token, err := store.Issue(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreRevokeUserDropsAllTokens(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	userID := uuid.New()

	first, err := store.Issue(ctx, userID)
	require.NoError(t, err)
	second, err := store.Issue(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, store.RevokeUser(ctx, userID))
	_, err = store.Resolve(ctx, first)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Resolve(ctx, second)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	token, err := store.Issue(ctx, uuid.New())
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))
	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(req))
	req.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, BearerToken(req))
}
