package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown, expired or revoked tokens.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore issues opaque bearer tokens backed by Redis. Tokens are stored
// under an HMAC of the token so a Redis dump does not expose usable tokens.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	secret []byte
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, secret string, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		secret: []byte(secret),
	}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new token for userID.
func (s *SessionStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	token := strings.ReplaceAll(id.String(), "-", "")
	key := s.tokenKey(token)
	userKey := s.userKey(userID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, userID.String(), s.ttl)
	pipe.SAdd(ctx, userKey, key)
	pipe.Expire(ctx, userKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the user bound to token.
func (s *SessionStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrSessionNotFound
	}
	raw, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrSessionNotFound
		}
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrSessionNotFound
	}
	return userID, nil
}

// Revoke deletes a single token.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.client.Del(ctx, s.tokenKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// RevokeUser deletes every token issued to userID.
func (s *SessionStore) RevokeUser(ctx context.Context, userID uuid.UUID) error {
	userKey := s.userKey(userID)
	keys, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, userKey)
	return s.client.Del(ctx, keys...).Err()
}

func (s *SessionStore) tokenKey(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return "session:" + hex.EncodeToString(mac.Sum(nil))
}

func (s *SessionStore) userKey(userID uuid.UUID) string {
	return "session:user:" + userID.String()
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
