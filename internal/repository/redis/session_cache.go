package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-auth-service/internal/client"
	"sms-auth-service/internal/hashing"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/util"
)

const (
	refreshPrefix      = "refresh:"
	userSessionsPrefix = "user_refresh:"
)

// ErrSessionNotFound covers tokens that never existed, were already rotated
// and TTL-expired sessions; the caller cannot tell those apart.
var ErrSessionNotFound = errors.New("refresh session not found")

// SessionCache stores issued refresh sessions keyed by the SHA-256 of the
// token, with Redis enforcing the 30-day TTL. Redemption is atomic GETDEL,
// so each token can be spent at most once.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// Create persists a new refresh session and tracks it on the owner's
// session set for bulk revocation.
func (c *SessionCache) Create(ctx context.Context, token string, sess models.RefreshSession, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh session: %w", err)
	}

	key := refreshPrefix + hashing.TokenHash(token)
	userKey := userSessionsPrefix + sess.UserID

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, userKey, key)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create refresh session", zap.String("user_id", sess.UserID), zap.Error(err))
		return fmt.Errorf("failed to create refresh session: %w", err)
	}

	util.Debug("Refresh session created", zap.String("user_id", sess.UserID), zap.Duration("ttl", ttl))
	return nil
}

// Redeem atomically consumes a refresh session. The first caller gets the
// session back; everyone after gets ErrSessionNotFound.
func (c *SessionCache) Redeem(ctx context.Context, token string) (*models.RefreshSession, error) {
	key := refreshPrefix + hashing.TokenHash(token)

	raw, err := c.client.GetDel(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		util.Error("Failed to redeem refresh session", zap.Error(err))
		return nil, fmt.Errorf("failed to redeem refresh session: %w", err)
	}

	var sess models.RefreshSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("corrupt refresh session: %w", err)
	}

	// Best-effort bookkeeping; the session itself is already gone
	if err := c.client.SRem(ctx, userSessionsPrefix+sess.UserID, key); err != nil {
		util.Warn("Failed to prune user session set", zap.String("user_id", sess.UserID), zap.Error(err))
	}

	return &sess, nil
}

// RevokeAll deletes every live refresh session of a user and returns how
// many were dropped.
func (c *SessionCache) RevokeAll(ctx context.Context, userID string) (int, error) {
	userKey := userSessionsPrefix + userID

	keys, err := c.client.SMembers(ctx, userKey)
	if err != nil {
		util.Error("Failed to list user sessions", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...); err != nil {
			util.Error("Failed to revoke user sessions", zap.String("user_id", userID), zap.Error(err))
			return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
		}
	}
	if err := c.client.Del(ctx, userKey); err != nil {
		util.Warn("Failed to drop user session set", zap.String("user_id", userID), zap.Error(err))
	}

	util.Info("User refresh sessions revoked", zap.String("user_id", userID), zap.Int("count", len(keys)))
	return len(keys), nil
}
