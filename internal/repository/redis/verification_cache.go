package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-auth-service/internal/client"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/util"
)

const (
	verifyPrefix        = "verify:"
	verifyAttemptPrefix = "verify_attempts:"
)

// ErrCodeNotFound covers missing, consumed and TTL-expired codes alike; the
// store cannot and should not tell those apart.
var ErrCodeNotFound = errors.New("no verification code for phone")

// VerificationCache is the pending-code store. Redis owns expiry: a record
// becomes unusable the instant its TTL elapses, with no application clock
// checks involved.
type VerificationCache struct {
	client *client.RedisClient
}

func NewVerificationCache(client *client.RedisClient) *VerificationCache {
	return &VerificationCache{client: client}
}

// SetCode upserts the pending code for a phone. Plain SET keyed by phone is
// an atomic replace, so the last issued code always wins and at most one
// code per phone is ever live.
func (c *VerificationCache) SetCode(ctx context.Context, phone string, rec models.VerificationRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal verification record: %w", err)
	}

	key := verifyPrefix + phone
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to set verification code", zap.String("phone", phone), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to set verification code: %w", err)
	}

	// A fresh code resets the attempt budget
	if err := c.client.Del(ctx, verifyAttemptPrefix+phone); err != nil {
		util.Warn("Failed to reset verification attempts", zap.String("phone", phone), zap.Error(err))
	}

	util.Debug("Verification code cached", zap.String("phone", phone), zap.Duration("ttl", ttl))
	return nil
}

// GetRecord returns the pending record for a phone, or ErrCodeNotFound.
func (c *VerificationCache) GetRecord(ctx context.Context, phone string) (*models.VerificationRecord, error) {
	raw, err := c.client.Get(ctx, verifyPrefix+phone)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrCodeNotFound
		}
		util.Error("Failed to get verification code", zap.String("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}

	var rec models.VerificationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt verification record: %w", err)
	}
	return &rec, nil
}

// Delete consumes the code for a phone along with its attempt counter.
func (c *VerificationCache) Delete(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, verifyPrefix+phone, verifyAttemptPrefix+phone); err != nil {
		util.Error("Failed to delete verification code", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	util.Debug("Verification code deleted", zap.String("phone", phone))
	return nil
}

// IncrementAttempts bumps the failed-attempt counter for a phone. The
// counter expires together with the code window.
func (c *VerificationCache) IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int, error) {
	count, err := c.client.IncrWithExpire(ctx, verifyAttemptPrefix+phone, ttl)
	if err != nil {
		util.Error("Failed to increment verification attempts", zap.String("phone", phone), zap.Error(err))
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}
	return int(count), nil
}

// CodeTTL reports the remaining lifetime of the pending code for a phone.
func (c *VerificationCache) CodeTTL(ctx context.Context, phone string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, verifyPrefix+phone)
	if err != nil {
		return 0, fmt.Errorf("failed to get code TTL: %w", err)
	}
	return ttl, nil
}
