package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sms-auth-service/internal/bucketing"
	"sms-auth-service/internal/encryption"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/util"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrPhoneAlreadyRegistered = errors.New("phone already registered")
)

// UserRepository stores users across two tables: users keyed by
// (user_bucket, user_id) and phone_to_user mapping a phone hash to its
// owner. The mapping insert uses a LWT so concurrent registrations of
// the same phone produce exactly one user.
type UserRepository struct {
	client     *ScyllaClient
	encryption *encryption.Manager
	bucketing  *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, enc *encryption.Manager, buckets *bucketing.Manager) *UserRepository {
	return &UserRepository{
		client:     client,
		encryption: enc,
		bucketing:  buckets,
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.bucketing.UserBucket(user.UserID)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := r.sealPhone(ctx, user); err != nil {
		return err
	}

	// Claim the phone hash first. If another request won the race the
	// LWT is not applied and no user row is written.
	var existingHash string
	var existingBucket int
	var existingID string
	var existingCreated time.Time
	applied, err := r.client.Query(ctx, r.client.Stmts.CreatePhoneToUser,
		user.PhoneHash, user.UserBucket, user.UserID, user.CreatedAt).
		ScanCAS(&existingHash, &existingBucket, &existingID, &existingCreated)
	if err != nil {
		util.Error("Failed to claim phone mapping",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to claim phone mapping: %w", err)
	}
	if !applied {
		return ErrPhoneAlreadyRegistered
	}

	err = r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.CreateUser,
		user.UserBucket, user.UserID, user.PhoneHash, user.PhoneEncrypted,
		user.PhoneKeyID, user.Verified, string(user.Role),
		user.CreatedAt, user.UpdatedAt, user.LastLogin), 3)
	if err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket),
		zap.String("role", string(user.Role)))

	return nil
}

func (r *UserRepository) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	var bucket int
	var userID string

	query := r.client.Query(ctx, r.client.Stmts.GetUserByPhone, phoneHash)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to look up phone mapping", zap.Error(err))
		return nil, fmt.Errorf("failed to look up phone mapping: %w", err)
	}

	return r.getUser(ctx, bucket, userID)
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getUser(ctx, r.bucketing.UserBucket(userID), userID)
}

func (r *UserRepository) getUser(ctx context.Context, bucket int, userID string) (*models.User, error) {
	user := &models.User{}
	var role string

	query := r.client.Query(ctx, r.client.Stmts.GetUserByID, bucket, userID)
	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted,
		&user.PhoneKeyID, &user.Verified, &role,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Role = models.Role(role)

	if err := r.openPhone(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (r *UserRepository) UpdateVerified(ctx context.Context, userID string, verified bool) error {
	bucket := r.bucketing.UserBucket(userID)
	now := time.Now().UTC()

	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateVerified,
		verified, now, bucket, userID), 3)
	if err != nil {
		util.Error("Failed to update verified flag",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update verified flag: %w", err)
	}

	util.Info("User verified flag updated",
		zap.String("user_id", userID),
		zap.Bool("verified", verified))
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	bucket := r.bucketing.UserBucket(userID)
	now := time.Now().UTC()

	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateRole,
		string(role), now, bucket, userID), 3)
	if err != nil {
		util.Error("Failed to update role",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update role: %w", err)
	}

	util.Info("User role updated",
		zap.String("user_id", userID),
		zap.String("role", string(role)))
	return nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	bucket := r.bucketing.UserBucket(userID)

	err := r.client.ExecuteWithRetry(r.client.Query(ctx, r.client.Stmts.UpdateLastLogin,
		at, bucket, userID), 3)
	if err != nil {
		util.Error("Failed to update last login",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

// sealPhone replaces the in-memory phone with its encrypted envelope.
func (r *UserRepository) sealPhone(ctx context.Context, user *models.User) error {
	if user.Phone == "" {
		return nil
	}

	envelope, err := r.encryption.EncryptField(ctx, user.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	blob, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode phone envelope: %w", err)
	}

	user.PhoneEncrypted = blob
	user.PhoneKeyID = envelope.KeyID
	return nil
}

// openPhone restores the plaintext phone from the stored envelope.
func (r *UserRepository) openPhone(ctx context.Context, user *models.User) error {
	if len(user.PhoneEncrypted) == 0 {
		return nil
	}

	var envelope encryption.EncryptedData
	if err := json.Unmarshal(user.PhoneEncrypted, &envelope); err != nil {
		return fmt.Errorf("failed to decode phone envelope: %w", err)
	}

	phone, err := r.encryption.DecryptField(ctx, &envelope)
	if err != nil {
		return fmt.Errorf("failed to decrypt phone: %w", err)
	}

	user.Phone = phone
	return nil
}
