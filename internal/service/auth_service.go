package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-auth-service/internal/audit"
	"sms-auth-service/internal/config"
	"sms-auth-service/internal/hashing"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/repository/redis"
	"sms-auth-service/internal/repository/scylla"
	"sms-auth-service/internal/sms"
	"sms-auth-service/internal/token"
	"sms-auth-service/internal/util"
)

var (
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrCodeInvalidOrExpired = errors.New("code invalid or expired")
	ErrCodeInvalid          = errors.New("code invalid")
	ErrRefreshTokenInvalid  = errors.New("refresh token invalid")
	ErrUserNotFound         = errors.New("user not found")
	ErrMasterCodeInvalid    = errors.New("master code invalid")
)

// VerificationStore holds pending codes, one per phone, expiring on
// their own.
type VerificationStore interface {
	SetCode(ctx context.Context, phone string, rec models.VerificationRecord, ttl time.Duration) error
	GetRecord(ctx context.Context, phone string) (*models.VerificationRecord, error)
	Delete(ctx context.Context, phone string) error
	IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int, error)
}

// SessionStore holds refresh sessions. Redeem consumes the token.
type SessionStore interface {
	Create(ctx context.Context, token string, sess models.RefreshSession, ttl time.Duration) error
	Redeem(ctx context.Context, token string) (*models.RefreshSession, error)
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// AuthService implements the verification and login flows on top of the
// code store, the session store and the identity store.
type AuthService struct {
	codes    VerificationStore
	sessions SessionStore
	users    scylla.UserStore
	tokens   *token.Generator
	hasher   *hashing.Hasher
	notifier sms.Sender
	recorder audit.Recorder
	config   *config.Config
}

// TokenPair carries the credentials returned by the login flows.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	User         *models.User
}

func NewAuthService(
	codes VerificationStore,
	sessions SessionStore,
	users scylla.UserStore,
	tokens *token.Generator,
	hasher *hashing.Hasher,
	notifier sms.Sender,
	recorder audit.Recorder,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		codes:    codes,
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		recorder: recorder,
		config:   cfg,
	}
}

// Register generates a fresh verification code for the phone and sends
// it by SMS. The code is persisted before the send so a delivered
// message always has a usable code behind it. Re-registering replaces
// any earlier code.
func (s *AuthService) Register(ctx context.Context, phone, ip string) error {
	phone, err := s.normalize(phone)
	if err != nil {
		return err
	}

	code, err := s.tokens.GenerateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := s.hasher.HashCode(code)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	rec := models.VerificationRecord{
		CodeHash:  codeHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.codes.SetCode(ctx, phone, rec, s.config.Auth.CodeTTL); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	body := fmt.Sprintf("Tu codigo de verificacion es: %s", code)
	if err := s.notifier.Send(ctx, phone, body); err != nil {
		s.audit(ctx, models.EventCodeSendFailed, "", phone, ip, err.Error())
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	s.audit(ctx, models.EventCodeSent, "", phone, ip, "")
	util.Info("verification code sent", zap.String("phone_hash", hashing.PhoneHash(phone)))
	return nil
}

// Verify consumes the pending code for the phone. Nothing durable is
// written; the client is expected to follow with Login.
func (s *AuthService) Verify(ctx context.Context, phone, code, ip string) error {
	phone, err := s.normalize(phone)
	if err != nil {
		return err
	}

	if err := s.compareAndConsume(ctx, phone, code); err != nil {
		if errors.Is(err, redis.ErrCodeNotFound) {
			s.audit(ctx, models.EventCodeRejected, "", phone, ip, "")
			return ErrCodeInvalidOrExpired
		}
		return fmt.Errorf("failed to check verification code: %w", err)
	}

	s.audit(ctx, models.EventCodeVerified, "", phone, ip, "")
	return nil
}

// Login consumes the pending code, finds or creates the identity for
// the phone, and issues an access/refresh token pair.
func (s *AuthService) Login(ctx context.Context, phone, code, ip string) (*TokenPair, error) {
	phone, err := s.normalize(phone)
	if err != nil {
		return nil, err
	}

	if err := s.compareAndConsume(ctx, phone, code); err != nil {
		if errors.Is(err, redis.ErrCodeNotFound) {
			s.audit(ctx, models.EventLoginRejected, "", phone, ip, "")
			return nil, ErrCodeInvalid
		}
		return nil, fmt.Errorf("failed to check login code: %w", err)
	}

	user, err := s.findOrCreateUser(ctx, phone, models.RoleStandard)
	if err != nil {
		return nil, err
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		util.Warn("failed to update last login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}
	user.LastLogin = &now

	s.audit(ctx, models.EventLoginSucceeded, user.UserID, phone, ip, "")
	return pair, nil
}

// RefreshAccess rotates a refresh token. The presented token is
// consumed whether or not the rest of the flow succeeds.
func (s *AuthService) RefreshAccess(ctx context.Context, refreshToken, ip string) (*TokenPair, error) {
	sess, err := s.sessions.Redeem(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, redis.ErrSessionNotFound) {
			s.audit(ctx, models.EventRefreshRejected, "", "", ip, "")
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			s.audit(ctx, models.EventRefreshRejected, sess.UserID, "", ip, "owner missing")
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load session owner: %w", err)
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.EventTokenRefreshed, user.UserID, user.Phone, ip, "")
	return pair, nil
}

// MasterAccess grants admin credentials when the configured master code
// is presented. The admin identity is created on first use and its role
// is forced to admin on every grant.
func (s *AuthService) MasterAccess(ctx context.Context, code, ip string) (*TokenPair, error) {
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.config.Auth.MasterCode)) != 1 {
		s.audit(ctx, models.EventMasterAccessDenied, "", "", ip, "")
		return nil, ErrMasterCodeInvalid
	}

	adminPhone, err := util.NormalizePhone(s.config.Auth.AdminPhone)
	if err != nil {
		return nil, fmt.Errorf("admin phone misconfigured: %w", err)
	}

	user, err := s.findOrCreateUser(ctx, adminPhone, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	if user.Role != models.RoleAdmin {
		if err := s.users.UpdateRole(ctx, user.UserID, models.RoleAdmin); err != nil {
			return nil, fmt.Errorf("failed to promote admin identity: %w", err)
		}
		user.Role = models.RoleAdmin
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.EventMasterAccessGranted, user.UserID, user.Phone, ip, "")
	return pair, nil
}

// Logout revokes every refresh session of the user. Outstanding access
// tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID, ip string) error {
	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.audit(ctx, models.EventLogout, userID, "", ip, fmt.Sprintf("%d sessions revoked", n))
	util.Info("user logged out",
		zap.String("user_id", userID),
		zap.Int("sessions_revoked", n))
	return nil
}

// GetUserByID exposes identity lookup to the access guard.
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) normalize(phone string) (string, error) {
	normalized, err := util.NormalizePhone(phone)
	if err != nil {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}

// compareAndConsume matches the submitted code against the stored hash
// and deletes the record on success. Every attempt counts toward the
// per-phone limit; hitting the limit burns the code.
func (s *AuthService) compareAndConsume(ctx context.Context, phone, code string) error {
	rec, err := s.codes.GetRecord(ctx, phone)
	if err != nil {
		return err
	}

	attempts, err := s.codes.IncrementAttempts(ctx, phone, s.config.Auth.CodeTTL)
	if err != nil {
		util.Warn("failed to count verification attempt", zap.Error(err))
	} else if attempts > s.config.Auth.MaxCodeAttempts {
		if delErr := s.codes.Delete(ctx, phone); delErr != nil {
			util.Warn("failed to burn over-tried code", zap.Error(delErr))
		}
		return redis.ErrCodeNotFound
	}

	ok, err := s.hasher.VerifyCode(code, rec.CodeHash)
	if err != nil {
		return fmt.Errorf("failed to compare code: %w", err)
	}
	if !ok {
		return redis.ErrCodeNotFound
	}

	if err := s.codes.Delete(ctx, phone); err != nil {
		util.Warn("failed to delete consumed code", zap.Error(err))
	}
	return nil
}

// findOrCreateUser resolves the identity for a phone, creating it with
// the given role when absent. A losing LWT race falls back to reading
// the winner's row.
func (s *AuthService) findOrCreateUser(ctx context.Context, phone string, role models.Role) (*models.User, error) {
	phoneHash := hashing.PhoneHash(phone)

	user, err := s.users.GetUserByPhoneHash(ctx, phoneHash)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, scylla.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = &models.User{
		Phone:     phone,
		PhoneHash: phoneHash,
		Verified:  false,
		Role:      role,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, scylla.ErrPhoneAlreadyRegistered) {
			return s.users.GetUserByPhoneHash(ctx, phoneHash)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit(ctx, models.EventUserCreated, user.UserID, phone, "", string(role))
	return user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*TokenPair, error) {
	accessToken, err := s.tokens.IssueAccessToken(user.UserID, user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	sess := models.RefreshSession{
		UserID:    user.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, refreshToken, sess, s.config.Auth.RefreshTTL); err != nil {
		return nil, fmt.Errorf("failed to create refresh session: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

func (s *AuthService) audit(ctx context.Context, eventType, userID, phone, ip, details string) {
	if s.recorder == nil {
		return
	}

	event := models.SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		IPAddress: ip,
		Details:   details,
	}
	if phone != "" {
		event.PhoneHash = hashing.PhoneHash(phone)
	}
	s.recorder.Record(ctx, event)
}
