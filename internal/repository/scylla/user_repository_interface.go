package scylla

import (
	"context"
	"time"

	"sms-auth-service/internal/models"
)

// UserStore defines the persistence operations the auth flows need.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UpdateVerified(ctx context.Context, userID string, verified bool) error
	UpdateRole(ctx context.Context, userID string, role models.Role) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	HealthCheck(ctx context.Context) error
}
