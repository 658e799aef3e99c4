package service

import (
	"sms-auth-service/internal/audit"
	"sms-auth-service/internal/config"
	"sms-auth-service/internal/hashing"
	"sms-auth-service/internal/repository/scylla"
	"sms-auth-service/internal/sms"
	"sms-auth-service/internal/token"
)

// ServiceFactory creates and caches service instances.
type ServiceFactory struct {
	codes    VerificationStore
	sessions SessionStore
	users    scylla.UserStore
	tokens   *token.Generator
	hasher   *hashing.Hasher
	notifier sms.Sender
	recorder audit.Recorder
	config   *config.Config

	authService *AuthService
}

func NewServiceFactory(
	codes VerificationStore,
	sessions SessionStore,
	users scylla.UserStore,
	tokens *token.Generator,
	hasher *hashing.Hasher,
	notifier sms.Sender,
	recorder audit.Recorder,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
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

// AuthService returns the auth service instance (singleton).
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.codes,
			f.sessions,
			f.users,
			f.tokens,
			f.hasher,
			f.notifier,
			f.recorder,
			f.config,
		)
	}
	return f.authService
}
