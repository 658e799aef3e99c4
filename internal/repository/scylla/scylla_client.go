package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

// Statements holds the CQL used by the user repository. The driver
// prepares and caches each statement server side on first execution;
// a fresh query is built per call so concurrent requests never share
// bound values.
type Statements struct {
	CreateUser        string
	CreatePhoneToUser string
	GetUserByPhone    string
	GetUserByID       string
	UpdateVerified    string
	UpdateRole        string
	UpdateLastLogin   string
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
	Stmts   *Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
		Stmts:   buildStatements(),
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func buildStatements() *Statements {
	return &Statements{
		CreateUser: `
        INSERT INTO users (
            user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
            verified, role, created_at, updated_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		// LWT insert so a phone hash maps to exactly one user
		CreatePhoneToUser: `
        INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,

		GetUserByPhone: `
        SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`,

		GetUserByID: `
        SELECT user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
            verified, role, created_at, updated_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`,

		UpdateVerified: `
        UPDATE users SET verified = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		UpdateRole: `
        UPDATE users SET role = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		UpdateLastLogin: `
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`,
	}
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// Query builds a fresh query for stmt bound to ctx. Queries must not
// be shared between goroutines once values are bound.
func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			if err == gocql.ErrNotFound {
				return err
			}
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
