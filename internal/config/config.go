package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once at process start.
// Values are never mutated after LoadConfig returns.
type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	SMS           SMSConfig
	Auth          AuthConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	CAPath   string
	CertPath string
	KeyPath  string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type SMSConfig struct {
	Provider  string // "log" or "http"
	APIURL    string
	AccountID string
	AuthToken string
	From      string
}

// AuthConfig carries the credential-flow settings. The master code and the
// admin phone are process-wide secrets consumed only by the auth service.
type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	CodeTTL         time.Duration
	RefreshTTL      time.Duration
	MaxCodeAttempts int
	MasterCode      string
	AdminPhone      string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment (and an optional .env
// file). Missing required secrets are a fatal startup error.
func LoadConfig() (*Config, error) {
	// .env is optional; real deployments inject env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitAndTrim(getEnv("SCYLLA_NODES", "")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAPath:   getEnv("SCYLLA_CA_PATH", "/etc/certs/ca.pem"),
			CertPath: getEnv("SCYLLA_CERT_PATH", "/etc/certs/client.pem"),
			KeyPath:  getEnv("SCYLLA_KEY_PATH", "/etc/certs/client.key"),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "auth_analytics"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_AUTH_EVENTS_INDEX", "auth-security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "eu-west-1"),
		},
		SMS: SMSConfig{
			Provider:  getEnv("SMS_PROVIDER", "log"),
			APIURL:    getEnv("SMS_API_URL", ""),
			AccountID: getEnv("SMS_ACCOUNT_ID", ""),
			AuthToken: getEnv("SMS_AUTH_TOKEN", ""),
			From:      getEnv("SMS_FROM", ""),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", ""),
			JWTIssuer:       getEnv("JWT_ISSUER", "sms-auth-service"),
			AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			CodeTTL:         getEnvDuration("VERIFICATION_CODE_TTL", 300*time.Second),
			RefreshTTL:      getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			MaxCodeAttempts: getEnvInt("MAX_CODE_ATTEMPTS", 5),
			MasterCode:      getEnv("MASTER_CODE", ""),
			AdminPhone:      getEnv("ADMIN_PHONE", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getEnvInt("USER_BUCKETS", 128),
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Auth.MasterCode == "" {
		missing = append(missing, "MASTER_CODE")
	}
	if c.Auth.AdminPhone == "" {
		missing = append(missing, "ADMIN_PHONE")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(c.Scylla.Nodes) == 0 {
		missing = append(missing, "SCYLLA_NODES")
	}
	if c.SMS.Provider == "http" && c.SMS.APIURL == "" {
		missing = append(missing, "SMS_API_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the plain HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
