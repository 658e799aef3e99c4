package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"sms-auth-service/internal/audit"
	"sms-auth-service/internal/bucketing"
	"sms-auth-service/internal/client"
	"sms-auth-service/internal/config"
	"sms-auth-service/internal/encryption"
	"sms-auth-service/internal/hashing"
	redisrepo "sms-auth-service/internal/repository/redis"
	"sms-auth-service/internal/repository/scylla"
	"sms-auth-service/internal/service"
	"sms-auth-service/internal/sms"
	"sms-auth-service/internal/tls"
	"sms-auth-service/internal/token"
	"sms-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        *kms.Client

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	tokenGenerator    *token.Generator
	notifier          sms.Sender
	recorder          audit.Recorder

	// Repositories
	userRepository    *scylla.UserRepository
	verificationCache *redisrepo.VerificationCache
	sessionCache      *redisrepo.SessionCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency.
// Optional subsystems (kafka, clickhouse, elasticsearch) degrade to
// warnings in development and are fatal in production.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeManagers()
	f.initializeRepositories()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis and Scylla are required. Everything behind a code or a
	// session lives there.
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}

	var optErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			optErrors = append(optErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			optErrors = append(optErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			optErrors = append(optErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		f.kmsClient = kms.NewFromConfig(awsCfg)
	}

	if len(optErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("audit sink initialization failed: %v", optErrors)
		}
		for _, err := range optErrors {
			util.Warn("Optional subsystem unavailable", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.encryptionManager = encryption.NewManager(f.config, f.kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)
	f.tokenGenerator = token.NewGenerator(
		f.config.Auth.JWTSecret,
		f.config.Auth.JWTIssuer,
		f.config.Auth.AccessTokenTTL,
	)
	f.notifier = sms.NewSender(f.config)

	if f.kafkaProducer != nil || f.clickhouseClient != nil || f.esClient != nil {
		f.recorder = audit.NewMultiRecorder(
			f.config,
			f.kafkaProducer,
			f.clickhouseClient,
			f.esClient,
			f.bucketingManager,
		)
	} else {
		f.recorder = audit.Noop{}
		util.Warn("No audit sinks configured, security events are discarded")
	}
}

func (f *Factory) initializeRepositories() {
	f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.encryptionManager, f.bucketingManager)
	f.verificationCache = redisrepo.NewVerificationCache(f.redisClient)
	f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.verificationCache,
			f.sessionCache,
			f.userRepository,
			f.tokenGenerator,
			f.hasher,
			f.notifier,
			f.recorder,
			f.config,
		)
	}
	return f.serviceFactory
}

func (f *Factory) AuthService() *service.AuthService {
	return f.ServiceFactory().AuthService()
}

// HealthCheck reports the state of every dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.redisClient.HealthCheck(ctx); err != nil {
		healthErrors["redis"] = err
	}
	if err := f.scyllaClient.HealthCheck(); err != nil {
		healthErrors["scylla"] = err
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) TokenGenerator() *token.Generator {
	return f.tokenGenerator
}
