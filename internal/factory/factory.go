package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sms-bridge/internal/audit"
	"sms-bridge/internal/bucketing"
	"sms-bridge/internal/client"
	"sms-bridge/internal/config"
	"sms-bridge/internal/encryption"
	"sms-bridge/internal/events"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/metrics"
	"sms-bridge/internal/pipeline"
	chrepo "sms-bridge/internal/repository/clickhouse"
	redisrepo "sms-bridge/internal/repository/redis"
	"sms-bridge/internal/repository/scylla"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/tls"
	"sms-bridge/internal/util"
	"sms-bridge/internal/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	registry          *metrics.Registry
	emitter           *events.Emitter

	// Caches (Redis)
	onboardingCache *redisrepo.OnboardingCache
	queueCache      *redisrepo.QueueCache
	fraudCache      *redisrepo.FraudCache
	settingsCache   *redisrepo.SettingsCache

	// Repositories (Scylla / ClickHouse)
	settingsRepo  *scylla.SettingsRepository
	blacklistRepo *scylla.BlacklistRepository
	backupRepo    *scylla.BackupRepository
	counterRepo   *scylla.CounterRepository
	auditRepo     *chrepo.AuditRepository

	settingsProvider *settings.Provider
	auditSink        *audit.Sink
	validator        *pipeline.Pipeline
	serviceFactory   *service.ServiceFactory

	// Workers
	syncWorker      *worker.SyncWorker
	auditWorker     *worker.AuditWorker
	blacklistWorker *worker.BlacklistWorker
	workerManager   *worker.Manager

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeRepositories()
	factory.initializeWorkers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is optional: the bridge works without the event stream.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.registry = metrics.NewRegistry()
	f.emitter = events.NewEmitter(f.kafkaProducer)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config - falling back to local data keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config.Onboarding.BackupBuckets)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("kms_client_attached", kmsClient != nil),
		util.Int("backup_buckets", f.bucketingManager.Buckets()),
	)
}

// initializeRepositories wires the cache and table layers plus everything
// built directly on them.
func (f *Factory) initializeRepositories() {
	f.onboardingCache = redisrepo.NewOnboardingCache(f.redisClient)
	f.queueCache = redisrepo.NewQueueCache(f.redisClient)
	f.fraudCache = redisrepo.NewFraudCache(f.redisClient)
	f.settingsCache = redisrepo.NewSettingsCache(f.redisClient)

	f.settingsRepo = scylla.NewSettingsRepository(f.scyllaClient, util.Get())
	f.blacklistRepo = scylla.NewBlacklistRepository(f.scyllaClient, util.Get())
	f.backupRepo = scylla.NewBackupRepository(f.scyllaClient, util.Get())
	f.counterRepo = scylla.NewCounterRepository(f.scyllaClient, util.Get())
	f.auditRepo = chrepo.NewAuditRepository(f.clickhouseClient, util.Get())

	f.settingsProvider = settings.NewProvider(f.settingsCache, f.settingsRepo)
	f.auditSink = audit.NewSink(f.queueCache)
	f.validator = pipeline.New(f.fraudCache, f.onboardingCache, f.auditSink)
}

func (f *Factory) initializeWorkers() {
	cfg := f.config.Worker
	outbound := &http.Client{Timeout: cfg.HTTPTimeout}

	f.syncWorker = worker.NewSyncWorker(
		f.queueCache,
		f.settingsProvider,
		outbound,
		f.registry,
		f.emitter,
		f.backupRepo,
		f.encryptionManager,
		f.bucketingManager,
		cfg.SyncInterval,
	)

	f.auditWorker = worker.NewAuditWorker(
		f.queueCache,
		f.auditRepo,
		f.counterRepo,
		f.registry,
		cfg.AuditInterval,
		cfg.CounterPersistInterval,
	)

	f.blacklistWorker = worker.NewBlacklistWorker(
		f.blacklistRepo,
		f.fraudCache,
		f.registry,
		f.emitter,
		int64(cfg.AbuseThreshold),
		cfg.BlacklistInterval,
	)

	f.workerManager = worker.NewManager(&f.config.Worker)
	if cfg.SyncEnabled {
		f.workerManager.Register("sync", f.syncWorker)
	}
	if cfg.AuditEnabled {
		f.workerManager.Register("audit", f.auditWorker)
	}
	if cfg.BlacklistEnabled {
		f.workerManager.Register("blacklist", f.blacklistWorker)
	}
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.onboardingCache,
			f.queueCache,
			f.queueCache,
			f.fraudCache,
			f.validator,
			f.settingsProvider,
			f.hasher,
			f.registry,
			f.emitter,
			f.auditSink,
			f.config.Onboarding.ReregisterPolicy,
			f.config.Worker.HTTPTimeout,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		healthErrors["redis"] = f.redisClient.HealthCheck(ctx)
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		healthErrors["scylla"] = f.scyllaClient.HealthCheck()
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		healthErrors["clickhouse"] = f.clickhouseClient.HealthCheck(ctx)
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		healthErrors["kafka"] = f.kafkaProducer.HealthCheck(ctx)
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	for name, err := range f.HealthCheck(ctx) {
		// Kafka is best-effort.
		if name == "kafka" {
			continue
		}
		if err != nil {
			return false
		}
	}
	return true
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) SettingsProvider() *settings.Provider {
	return f.settingsProvider
}

func (f *Factory) Registry() *metrics.Registry {
	return f.registry
}

func (f *Factory) WorkerManager() *worker.Manager {
	return f.workerManager
}

func (f *Factory) AuditWorker() *worker.AuditWorker {
	return f.auditWorker
}

func (f *Factory) BlacklistWorker() *worker.BlacklistWorker {
	return f.blacklistWorker
}
