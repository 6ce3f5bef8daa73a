package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-driven configuration for the SMS bridge.
type Config struct {
	Environment string
	ServiceName string
	Version     string

	Server     ServerConfig
	Onboarding OnboardingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Clickhouse ClickhouseConfig
	Kafka      KafkaConfig
	KMS        KMSConfig
	Hashing    HashingConfig
	Worker     WorkerConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
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

// OnboardingConfig controls onboarding behavior that is deployment policy
// rather than operator-tunable settings.
type OnboardingConfig struct {
	// ReregisterPolicy is "reuse" (hand the live token back) or "reissue"
	// (invalidate it and mint a new one).
	ReregisterPolicy string
	// BackupBuckets is the partition count for the durable backup table.
	BackupBuckets int
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
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// HashingConfig controls the PIN digest parameters (argon2id).
type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

// WorkerConfig holds defaults for the background workers. Interval values
// here are fallbacks; the active settings payload may override them at runtime.
type WorkerConfig struct {
	SyncEnabled            bool
	AuditEnabled           bool
	BlacklistEnabled       bool
	SyncInterval           time.Duration
	AuditInterval          time.Duration
	BlacklistInterval      time.Duration
	CounterPersistInterval time.Duration
	AbuseThreshold         int
	HTTPTimeout            time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment (and an optional .env
// file) exactly once and caches the result.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		// Missing .env is fine; containers inject real env vars.
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			ServiceName: getEnv("SERVICE_NAME", "sms-bridge"),
			Version:     getEnv("SERVICE_VERSION", "2.2.0"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Onboarding: OnboardingConfig{
				ReregisterPolicy: getEnv("REREGISTER_POLICY", "reuse"),
				BackupBuckets:    getEnvInt("BACKUP_BUCKETS", 64),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "sms_bridge"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "sms_bridge"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled: getEnvBool("KAFKA_ENABLED", false),
				Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
				Topic:   getEnv("KAFKA_EVENTS_TOPIC", "sms-bridge-events"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "ap-south-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			},
			Worker: WorkerConfig{
				SyncEnabled:            getEnvBool("SYNC_WORKER_ENABLED", true),
				AuditEnabled:           getEnvBool("AUDIT_WORKER_ENABLED", true),
				BlacklistEnabled:       getEnvBool("BLACKLIST_WORKER_ENABLED", true),
				SyncInterval:           getEnvDuration("SYNC_WORKER_INTERVAL", time.Second),
				AuditInterval:          getEnvDuration("AUDIT_WORKER_INTERVAL", 2*time.Minute),
				BlacklistInterval:      getEnvDuration("BLACKLIST_REFRESH_INTERVAL", 5*time.Minute),
				CounterPersistInterval: getEnvDuration("COUNTER_PERSIST_INTERVAL", time.Minute),
				AbuseThreshold:         getEnvInt("ABUSE_BLACKLIST_THRESHOLD", 10),
				HTTPTimeout:            getEnvDuration("OUTBOUND_HTTP_TIMEOUT", 10*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
