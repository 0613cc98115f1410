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

// Config holds every runtime setting for the service. Loaded once from the
// environment (plus optional .env) and shared through Get().
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Scylla     ScyllaConfig
	Clickhouse ClickhouseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	Hashing    HashingConfig
	Bucketing  BucketingConfig
	Detection  DetectionConfig
	Assistant  AssistantConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
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

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

type ElasticConfig struct {
	URL        string
	Username   string
	Password   string
	AlertIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
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

// DetectionConfig carries the anomaly pipeline knobs: severity thresholds,
// scan lookback window and the model artifact locations.
type DetectionConfig struct {
	ScoreMedium    float64
	ScoreHigh      float64
	ScoreCritical  float64
	RapidAccessMin int
	Lookback       time.Duration
	ModelDir       string
	ScalerFile     string
	ClassifierFile string
}

type AssistantConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

var (
	cfg     *Config
	loadOne sync.Once
)

// LoadConfig reads configuration from the environment. A .env file is honored
// when present so local runs behave like the container deployment.
func LoadConfig() *Config {
	loadOne.Do(func() {
		_ = godotenv.Load()

		cfg = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8000),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(getEnv("SCYLLA_NODES", "127.0.0.1:9042")),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "securehealth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "securehealth"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:    splitList(getEnv("KAFKA_BROKERS", "127.0.0.1:9092")),
				AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "security.alerts"),
			},
			Elastic: ElasticConfig{
				URL:        getEnv("ELASTIC_URL", "http://127.0.0.1:9200"),
				Username:   getEnv("ELASTIC_USERNAME", ""),
				Password:   getEnv("ELASTIC_PASSWORD", ""),
				AlertIndex: getEnv("ELASTIC_ALERT_INDEX", "securehealth-alerts"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "ap-south-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 100),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 500),
			},
			Detection: DetectionConfig{
				ScoreMedium:    getEnvFloat("ANOMALY_MEDIUM", 0.4),
				ScoreHigh:      getEnvFloat("ANOMALY_HIGH", 0.7),
				ScoreCritical:  getEnvFloat("ANOMALY_CRITICAL", 0.9),
				RapidAccessMin: getEnvInt("RAPID_ACCESS_MIN", 10),
				Lookback:       getEnvDuration("SCAN_LOOKBACK", 2*time.Hour),
				ModelDir:       getEnv("MODEL_DIR", "ml_models"),
				ScalerFile:     getEnv("SCALER_FILE", "scaler.json"),
				ClassifierFile: getEnv("CLASSIFIER_FILE", "classifier.json"),
			},
			Assistant: AssistantConfig{
				APIKey:   getEnv("GEMINI_API_KEY", ""),
				Endpoint: getEnv("ASSISTANT_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"),
				Timeout:  getEnvDuration("ASSISTANT_TIMEOUT", 20*time.Second),
			},
		}
	})

	return cfg
}

// Get returns the loaded configuration, loading defaults if needed.
func Get() *Config {
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
