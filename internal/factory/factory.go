// Package factory manages the lifecycle of every application dependency:
// storage clients, managers, repositories, the detection pipeline and the
// notification fan-out.
package factory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"securehealth/internal/agent"
	"securehealth/internal/bucketing"
	"securehealth/internal/client"
	"securehealth/internal/config"
	"securehealth/internal/detect"
	"securehealth/internal/encryption"
	"securehealth/internal/handler"
	"securehealth/internal/hashing"
	"securehealth/internal/notify"
	chrepo "securehealth/internal/repository/clickhouse"
	redisrepo "securehealth/internal/repository/redis"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/service"
	"securehealth/internal/threat"
	"securehealth/internal/util"
)

// Factory creates and owns all application dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	userRepository    scylla.UserRepository
	patientRepository scylla.PatientRepository
	alertRepository   scylla.AlertRepository
	commandRepository scylla.CommandRepository
	eventRepository   chrepo.EventRepository
	actorCache        *redisrepo.ActorCache

	// Services and pipeline
	userService    *service.UserService
	patientService *service.PatientService
	eventService   *service.EventService
	hub            *notify.Hub
	broadcaster    *notify.AlertBroadcaster
	modelProvider  *detect.ModelProvider
	scorer         *detect.Scorer
	engine         *threat.Engine
	queryAgent     *agent.PrivacyQueryAgent

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration, initializes the logger and brings up every
// client with a health check.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("scorer_available", f.Scorer().Available()),
	)

	return f, nil
}

// initializeClients initializes all external service clients with health
// checks. In development a failed backend degrades to a warning so the
// pipeline can run against partial infrastructure.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if c, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// ClickHouse
	if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = c
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// Kafka: broadcast leg only, never a startup blocker
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch: search leg only, never a startup blocker
	if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without alert search", util.ErrorField(err))
	} else {
		f.esClient = c
		util.Info("Elasticsearch client initialized and healthy")
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

// initializeManagers initializes hashing, encryption and bucketing managers.
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config - falling back to local encryption keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms_client", f.config.KMS.Enabled),
	)
}

// ==============================
// Repositories
// ==============================

func (f *Factory) UserRepository() scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient)
	}
	return f.userRepository
}

func (f *Factory) PatientRepository() scylla.PatientRepository {
	if f.patientRepository == nil {
		f.patientRepository = scylla.NewPatientRepository(f.scyllaClient)
	}
	return f.patientRepository
}

func (f *Factory) AlertRepository() scylla.AlertRepository {
	if f.alertRepository == nil {
		f.alertRepository = scylla.NewAlertRepository(f.scyllaClient)
	}
	return f.alertRepository
}

func (f *Factory) CommandRepository() scylla.CommandRepository {
	if f.commandRepository == nil {
		f.commandRepository = scylla.NewCommandRepository(f.scyllaClient)
	}
	return f.commandRepository
}

func (f *Factory) EventRepository() chrepo.EventRepository {
	if f.eventRepository == nil {
		f.eventRepository = chrepo.NewEventRepository(f.clickhouseClient)
	}
	return f.eventRepository
}

func (f *Factory) ActorCache() *redisrepo.ActorCache {
	if f.actorCache == nil && f.redisClient != nil {
		f.actorCache = redisrepo.NewActorCache(f.redisClient, util.Get())
	}
	return f.actorCache
}

// ==============================
// Services and pipeline
// ==============================

func (f *Factory) UserService() *service.UserService {
	if f.userService == nil {
		f.userService = service.NewUserService(
			f.UserRepository(), f.ActorCache(), f.hasher, f.bucketingManager, util.Get())
	}
	return f.userService
}

func (f *Factory) PatientService() *service.PatientService {
	if f.patientService == nil {
		f.patientService = service.NewPatientService(
			f.PatientRepository(), f.encryptionManager, f.bucketingManager, util.Get())
	}
	return f.patientService
}

func (f *Factory) EventService() *service.EventService {
	if f.eventService == nil {
		f.eventService = service.NewEventService(
			f.EventRepository(), f.bucketingManager, util.Get())
	}
	return f.eventService
}

func (f *Factory) Hub() *notify.Hub {
	if f.hub == nil {
		f.hub = notify.NewHub(util.Get())
	}
	return f.hub
}

func (f *Factory) Broadcaster() *notify.AlertBroadcaster {
	if f.broadcaster == nil {
		f.broadcaster = notify.NewAlertBroadcaster(
			f.Hub(), f.kafkaProducer, f.config.Kafka.AlertTopic, util.Get())
	}
	return f.broadcaster
}

func (f *Factory) ModelProvider() *detect.ModelProvider {
	if f.modelProvider == nil {
		d := f.config.Detection
		f.modelProvider = detect.NewModelProvider(
			filepath.Clean(d.ModelDir), d.ScalerFile, d.ClassifierFile, util.Get())
	}
	return f.modelProvider
}

func (f *Factory) Scorer() *detect.Scorer {
	if f.scorer == nil {
		f.scorer = detect.NewScorer(f.ModelProvider(), util.Get())
	}
	return f.scorer
}

func (f *Factory) Engine() *threat.Engine {
	if f.engine == nil {
		f.engine = threat.NewEngine(
			f.UserService(),
			f.EventRepository(),
			f.PatientRepository(),
			f.AlertRepository(),
			f.CommandRepository(),
			f.Broadcaster(),
			f.alertIndexer(),
			f.Scorer(),
			f.config.Detection,
			util.Get(),
		)
	}
	return f.engine
}

// alertIndexer returns nil (not a typed nil wrapped in an interface) when
// Elasticsearch is down so the engine skips indexing cleanly.
func (f *Factory) alertIndexer() threat.AlertIndexer {
	if f.esClient == nil {
		return nil
	}
	return f.esClient
}

func (f *Factory) QueryAgent() *agent.PrivacyQueryAgent {
	if f.queryAgent == nil {
		assistant := agent.NewGeminiAssistant(f.config.Assistant, util.Get())
		f.queryAgent = agent.NewPrivacyQueryAgent(
			f.UserRepository(),
			f.PatientRepository(),
			f.CommandRepository(),
			assistant,
			f.bucketingManager,
			util.Get(),
		)
	}
	return f.queryAgent
}

// Handlers wires the full HTTP surface.
func (f *Factory) Handlers() handler.Handlers {
	return handler.Handlers{
		Threat:   handler.NewThreatHandler(f.Engine(), f.UserService(), util.Get()),
		Users:    handler.NewUserHandler(f.UserService(), util.Get()),
		Patients: handler.NewPatientHandler(f.PatientService(), util.Get()),
		Alerts:   handler.NewAlertHandler(f.AlertRepository(), f.esClient, util.Get()),
		Logs:     handler.NewLogHandler(f.EventService(), util.Get()),
		Agents:   handler.NewAgentHandler(f.QueryAgent(), f.CommandRepository(), util.Get()),
		Hub:      f.Hub(),
	}
}

// ==============================
// Health checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// IsHealthy ignores the best-effort legs (kafka, elasticsearch).
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.hub != nil {
			f.hub.Stop()
			util.Info("WebSocket hub stopped")
		}

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
