package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	httpapi "wisefido-vitals/internal/http"
	"wisefido-vitals/internal/plugin"
	"wisefido-vitals/internal/plugins"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/transformer"
	"wisefido-vitals/internal/validator"
	"wisefido-vitals/pkg/database"
	"wisefido-vitals/pkg/mqtt"
	rediscommon "wisefido-vitals/pkg/redis"
)

// 健康快照 TTL：若干个检查周期内未刷新即过期
const healthSnapshotTTLFactor = 4

// VitalsService 生命体征接入服务：插件注册表 + Streams 消费 + HTTP API
type VitalsService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	readingsRepo *repository.VitalReadingsRepository
	registry     *plugin.Registry
	processor    *ReadingProcessor
	consumer     *consumer.StreamConsumer
	router       *httpapi.Router
	server       *Server
}

// NewVitalsService 连接外部依赖并组装服务
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	var db *sql.DB
	if cfg.DBEnabled {
		var err error
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		closeConnections(logger, db, redisClient, nil)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled {
		var err error
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			closeConnections(logger, db, redisClient, nil)
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
	}

	return newVitalsService(cfg, logger, db, redisClient, mqttClient), nil
}

// newVitalsService 用已建立的连接组装服务（db、mqttClient 可为 nil）
func newVitalsService(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client, mqttClient *mqtt.Client) *VitalsService {
	deps := plugins.Deps{}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	registry := plugin.NewRegistry(plugins.Builtin(deps), plugin.Options{
		Environment:          cfg.Environment,
		HealthInterval:       cfg.Plugins.HealthInterval,
		MaintenanceThreshold: cfg.Plugins.MaintenanceThreshold,
		PluginConfigs:        cfg.PluginConfigs(),
	}, logger)
	registry.SetEventSink(repository.NewPluginEventStream(redisClient, cfg.Streams.Events, logger))
	healthStore := repository.NewPluginHealthStore(redisClient, "",
		healthSnapshotTTLFactor*cfg.Plugins.HealthInterval, logger)
	registry.SetHealthSink(healthStore)

	tr := transformer.NewTransformer(logger)
	v := validator.NewValidator(logger)

	var readingsRepo *repository.VitalReadingsRepository
	var store ReadingStore
	var lister httpapi.ReadingLister
	if db != nil {
		readingsRepo = repository.NewVitalReadingsRepository(db, logger)
		store = readingsRepo
		lister = readingsRepo
	}

	processor := NewReadingProcessor(tr, v, store, redisClient, cfg.Streams.Output, cfg.DefaultAgeGroup, logger)
	streamConsumer := consumer.NewStreamConsumer(redisClient, consumer.Options{
		Stream:    cfg.Streams.Raw,
		Group:     cfg.ConsumerGroup,
		Consumer:  cfg.ConsumerName,
		BatchSize: cfg.BatchSize,
	}, processor, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterPluginRoutes(httpapi.NewPluginHandler(registry, processor, healthStore, logger))
	router.RegisterReadingRoutes(httpapi.NewReadingHandler(tr, v, lister, logger))
	router.RegisterPluginMount(httpapi.NewPluginMount(registry, cfg.APIToken, logger))
	router.RegisterDoctorRoutes(httpapi.NewDoctorHandler(db, redisClient, registry, logger))

	return &VitalsService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		readingsRepo: readingsRepo,
		registry:     registry,
		processor:    processor,
		consumer:     streamConsumer,
		router:       router,
		server:       NewServer(cfg.HTTP.Addr, router, logger),
	}
}

// Handler HTTP 路由
func (s *VitalsService) Handler() http.Handler {
	return s.router
}

// Registry 插件注册表
func (s *VitalsService) Registry() *plugin.Registry {
	return s.registry
}

// Start 加载插件、启动健康监控和 HTTP 服务，然后阻塞运行 Streams 消费者直到 ctx 取消
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service components")

	if s.readingsRepo != nil {
		if err := s.readingsRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	// 单个插件加载失败不影响其它插件
	if err := s.registry.LoadPlugins(ctx, s.config.Plugins.Enabled); err != nil {
		for _, e := range multierr.Errors(err) {
			s.logger.Error("Failed to load plugin", zap.Error(e))
		}
	}
	s.logger.Info("Plugins loaded", zap.Int("count", len(s.registry.GetLoadedPlugins())))

	if err := s.registry.StartHealthMonitor(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	return nil
}

// Stop 停止 HTTP 服务、卸载插件并关闭连接
func (s *VitalsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vitals service")

	var err error
	if e := s.server.Stop(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("http server: %w", e))
	}
	if e := s.registry.Shutdown(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("plugins: %w", e))
	}
	closeConnections(s.logger, s.db, s.redisClient, s.mqttClient)

	s.logger.Info("Vitals service stopped")
	return err
}

func closeConnections(logger *zap.Logger, db *sql.DB, redisClient *redis.Client, mqttClient *mqtt.Client) {
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		if err := rediscommon.Close(redisClient); err != nil {
			logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if db != nil {
		if err := database.Close(db); err != nil {
			logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
