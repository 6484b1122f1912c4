package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"livefeed-service/config"
	"livefeed-service/database"
	"livefeed-service/genai"
	"livefeed-service/pkg/business"
	"livefeed-service/pkg/common"
	"livefeed-service/pkg/feed"
	"livefeed-service/pkg/health"
	"livefeed-service/pkg/processing"
	"livefeed-service/services"
	"livefeed-service/web"
)

func main() {
	// 加载配置
	cfg := config.Load()
	common.SetLevel(cfg.LogLevel)
	logger := common.NewLogger("main")

	logger.Info("Starting live feed service (%s)...", cfg.Environment)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger common.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	checker := health.NewChecker(common.NewLogger("health"), 0)

	// 存储
	storage, db, err := openStorage(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		closers = append(closers, func() { db.Close() })
	}
	checker.RegisterPinger("storage", storage)

	// 事件总线
	bus, redisClient, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, func() { bus.Close() })
	if redisClient != nil {
		closers = append(closers, func() { redisClient.Close() })
	}
	checker.RegisterPinger("bus", bus)

	// 通知
	notifiers, closeNotifiers := buildNotifiers(cfg)
	closers = append(closers, closeNotifiers...)
	notificationService := business.NewNotificationService(common.NewLogger("notify"), notifiers...)
	notificationService.Start(ctx)
	closers = append(closers, notificationService.Stop)

	// 直播流水线
	validator := processing.NewSubmissionValidator(common.NewLogger("validator"))
	composer := business.NewComposer(common.NewLogger("composer"), validator, buildGenerator(ctx, cfg))
	publisher := business.NewPublisher(common.NewLogger("publisher"), storage, bus, notificationService)
	liveService := business.NewLiveService(common.NewLogger("live"), storage, composer, publisher)
	matchService := business.NewMatchService(common.NewLogger("matches"), storage)
	reader := feed.NewReader(common.NewLogger("feed"), storage, bus, cfg.FeedBacklog)

	// HTTP 服务
	server, err := web.NewServer(cfg, common.NewLogger("web"), matchService, liveService, reader, checker)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received %s, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	server.Stop()
	return nil
}

// openStorage returns the durable store, plus the pool when it is Postgres.
func openStorage(cfg *config.Config) (processing.DataStorage, *sql.DB, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger := common.NewLogger("storage")
		logger.Warn("Using in-memory storage, data is lost on restart")
		return processing.NewMemoryStorage(logger), nil, nil
	}

	// 连接数据库
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 运行数据库迁移
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return processing.NewPostgreSQLStorage(db, common.NewLogger("storage")), db, nil
}

// openBus uses Redis pub/sub when REDIS_URL is set so several instances share
// one feed; otherwise updates stay in process.
func openBus(ctx context.Context, cfg *config.Config) (processing.EventBus, *redis.Client, error) {
	logger := common.NewLogger("bus")
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process event bus")
		return processing.NewEventDispatcher(logger, processing.DefaultSubscriptionBuffer), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Using Redis event bus at %s", opts.Addr)
	return feed.NewRedisBus(client, logger, processing.DefaultSubscriptionBuffer), client, nil
}

// buildGenerator falls back to template commentary when no API key is set
// or the client cannot be built.
func buildGenerator(ctx context.Context, cfg *config.Config) business.TextGenerator {
	logger := common.NewLogger("genai")
	if cfg.GenerationAPIKey == "" {
		logger.Warn("GENERATION_API_KEY not set, using template commentary")
		return genai.NewTemplateGenerator()
	}
	client, err := genai.NewClient(ctx, genai.Config{
		BaseURL: cfg.GenerationAPIURL,
		APIKey:  cfg.GenerationAPIKey,
		Model:   cfg.GenerationModel,
		Timeout: cfg.GenerationTimeout,
	}, logger)
	if err != nil {
		logger.Warn("Generation client unavailable, using template commentary: %v", err)
		return genai.NewTemplateGenerator()
	}
	return client
}

// buildNotifiers creates the sinks named in NOTIFIERS. A sink that cannot be
// configured is skipped with a warning; it never blocks startup.
func buildNotifiers(cfg *config.Config) ([]business.Notifier, []func()) {
	logger := common.NewLogger("notify")

	var (
		notifiers []business.Notifier
		closers   []func()
	)

	if cfg.HasNotifier(config.NotifierAMQP) {
		if cfg.AMQPURL == "" {
			logger.Warn("amqp notifier requested but AMQP_URL is empty")
		} else {
			publisher := services.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, common.NewLogger("amqp"))
			if err := publisher.Connect(); err != nil {
				logger.Warn("AMQP not reachable yet, will retry on first event: %v", err)
			}
			notifiers = append(notifiers, services.NewBrokerNotifier(config.NotifierAMQP, cfg.AMQPExchange, publisher))
			closers = append(closers, func() { publisher.Close() })
		}
	}

	if cfg.HasNotifier(config.NotifierKafka) {
		if len(cfg.KafkaBrokers) == 0 {
			logger.Warn("kafka notifier requested but KAFKA_BROKERS is empty")
		} else {
			publisher := services.NewKafkaPublisher(cfg.KafkaBrokers, common.NewLogger("kafka"))
			notifiers = append(notifiers, services.NewBrokerNotifier(config.NotifierKafka, cfg.KafkaTopic, publisher))
			closers = append(closers, func() { publisher.Close() })
		}
	}

	if cfg.HasNotifier(config.NotifierMQTT) {
		if cfg.MQTTBroker == "" {
			logger.Warn("mqtt notifier requested but MQTT_BROKER is empty")
		} else {
			mqttNotifier := services.NewMQTTNotifier(cfg.MQTTBroker, cfg.MQTTUsername, cfg.MQTTPassword, common.NewLogger("mqtt"))
			if err := mqttNotifier.Connect(); err != nil {
				logger.Warn("MQTT connect failed, mqtt notifier disabled: %v", err)
			} else {
				notifiers = append(notifiers, mqttNotifier)
				closers = append(closers, mqttNotifier.Disconnect)
			}
		}
	}

	if cfg.HasNotifier(config.NotifierLark) {
		if cfg.LarkWebhook == "" {
			logger.Warn("lark notifier requested but LARK_WEBHOOK is empty")
		} else {
			notifiers = append(notifiers, services.NewLarkNotifier(cfg.LarkWebhook, common.NewLogger("lark")))
		}
	}

	if cfg.HasNotifier(config.NotifierMemory) {
		broker := services.NewInMemoryBroker(common.NewLogger("broker"))
		notifiers = append(notifiers, services.NewBrokerNotifier(config.NotifierMemory, "live-events", broker))
		closers = append(closers, func() { broker.Close() })
	}

	logger.Info("%d notification sinks configured", len(notifiers))
	return notifiers, closers
}
