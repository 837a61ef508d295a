package app

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	platformkafka "github.com/artloft/gallery/platform/kafka"
	platformlogging "github.com/artloft/gallery/platform/logging"
	platformobservability "github.com/artloft/gallery/platform/observability"
	platformshutdown "github.com/artloft/gallery/platform/shutdown"

	httpapi "github.com/artloft/gallery/internal/api/http"
	cartredis "github.com/artloft/gallery/internal/cart/redis"
	"github.com/artloft/gallery/internal/config"
	eventkafka "github.com/artloft/gallery/internal/event/kafka"
	"github.com/artloft/gallery/internal/gateway"
	inventorymongo "github.com/artloft/gallery/internal/inventory/mongo"
	"github.com/artloft/gallery/internal/notifier/mailer"
	"github.com/artloft/gallery/internal/repository/postgres"
	"github.com/artloft/gallery/internal/service"
	"github.com/artloft/gallery/internal/webhook"
)

// App содержит все зависимости для запуска и корректного shutdown Gallery Service
type App struct {
	logger              *zap.Logger
	httpServer          *http.Server
	outboxDispatcher    *eventkafka.OutboxDispatcher
	fulfillmentConsumer *eventkafka.FulfillmentConsumer
	shutdownMgr         *platformshutdown.Manager
	readiness           func() bool
	wg                  sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Gallery Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "gallery",
		Env:         string(cfg.AppEnv),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Gallery service", zap.String("http_addr", cfg.HTTPAddr))

	// OpenTelemetry
	otelCfg := platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           "gallery",
		DeploymentEnvironment: string(cfg.AppEnv),
	}
	otelShutdown, err := platformobservability.Init(context.Background(), otelCfg)
	if err != nil {
		return nil, err
	}

	// Подключаемся к PostgreSQL
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	// Проверяем подключение к PostgreSQL
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	// Применяем миграции
	logger.Info("Applying database migrations")
	db, err := goose.OpenDBWithDriver("pgx", cfg.PostgresDSN)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer db.Close()

	if err := goose.Up(db, "migrations"); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Database migrations applied successfully")

	// Подключаемся к MongoDB (остатки товаров)
	logger.Info("Connecting to MongoDB", zap.String("db", cfg.MongoDBName))
	ctxMongo, cancelMongo := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelMongo()

	mongoClient, err := mongo.Connect(ctxMongo, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Проверяем подключение к MongoDB
	if err := mongoClient.Ping(ctxMongo, nil); err != nil {
		mongoClient.Disconnect(ctxMongo)
		pool.Close()
		return nil, err
	}
	logger.Info("MongoDB connection established")

	// Подключаемся к Redis (корзины покупателей)
	logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   0,
	})

	ctxRedis, cancelRedis := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRedis()
	if err := redisClient.Ping(ctxRedis).Err(); err != nil {
		mongoClient.Disconnect(context.Background())
		pool.Close()
		return nil, err
	}
	logger.Info("Redis connection established")

	// Kafka конфигурация
	kafkaCfg := platformkafka.DefaultConfig()
	if err := platformkafka.LoadEnv(&kafkaCfg); err != nil {
		redisClient.Close()
		mongoClient.Disconnect(context.Background())
		pool.Close()
		return nil, err
	}

	// Функция readiness для health check
	readiness := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return false
		}
		return true
	}

	readiness() // Первая проверка
	logger.Info("Readiness check enabled")

	// Репозитории
	orderRepo := postgres.NewRepository(pool)
	inventoryLedger := inventorymongo.NewLedger(mongoClient, cfg.MongoDBName)
	cartStore := cartredis.NewCartStore(redisClient, logger)

	// Клиент платёжного шлюза и верификатор webhook подписей
	gatewayClient := gateway.NewHTTPClient(logger, cfg.GatewayURL, cfg.GatewayAPIKey)
	verifier := webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	// Уведомления покупателям и алерты операторам
	dispatcher := mailer.NewMailer(logger, cfg.MailAPIURL, cfg.MailAPIKey, cfg.AlertEmail)

	// Service слой
	checkoutService := service.NewCheckoutService(logger, orderRepo, inventoryLedger, gatewayClient, cfg.Currency)
	engine := service.NewEngine(logger, orderRepo, inventoryLedger, cartStore, dispatcher, kafkaCfg.OrderEventsTopic)

	// Kafka: outbox dispatcher, DLQ и fulfillment consumer
	outboxDispatcher := eventkafka.NewOutboxDispatcher(
		logger,
		orderRepo,
		kafkaCfg.Brokers,
		cfg.OutboxBatchSize,
		cfg.OutboxInterval,
		cfg.OutboxMaxRetries,
		cfg.OutboxBackoff,
	)

	dlqPublisher := eventkafka.NewDLQPublisher(logger, kafkaCfg.Brokers, kafkaCfg.DLQTopic)

	fulfillmentConsumer := eventkafka.NewFulfillmentConsumer(
		logger,
		kafkaCfg.Brokers,
		kafkaCfg.FulfillmentTopic,
		kafkaCfg.FulfillmentGroupID,
		engine,
		dlqPublisher,
		cfg.ConsumerMaxRetries,
		cfg.ConsumerBackoff,
	)

	// HTTP handler и роутер
	handler := httpapi.NewHandler(logger, checkoutService, engine, verifier)
	router := httpapi.NewRouter(handler, readiness, logger)

	// Создаём HTTP сервер
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Создаём shutdown manager
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
	shutdownMgr.Add("mongo_client", platformshutdown.DisconnectMongo(mongoClient))
	shutdownMgr.Add("redis_client", platformshutdown.Close(redisClient))
	shutdownMgr.Add("kafka_dlq_publisher", platformshutdown.Close(dlqPublisher))
	shutdownMgr.Add("kafka_fulfillment_consumer", platformshutdown.Close(fulfillmentConsumer))
	shutdownMgr.Add("kafka_outbox_dispatcher", platformshutdown.Close(outboxDispatcher))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:              logger,
		httpServer:          httpServer,
		outboxDispatcher:    outboxDispatcher,
		fulfillmentConsumer: fulfillmentConsumer,
		shutdownMgr:         shutdownMgr,
		readiness:           readiness,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Gallery service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	// Контекст для фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Запускаем outbox dispatcher в отдельной горутине
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.outboxDispatcher.Start(ctx); err != nil {
			a.logger.Error("outbox dispatcher error", zap.Error(err))
		}
	}()

	// Запускаем fulfillment consumer в отдельной горутине
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.fulfillmentConsumer.Start(ctx); err != nil {
			a.logger.Error("kafka fulfillment consumer error", zap.Error(err))
		}
	}()

	a.logger.Info("Background workers started")

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	// Отменяем контекст воркеров
	cancel()

	a.wg.Wait()
	a.logger.Info("Gallery service stopped")
	return nil
}
