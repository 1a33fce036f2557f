package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/config"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/database"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/health"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/kafka"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/metrics"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/middleware"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	natspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nats"
	nrpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/newrelic"
	nsqpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nsq"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/server"
	"github.com/piresc/nebengjek-dispatch/services/trips/claim"
	"github.com/piresc/nebengjek-dispatch/services/trips/feed"
	"github.com/piresc/nebengjek-dispatch/services/trips/gateway"
	"github.com/piresc/nebengjek-dispatch/services/trips/geocode"
	"github.com/piresc/nebengjek-dispatch/services/trips/handler"
	"github.com/piresc/nebengjek-dispatch/services/trips/registry"
	"github.com/piresc/nebengjek-dispatch/services/trips/repository"
	"github.com/piresc/nebengjek-dispatch/services/trips/usecase"
	"go.uber.org/zap"
)

func main() {
	appName := "dispatch-service"
	configPath := config.GetEnv("CONFIG_PATH", "config/dispatch.env")
	configs := config.InitConfig(configPath)

	// Initialize New Relic and Zap logger
	nrApp := nrpkg.InitNewRelic(configs)
	if nrApp != nil {
		if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			log.Printf("Warning: New Relic connection timeout: %v", err)
		}
	}

	zapLogger, err := logger.InitZapLoggerFromConfig(configs, nrApp)
	if err != nil {
		log.Fatalf("Failed to create Zap logger: %v", err)
	}
	logger.SetGlobalLogger(zapLogger)

	zapLogger.Info("Starting application",
		zap.String("app", appName),
		zap.String("version", configs.App.Version),
		zap.String("environment", configs.App.Environment),
	)

	if configs.Database.AutoMigrate {
		if err := database.RunMigrations(configs.Database); err != nil {
			zapLogger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Initialize PostgreSQL database connection
	postgresClient, err := database.NewPostgresClient(configs.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	// Initialize Redis client
	redisClient, err := database.NewRedisClient(configs.Redis)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Initialize NATS
	natsClient, err := natspkg.NewClient(configs.NATS.URL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to NATS", zap.Error(err))
	}

	healthService := health.NewService()
	healthService.AddChecker("postgres", health.CheckerFunc(postgresClient.Ping))
	healthService.AddChecker("redis", health.CheckerFunc(redisClient.Ping))
	healthService.AddChecker("nats", health.CheckerFunc(func(context.Context) error {
		if !natsClient.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	}))

	// Optional audit and location sinks
	var audit gateway.AuditPublisher
	var nsqProducer *nsqpkg.Producer
	if configs.NSQ.Enabled {
		nsqProducer, err = nsqpkg.NewProducer(configs.NSQ.NSQDAddr)
		if err != nil {
			zapLogger.Warn("NSQ unavailable, trip audit disabled", zap.Error(err))
		} else {
			audit = nsqProducer
			healthService.AddChecker("nsq", health.CheckerFunc(func(context.Context) error {
				return nsqProducer.Ping()
			}))
		}
	}

	var locations gateway.LocationStream
	var kafkaProducer *kafka.Producer
	if configs.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(configs.Kafka.Brokers, configs.Kafka.LocationTopic)
		locations = kafkaProducer
	}

	geocoder := newGeocoder(configs, redisClient)

	// Initialize repositories
	tripRepo := repository.NewTripRepository(postgresClient.GetDB())
	driverRepo := repository.NewDriverRepository(postgresClient.GetDB())
	presenceRepo := repository.NewPresenceRepository(redisClient.GetClient())

	// Initialize gateway
	tripGW := gateway.NewTripGW(natsClient, audit, configs.NSQ.AuditTopic, locations)

	// Initialize usecase
	resolver := claim.NewResolver(tripRepo, registry.New(driverRepo), configs.Dispatch.ClaimTimeout)
	tripUC, err := usecase.NewTripUC(configs, tripRepo, presenceRepo, tripGW, resolver, geocoder)
	if err != nil {
		zapLogger.Fatal("Failed to create trip usecase", zap.Error(err))
	}

	// Live feed and handlers
	hub := feed.NewHub(tripUC)
	tripHandler := handler.NewHandler(tripUC, hub, natsClient, configs)
	if err := tripHandler.InitNATSConsumers(); err != nil {
		zapLogger.Fatal("Failed to initialize NATS consumers", zap.Error(err))
	}

	// Initialize Echo router
	e := echo.New()
	e.HideBanner = true

	// Add middlewares
	e.Use(middleware.PanicRecoveryWithZapMiddleware(zapLogger))
	e.Use(middleware.RequestContextMiddleware(appName))
	e.Use(middleware.NewRelicMiddleware(nrApp))
	e.Use(logger.ZapEchoMiddleware(zapLogger))
	e.Use(metrics.EchoMiddleware())

	// Register health and metrics endpoints
	health.RegisterHealthEndpoints(e, appName, configs.App.Version, healthService)
	metrics.RegisterEndpoint(e)

	// Register service routes
	tripHandler.RegisterRoutes(e, redisClient.GetClient())

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweeper(sweepCtx, tripUC, configs.Dispatch.SweepInterval)

	srv := server.NewGracefulServer(e, zapLogger, configs.Server)
	components := srv.Components()
	// cleanups run in reverse order: the sweeper stops first, the logger closes last
	components.Register("logger", func(context.Context) error { return zapLogger.Close() })
	if nrApp != nil {
		components.Register("newrelic", func(context.Context) error {
			nrApp.Shutdown(10 * time.Second)
			return nil
		})
	}
	components.Register("postgres", func(context.Context) error { return postgresClient.Close() })
	components.Register("redis", func(context.Context) error { return redisClient.Close() })
	components.Register("nats", func(context.Context) error {
		natsClient.Close()
		return nil
	})
	if nsqProducer != nil {
		components.Register("nsq", func(context.Context) error {
			nsqProducer.Stop()
			return nil
		})
	}
	if kafkaProducer != nil {
		components.Register("kafka", func(context.Context) error { return kafkaProducer.Close() })
	}
	components.Register("feed", func(context.Context) error {
		tripHandler.Close()
		hub.Close()
		return nil
	})
	components.Register("sweeper", func(context.Context) error {
		stopSweep()
		return nil
	})

	if err := srv.Start(context.Background()); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
}

// newGeocoder builds the label geocoder, cached in Redis. Without an API key
// labels stay unresolved and trips are matched unranked.
func newGeocoder(configs *models.Config, redisClient *database.RedisClient) geocode.Geocoder {
	if !configs.Geocoder.Enabled {
		logger.Info("Geocoder disabled")
		return geocode.Nop{}
	}
	google, err := geocode.NewGoogleGeocoder(configs.Geocoder.APIKey)
	if err != nil {
		logger.Warn("Geocoder unavailable, labels will not be resolved", logger.Err(err))
		return geocode.Nop{}
	}
	return geocode.NewCached(google, geocode.NewRedisCache(redisClient.GetClient()), configs.Geocoder.CacheTTL, configs.Geocoder.GeohashChars)
}
