package config

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/spf13/viper"
)

var env = newEnv()

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// InitConfig loads configPath into the environment when running locally and builds the config from env
func InitConfig(configPath string) *models.Config {
	local := GetEnv("APP_ENV", "local")
	if local == "local" {
		if err := godotenv.Load(configPath); err != nil {
			log.Println("error loading config from file", err)
		}
	}
	return loadConfigFromEnv()
}

func loadConfigFromEnv() *models.Config {
	configs := &models.Config{}

	// App config
	configs.App.Name = GetEnv("APP_NAME", "dispatch-service")
	configs.App.Environment = GetEnv("APP_ENV", "local")
	configs.App.Debug = GetEnvAsBool("APP_DEBUG", true)
	configs.App.Version = GetEnv("APP_VERSION", "development")

	// Server config
	configs.Server.Host = GetEnv("SERVER_HOST", "")
	configs.Server.Port = GetEnvAsInt("SERVER_PORT", 9990)
	configs.Server.ReadTimeout = GetEnvAsInt("SERVER_READ_TIMEOUT", 15)
	configs.Server.WriteTimeout = GetEnvAsInt("SERVER_WRITE_TIMEOUT", 15)
	configs.Server.ShutdownTimeout = GetEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", 30)

	// Database config
	configs.Database.Driver = GetEnv("DB_DRIVER", "pgx")
	configs.Database.Host = GetEnv("DB_HOST", "localhost")
	configs.Database.Port = GetEnvAsInt("DB_PORT", 5432)
	configs.Database.Username = GetEnv("DB_USERNAME", "")
	configs.Database.Password = GetEnv("DB_PASSWORD", "")
	configs.Database.Database = GetEnv("DB_DATABASE", "nebengjek")
	configs.Database.SSLMode = GetEnv("DB_SSL_MODE", "disable")
	configs.Database.MaxConns = GetEnvAsInt("DB_MAX_CONNS", 20)
	configs.Database.IdleConns = GetEnvAsInt("DB_IDLE_CONNS", 5)
	configs.Database.AutoMigrate = GetEnvAsBool("DB_AUTO_MIGRATE", false)

	// Redis config
	configs.Redis.Host = GetEnv("REDIS_HOST", "localhost")
	configs.Redis.Port = GetEnvAsInt("REDIS_PORT", 6379)
	configs.Redis.Password = GetEnv("REDIS_PASSWORD", "")
	configs.Redis.DB = GetEnvAsInt("REDIS_DB", 0)
	configs.Redis.PoolSize = GetEnvAsInt("REDIS_POOL_SIZE", 10)

	// NATS config
	configs.NATS.URL = GetEnv("NATS_URL", "nats://localhost:4222")

	// NSQ config
	configs.NSQ.Enabled = GetEnvAsBool("NSQ_ENABLED", false)
	configs.NSQ.NSQDAddr = GetEnv("NSQ_NSQD_ADDR", "localhost:4150")
	configs.NSQ.AuditTopic = GetEnv("NSQ_AUDIT_TOPIC", "trip_audit")

	// Kafka config
	configs.Kafka.Enabled = GetEnvAsBool("KAFKA_ENABLED", false)
	configs.Kafka.Brokers = GetEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"})
	configs.Kafka.LocationTopic = GetEnv("KAFKA_LOCATION_TOPIC", "driver-locations")

	// JWT config
	configs.JWT.Secret = GetEnv("JWT_SECRET", "")
	configs.JWT.Expiration = GetEnvAsInt("JWT_EXPIRATION", 60)
	configs.JWT.Issuer = GetEnv("JWT_ISSUER", "nebengjek")

	// Dispatch config
	configs.Dispatch.WaitingWindow = GetEnvAsDuration("DISPATCH_WAITING_WINDOW", 15*time.Minute)
	configs.Dispatch.SearchRadiusKm = GetEnvAsFloat("DISPATCH_SEARCH_RADIUS_KM", 15.0)
	configs.Dispatch.ClaimTimeout = GetEnvAsDuration("DISPATCH_CLAIM_TIMEOUT", 5*time.Second)
	configs.Dispatch.OpenPageSize = GetEnvAsInt("DISPATCH_OPEN_PAGE_SIZE", 50)
	configs.Dispatch.ActiveTripWindow = GetEnvAsDuration("DISPATCH_ACTIVE_TRIP_WINDOW", 30*time.Minute)
	configs.Dispatch.SweepInterval = GetEnvAsDuration("DISPATCH_SWEEP_INTERVAL", time.Minute)
	configs.Dispatch.PresenceTTL = GetEnvAsDuration("DISPATCH_PRESENCE_TTL", 10*time.Minute)
	configs.Dispatch.ClaimRateLimit = GetEnvAsInt("DISPATCH_CLAIM_RATE_LIMIT", 10)
	configs.Dispatch.ClaimRatePeriod = GetEnvAsDuration("DISPATCH_CLAIM_RATE_PERIOD", time.Minute)
	configs.Dispatch.NearbyDriverLimit = GetEnvAsInt("DISPATCH_NEARBY_DRIVER_LIMIT", 20)

	// Geocoder config
	configs.Geocoder.APIKey = GetEnv("GOOGLE_MAPS_API_KEY", "")
	configs.Geocoder.Enabled = GetEnvAsBool("GEOCODER_ENABLED", configs.Geocoder.APIKey != "")
	configs.Geocoder.CacheTTL = GetEnvAsDuration("GEOCODER_CACHE_TTL", 24*time.Hour)
	configs.Geocoder.GeohashChars = uint(GetEnvAsInt("GEOCODER_GEOHASH_CHARS", 5))

	// NewRelic config
	configs.NewRelic.LicenseKey = GetEnv("NEW_RELIC_LICENSE_KEY", "")
	configs.NewRelic.AppName = GetEnv("NEW_RELIC_APP_NAME", "nebengjek-dispatch")
	configs.NewRelic.Enabled = GetEnvAsBool("NEW_RELIC_ENABLED", false)
	configs.NewRelic.LogsEnabled = GetEnvAsBool("NEW_RELIC_LOGS_ENABLED", false)
	configs.NewRelic.ForwardLogs = GetEnvAsBool("NEW_RELIC_FORWARD_LOGS", false)

	// Logger config
	configs.Logger.Level = GetEnv("LOG_LEVEL", "info")
	configs.Logger.FilePath = GetEnv("LOG_FILE_PATH", "")

	return configs
}

// Helper functions to get environment variables with different types
func GetEnv(key, defaultValue string) string {
	value := env.GetString(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func GetEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

// GetEnvAsDuration accepts Go duration strings ("15m") or plain seconds ("900")
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

// GetEnvAsSlice splits a comma separated value
func GetEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
