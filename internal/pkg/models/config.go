package models

import "time"

// Config represents application configuration
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	NSQ      NSQConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Dispatch DispatchConfig
	Geocoder GeocoderConfig
	NewRelic NewRelicConfig
	Logger   LoggerConfig
}

// AppConfig contains application-specific configuration
type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
	Version     string
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	IdleConns   int
	AutoMigrate bool
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// NATSConfig contains NATS connection configuration
type NATSConfig struct {
	URL string
}

// NSQConfig contains the nsqd address used for audit events
type NSQConfig struct {
	Enabled    bool
	NSQDAddr   string
	AuditTopic string
}

// KafkaConfig contains the location stream producer configuration
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	LocationTopic string
}

// JWTConfig contains JWT authentication configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in minutes
	Issuer     string
}

// DispatchConfig holds the matching and lifecycle tunables
type DispatchConfig struct {
	WaitingWindow     time.Duration
	SearchRadiusKm    float64
	ClaimTimeout      time.Duration
	OpenPageSize      int
	ActiveTripWindow  time.Duration
	SweepInterval     time.Duration
	PresenceTTL       time.Duration
	ClaimRateLimit    int
	ClaimRatePeriod   time.Duration
	NearbyDriverLimit int
}

// GeocoderConfig configures label geocoding
type GeocoderConfig struct {
	Enabled      bool
	APIKey       string
	CacheTTL     time.Duration
	GeohashChars uint
}

// NewRelicConfig contains New Relic APM configuration
type NewRelicConfig struct {
	Enabled     bool
	LicenseKey  string
	AppName     string
	LogsEnabled bool
	ForwardLogs bool
}

// LoggerConfig contains zap logger configuration
type LoggerConfig struct {
	Level    string
	FilePath string
}
