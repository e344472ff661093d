package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	API       APIConfig
	CORS      CORSConfig
	Log       LogConfig
	WebSocket WebSocketConfig
	Tracking  TrackingConfig
}

type ServerConfig struct {
	Port       string
	Env        string
	InstanceID string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type APIConfig struct {
	RateLimitRequestsPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type WebSocketConfig struct {
	SendBufferSize       int
	ClientMessagesPerSec int
	AllowAllOriginsInDev bool
}

// TrackingConfig drives the ambulance movement simulator.
type TrackingConfig struct {
	TickInterval       time.Duration
	AssumedSpeedKmh    float64
	OnSceneDuration    time.Duration
	LeaseTTL           time.Duration
	TopPriorityType    string
	UseDistributedLock bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	tick := getDuration("TRACKING_TICK_INTERVAL", 2*time.Second)

	cfg := &Config{
		Server: ServerConfig{
			Port:       getEnv("PORT", "8080"),
			Env:        getEnv("ENV", "development"),
			InstanceID: getEnv("INSTANCE_ID", uuid.NewString()),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "rescuelink"),
			Password: getEnv("DB_PASSWORD", "rescuelink_password"),
			DBName:   getEnv("DB_NAME", "rescuelink_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: getInt("JWT_EXPIRY_HOURS", 12),
		},
		API: APIConfig{
			RateLimitRequestsPerSec: getInt("RATE_LIMIT_REQUESTS_PER_SECOND", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		WebSocket: WebSocketConfig{
			SendBufferSize:       getInt("WS_SEND_BUFFER_SIZE", 256),
			ClientMessagesPerSec: getInt("WS_CLIENT_MESSAGES_PER_SECOND", 20),
			AllowAllOriginsInDev: getBool("WS_ALLOW_ALL_ORIGINS_IN_DEV", true),
		},
		Tracking: TrackingConfig{
			TickInterval:       tick,
			AssumedSpeedKmh:    getFloat("TRACKING_ASSUMED_SPEED_KMH", 50),
			OnSceneDuration:    getDuration("TRACKING_ON_SCENE_DURATION", 10*time.Minute),
			LeaseTTL:           getDuration("TRACKING_LEASE_TTL", 3*tick),
			TopPriorityType:    getEnv("TRACKING_TOP_PRIORITY_TYPE", "ALS"),
			UseDistributedLock: getBool("TRACKING_DISTRIBUTED_LOCK", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.JWT.Secret == "change-this-secret-key" && c.Server.Env == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Tracking.TickInterval <= 0 {
		return fmt.Errorf("TRACKING_TICK_INTERVAL must be positive")
	}
	if c.Tracking.AssumedSpeedKmh <= 0 {
		return fmt.Errorf("TRACKING_ASSUMED_SPEED_KMH must be positive")
	}
	if c.Tracking.LeaseTTL <= c.Tracking.TickInterval {
		return fmt.Errorf("TRACKING_LEASE_TTL must be longer than the tick interval")
	}
	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
