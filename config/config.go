package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	LogMode       string
	StorageDriver string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	DBSSLMode     string
	JWTSecret     string
	JWTExpiryMin  int
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	OfflineQueueBackend    string
	OfflineQueueMaxPerUser int
	OfflineQueueTTL        time.Duration

	WSSendBuffer            int
	WSMaxConnectionsPerUser int

	E2EAutoKeygen   bool
	RecorderWorkers int
	KeyCacheTTL     time.Duration

	RateLimitMessages int
	RateLimitCalls    int
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		LogMode:       getEnv("LOG_MODE", "development"),
		StorageDriver: getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "sentinal_relay"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 15),
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OfflineQueueBackend:    getEnv("OFFLINE_QUEUE_BACKEND", QueueBackendMemory),
		OfflineQueueMaxPerUser: getEnvAsInt("OFFLINE_QUEUE_MAX_PER_USER", 1000),
		OfflineQueueTTL:        getEnvAsDuration("OFFLINE_QUEUE_TTL", 7*24*time.Hour),

		WSSendBuffer:            getEnvAsInt("WS_SEND_BUFFER", 256),
		WSMaxConnectionsPerUser: getEnvAsInt("WS_MAX_CONNECTIONS_PER_USER", 10),

		E2EAutoKeygen:   getEnvAsBool("E2E_AUTO_KEYGEN", true),
		RecorderWorkers: getEnvAsInt("RECORDER_WORKERS", 2),
		KeyCacheTTL:     getEnvAsDuration("KEY_CACHE_TTL", 5*time.Minute),

		RateLimitMessages: getEnvAsInt("RATE_LIMIT_MESSAGES", 60),
		RateLimitCalls:    getEnvAsInt("RATE_LIMIT_CALLS", 10),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
