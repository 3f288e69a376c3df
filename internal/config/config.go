package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Journal  JournalConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// RedisConfig holds the read-cache configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
	FillsTopic  string
	GroupID     string
}

// JournalConfig holds the analytics policy knobs
type JournalConfig struct {
	// DayTradeWindow is the maximum first-entry-to-last-exit gap for
	// DAY-horizon trades
	DayTradeWindow time.Duration
	// StatsMinSample is the minimum group size for breakdown
	// recommendations
	StatsMinSample int
	// StatsTTL is how long cached per-user views live
	StatsTTL time.Duration
	// LeaderboardTTL is how long the cached leaderboard lives
	LeaderboardTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "tradejournal"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "db/migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "trade-events"),
			FillsTopic:  getEnv("KAFKA_FILLS_TOPIC", "broker-fills"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "journal-service"),
		},
		Journal: JournalConfig{
			DayTradeWindow: time.Duration(getEnvInt("DAYTRADE_WINDOW_HOURS", 24)) * time.Hour,
			StatsMinSample: getEnvInt("STATS_MIN_SAMPLE", 3),
			StatsTTL:       time.Duration(getEnvInt("STATS_TTL_SECONDS", 300)) * time.Second,
			LeaderboardTTL: time.Duration(getEnvInt("LEADERBOARD_TTL_SECONDS", 60)) * time.Second,
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
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
