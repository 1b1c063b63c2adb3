package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Datastore backends accepted in DATASTORE.
const (
	DatastorePostgres = "postgres"
	DatastoreMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Datastore string
	Database  DatabaseConfig
	Redis     RedisConfig
	Admin     AdminConfig
	Broadcast BroadcastConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/servelist?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables
// cross-instance fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AdminConfig holds the admin password and capability token settings.
type AdminConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	PasswordHash string // bcrypt; takes precedence over Password
	Password     string // plain, hashed at startup
}

// BroadcastConfig sizes the change broadcaster.
type BroadcastConfig struct {
	QueueSize int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Datastore: strings.ToLower(getEnv("DATASTORE", DatastorePostgres)),
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "servelist"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Admin: AdminConfig{
			JWTSecret:    getEnv("JWT_SECRET", "change-me-in-production"),
			TokenTTL:     time.Duration(getEnvInt("ADMIN_TOKEN_TTL_MINUTES", 60)) * time.Minute,
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			Password:     os.Getenv("ADMIN_PASSWORD"),
		},
		Broadcast: BroadcastConfig{
			QueueSize: getEnvInt("BROADCAST_BUFFER", 1024),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Datastore {
	case DatastorePostgres, DatastoreMemory:
	default:
		return fmt.Errorf("DATASTORE must be %q or %q, got %q", DatastorePostgres, DatastoreMemory, c.Datastore)
	}
	if c.Admin.TokenTTL <= 0 {
		return fmt.Errorf("ADMIN_TOKEN_TTL_MINUTES must be positive")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("BROADCAST_BUFFER must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
