package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Mail      MailConfig
	LLM       LLMConfig
	Extract   ExtractConfig
	Artifacts ArtifactConfig
	Events    EventsConfig
	Ingest    IngestConfig
	Session   SessionConfig
	Log       LogConfig

	// overlayErr is a KESHLY_CONFIG file that could not be read or parsed.
	overlayErr error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string
	GRPCAddr       string
	HealthInterval time.Duration
	RateLimit      int // requests per minute per client, 0 disables
}

type AuthConfig struct {
	JWTSecret           string
	Issuer              string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RequireConfirmation bool
	ConfirmURL          string // link base sent in confirmation mails
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider    string // openai | anthropic | gemini
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

type ExtractConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

type ArtifactConfig struct {
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

type EventsConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
	Workers    int
}

type IngestConfig struct {
	CompensateOrphans bool
	StrictDateTime    bool
	Timezone          string
}

type SessionConfig struct {
	File string
}

type LogConfig struct {
	Level  string
	Format string // text | json
}

// LoadConfig loads configuration from an optional .env file, an optional YAML
// overlay named by KESHLY_CONFIG, and the environment. Real environment
// variables always win. A broken overlay is reported by Validate.
func LoadConfig() *Config {
	_ = godotenv.Load()
	var overlayErr error
	if path := os.Getenv("KESHLY_CONFIG"); path != "" {
		if err := loadYAMLOverlay(path); err != nil {
			overlayErr = fmt.Errorf("KESHLY_CONFIG %s: %w", path, err)
		}
	}

	return &Config{
		overlayErr: overlayErr,
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":9090"),
			HealthInterval: getEnvAsDuration("HEALTH_INTERVAL", 15*time.Second),
			RateLimit:      getEnvAsInt("HTTP_RATE_LIMIT", 120),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			Issuer:              getEnv("JWT_ISSUER", "keshly"),
			AccessTTL:           getEnvAsDuration("JWT_ACCESS_TTL", time.Hour),
			RefreshTTL:          getEnvAsDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
			RequireConfirmation: getEnvAsBool("AUTH_REQUIRE_CONFIRMATION", false),
			ConfirmURL:          getEnv("AUTH_CONFIRM_URL", "http://localhost:8080/auth/confirm"),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@keshly.app"),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
			Model:       getEnv("LLM_MODEL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
		},
		Extract: ExtractConfig{
			Timeout:      getEnvAsDuration("EXTRACT_TIMEOUT", 20*time.Second),
			MaxBodyBytes: int64(getEnvAsInt("EXTRACT_MAX_BODY_BYTES", 2<<20)),
			UserAgent:    getEnv("EXTRACT_USER_AGENT", "keshly/1.0"),
		},
		Artifacts: ArtifactConfig{
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Region:    getEnv("S3_REGION", "eu-central-1"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Events: EventsConfig{
			AMQPURL:    getEnv("AMQP_URL", ""),
			Exchange:   getEnv("AMQP_EXCHANGE", "keshly"),
			RoutingKey: getEnv("AMQP_ROUTING_KEY", "receipt.saved"),
			Workers:    getEnvAsInt("EVENT_WORKERS", 2),
		},
		Ingest: IngestConfig{
			CompensateOrphans: getEnvAsBool("INGEST_COMPENSATE_ORPHANS", true),
			StrictDateTime:    getEnvAsBool("INGEST_STRICT_DATETIME", false),
			Timezone:          getEnv("INGEST_TIMEZONE", "Europe/Belgrade"),
		},
		Session: SessionConfig{
			File: getEnv("KESHLY_SESSION_FILE", defaultSessionFile()),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
}

// loadYAMLOverlay reads a flat map of environment-style keys and exports the
// ones not already set in the environment.
func loadYAMLOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return err
	}
	for k, v := range values {
		if _, ok := os.LookupEnv(k); !ok {
			_ = os.Setenv(k, v)
		}
	}
	return nil
}

func defaultSessionFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.keshly/session.db"
	}
	return ".keshly-session.db"
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration for the daemon.
func (c *Config) Validate() error {
	if c.overlayErr != nil {
		return NewAppError("CONFIG_ERROR", c.overlayErr.Error(), ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Auth.JWTSecret == "" {
		return NewAppError("CONFIG_ERROR", "JWT_SECRET is required", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai, anthropic or gemini", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Auth.RequireConfirmation && c.Mail.Host == "" {
		return NewAppError("CONFIG_ERROR", "SMTP_HOST is required when AUTH_REQUIRE_CONFIRMATION is set", ErrInvalidInput)
	}
	return nil
}
