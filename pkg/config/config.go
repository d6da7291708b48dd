package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Typesense TypesenseConfig
	OpenAI    OpenAIConfig
	AIJobs    AIJobsConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	OTEL      OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	// ViewCacheTTL is how long a patient's AI view stays cached.
	ViewCacheTTL time.Duration
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	Enabled bool
	URL     string
	APIKey  string
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	VisionModel    string
	AssistantModel string
	Timeout        time.Duration
	MaxTokens      int
	Temperature    float32
	RateLimitRPM   int
	RateLimitBurst int
}

// AIJobsConfig holds the AI analysis pipeline configuration
type AIJobsConfig struct {
	RetryEnabled      bool
	RetryStartupDelay time.Duration
	RetryInterval     time.Duration
	RetryBatchSize    int
	MaxReportChars    int
}

// StorageConfig selects the persistence backend and where report files live
type StorageConfig struct {
	Driver     string // "postgres" or "memory"
	UploadsDir string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level       string
	FileEnabled bool
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from an optional .env file and environment variables.
// Environment variables always win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Env: v.GetString("ENV"),
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Enabled:      v.GetBool("REDIS_ENABLED"),
			Host:         v.GetString("REDIS_HOST"),
			Port:         v.GetInt("REDIS_PORT"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			ViewCacheTTL: v.GetDuration("REDIS_VIEW_CACHE_TTL"),
		},
		Typesense: TypesenseConfig{
			Enabled: v.GetBool("TYPESENSE_ENABLED"),
			URL:     v.GetString("TYPESENSE_URL"),
			APIKey:  v.GetString("TYPESENSE_API_KEY"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         v.GetString("OPENAI_API_KEY"),
			BaseURL:        v.GetString("OPENAI_BASE_URL"),
			Model:          v.GetString("OPENAI_MODEL"),
			VisionModel:    v.GetString("OPENAI_VISION_MODEL"),
			AssistantModel: v.GetString("OPENAI_ASSISTANT_MODEL"),
			Timeout:        v.GetDuration("OPENAI_TIMEOUT"),
			MaxTokens:      v.GetInt("OPENAI_MAX_TOKENS"),
			Temperature:    float32(v.GetFloat64("OPENAI_TEMPERATURE")),
			RateLimitRPM:   v.GetInt("OPENAI_RATE_LIMIT_RPM"),
			RateLimitBurst: v.GetInt("OPENAI_RATE_LIMIT_BURST"),
		},
		AIJobs: AIJobsConfig{
			RetryEnabled:      v.GetBool("AI_RETRY_ENABLED"),
			RetryStartupDelay: v.GetDuration("AI_RETRY_STARTUP_DELAY"),
			RetryInterval:     v.GetDuration("AI_RETRY_INTERVAL"),
			RetryBatchSize:    v.GetInt("AI_RETRY_BATCH_SIZE"),
			MaxReportChars:    v.GetInt("AI_MAX_REPORT_CHARS"),
		},
		Storage: StorageConfig{
			Driver:     v.GetString("STORAGE_DRIVER"),
			UploadsDir: v.GetString("UPLOADS_DIR"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("LOG_LEVEL"),
			FileEnabled: v.GetBool("LOG_FILE_ENABLED"),
			FilePath:    v.GetString("LOG_FILE_PATH"),
			MaxSizeMB:   v.GetInt("LOG_FILE_MAX_SIZE_MB"),
			MaxBackups:  v.GetInt("LOG_FILE_MAX_BACKUPS"),
			MaxAgeDays:  v.GetInt("LOG_FILE_MAX_AGE_DAYS"),
			Compress:    v.GetBool("LOG_FILE_COMPRESS"),
		},
		OTEL: OTELConfig{
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			Endpoint:       v.GetString("OTEL_ENDPOINT"),
			Enabled:        v.GetBool("OTEL_ENABLED"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "smart_qr_health")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_VIEW_CACHE_TTL", "5m")

	v.SetDefault("TYPESENSE_ENABLED", false)
	v.SetDefault("TYPESENSE_URL", "http://localhost:8108")
	v.SetDefault("TYPESENSE_API_KEY", "xyz")

	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_VISION_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_ASSISTANT_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_TIMEOUT", "45s")
	v.SetDefault("OPENAI_MAX_TOKENS", 1500)
	v.SetDefault("OPENAI_TEMPERATURE", 0.3)
	v.SetDefault("OPENAI_RATE_LIMIT_RPM", 60)
	v.SetDefault("OPENAI_RATE_LIMIT_BURST", 5)

	v.SetDefault("AI_RETRY_ENABLED", true)
	v.SetDefault("AI_RETRY_STARTUP_DELAY", "5s")
	v.SetDefault("AI_RETRY_INTERVAL", "60s")
	v.SetDefault("AI_RETRY_BATCH_SIZE", 5)
	v.SetDefault("AI_MAX_REPORT_CHARS", 10000)

	v.SetDefault("STORAGE_DRIVER", "postgres")
	v.SetDefault("UPLOADS_DIR", "./uploads")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_ENABLED", false)
	v.SetDefault("LOG_FILE_PATH", "./logs/smart-qr-health.log")
	v.SetDefault("LOG_FILE_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_FILE_MAX_BACKUPS", 5)
	v.SetDefault("LOG_FILE_MAX_AGE_DAYS", 30)
	v.SetDefault("LOG_FILE_COMPRESS", true)

	v.SetDefault("OTEL_SERVICE_NAME", "smart-qr-health")
	v.SetDefault("OTEL_SERVICE_VERSION", "1.0.0")
	v.SetDefault("OTEL_ENDPOINT", "")
	v.SetDefault("OTEL_ENABLED", false)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// viper returns the raw fs error when SetConfigFile points at a missing file.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate checks values that would otherwise break the pipeline at runtime
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.AIJobs.RetryBatchSize <= 0 {
		return fmt.Errorf("AI_RETRY_BATCH_SIZE must be positive, got %d", c.AIJobs.RetryBatchSize)
	}
	if c.AIJobs.RetryInterval <= 0 {
		return fmt.Errorf("AI_RETRY_INTERVAL must be positive, got %s", c.AIJobs.RetryInterval)
	}
	if c.AIJobs.MaxReportChars <= 0 {
		return fmt.Errorf("AI_MAX_REPORT_CHARS must be positive, got %d", c.AIJobs.MaxReportChars)
	}
	return nil
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
