package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	SMTP         SMTPConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
	Jobs         JobsConfig
	Telemetry    TelemetryConfig
	RateLimit    RateLimitConfig
}

type AppConfig struct {
	Name         string
	Environment  string // development, staging, production
	PublicURL    string
	LogLevel     string
	AllowOrigins []string // CORS allow list, "*" allows any origin
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver       string // mysql, postgres, sqlite
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string
}

// Email Configuration
type SMTPConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	NotificationTopic string
	ClientID          string
}

type NotificationConfig struct {
	Workers      int
	QueueSize    int
	MaxAttempts  uint
	RetryBackoff time.Duration
	// EmailTypes lists the notification types that are also sent by email
	EmailTypes []string
	Retention  time.Duration
	// FailedPushTTL bounds how long undelivered pushes are kept for replay
	FailedPushTTL time.Duration
}

type JobsConfig struct {
	Enabled             bool
	StatusSweepInterval time.Duration
	ReminderInterval    time.Duration
	ReminderWindow      time.Duration
	RetentionInterval   time.Duration
	FailedPushInterval  time.Duration
}

type TelemetryConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
	SampleRatio   float64
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// .env is optional, the environment wins anyway
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := bindConfig(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "gameverse-api")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")

	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")

	v.SetDefault("DATABASE_DRIVER", "mysql")
	v.SetDefault("DATABASE_URL", "user:password@tcp(localhost:3306)/gameverse?charset=utf8mb4&parseTime=True&loc=UTC")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "your-secret-key")
	v.SetDefault("JWT_TOKEN_TTL", "168h")
	v.SetDefault("JWT_ISSUER", "gameverse")

	v.SetDefault("SMTP_ENABLED", false)
	v.SetDefault("SMTP_HOST", "sandbox.smtp.mailtrap.io")
	v.SetDefault("SMTP_PORT", 2525)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("FROM_EMAIL", "noreply@gameverse.gg")
	v.SetDefault("FROM_NAME", "GameVerse")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "gameverse.notifications")
	v.SetDefault("KAFKA_CLIENT_ID", "gameverse-api")

	v.SetDefault("NOTIFICATION_WORKERS", 4)
	v.SetDefault("NOTIFICATION_QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFICATION_MAX_ATTEMPTS", 3)
	v.SetDefault("NOTIFICATION_RETRY_BACKOFF", "500ms")
	v.SetDefault("NOTIFICATION_EMAIL_TYPES", "EVENT_REGISTER,EVENT_CANCEL,EVENT_REMINDER,EVENT_UPDATE")
	v.SetDefault("NOTIFICATION_RETENTION", "2160h") // 90 days
	v.SetDefault("NOTIFICATION_FAILED_PUSH_TTL", "24h")

	v.SetDefault("JOBS_ENABLED", true)
	v.SetDefault("JOBS_STATUS_SWEEP_INTERVAL", "5m")
	v.SetDefault("JOBS_REMINDER_INTERVAL", "1h")
	v.SetDefault("JOBS_REMINDER_WINDOW", "24h")
	v.SetDefault("JOBS_RETENTION_INTERVAL", "24h")
	v.SetDefault("JOBS_FAILED_PUSH_INTERVAL", "5m")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "gameverse-api")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	v.SetDefault("RATE_LIMIT_RPM", 120)
	v.SetDefault("RATE_LIMIT_BURST", 20)
}

func bindConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.PublicURL = v.GetString("APP_PUBLIC_URL")
	cfg.App.LogLevel = strings.ToLower(v.GetString("LOG_LEVEL"))
	cfg.App.AllowOrigins = splitList(v.GetString("CORS_ALLOW_ORIGINS"))

	cfg.Server.Port = v.GetString("PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")

	cfg.Database.Driver = strings.ToLower(v.GetString("DATABASE_DRIVER"))
	cfg.Database.URL = v.GetString("DATABASE_URL")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")

	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.TokenTTL = v.GetDuration("JWT_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	cfg.SMTP.Enabled = v.GetBool("SMTP_ENABLED")
	cfg.SMTP.Host = v.GetString("SMTP_HOST")
	cfg.SMTP.Port = v.GetInt("SMTP_PORT")
	cfg.SMTP.Username = v.GetString("SMTP_USERNAME")
	cfg.SMTP.Password = v.GetString("SMTP_PASSWORD")
	cfg.SMTP.FromEmail = v.GetString("FROM_EMAIL")
	cfg.SMTP.FromName = v.GetString("FROM_NAME")

	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.NotificationTopic = v.GetString("KAFKA_NOTIFICATION_TOPIC")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	cfg.Notification.Workers = v.GetInt("NOTIFICATION_WORKERS")
	cfg.Notification.QueueSize = v.GetInt("NOTIFICATION_QUEUE_SIZE")
	cfg.Notification.MaxAttempts = v.GetUint("NOTIFICATION_MAX_ATTEMPTS")
	cfg.Notification.RetryBackoff = v.GetDuration("NOTIFICATION_RETRY_BACKOFF")
	cfg.Notification.EmailTypes = splitList(v.GetString("NOTIFICATION_EMAIL_TYPES"))
	cfg.Notification.Retention = v.GetDuration("NOTIFICATION_RETENTION")
	cfg.Notification.FailedPushTTL = v.GetDuration("NOTIFICATION_FAILED_PUSH_TTL")

	cfg.Jobs.Enabled = v.GetBool("JOBS_ENABLED")
	cfg.Jobs.StatusSweepInterval = v.GetDuration("JOBS_STATUS_SWEEP_INTERVAL")
	cfg.Jobs.ReminderInterval = v.GetDuration("JOBS_REMINDER_INTERVAL")
	cfg.Jobs.ReminderWindow = v.GetDuration("JOBS_REMINDER_WINDOW")
	cfg.Jobs.RetentionInterval = v.GetDuration("JOBS_RETENTION_INTERVAL")
	cfg.Jobs.FailedPushInterval = v.GetDuration("JOBS_FAILED_PUSH_INTERVAL")

	cfg.Telemetry.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.Telemetry.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.Telemetry.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.Telemetry.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	cfg.RateLimit.RequestsPerMinute = v.GetInt("RATE_LIMIT_RPM")
	cfg.RateLimit.Burst = v.GetInt("RATE_LIMIT_BURST")

	return cfg
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && c.JWT.Secret == "your-secret-key" {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.Notification.Workers < 1 {
		return errors.New("NOTIFICATION_WORKERS must be at least 1")
	}
	if c.Notification.MaxAttempts < 1 {
		return errors.New("NOTIFICATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.RateLimit.RequestsPerMinute < 1 {
		return errors.New("RATE_LIMIT_RPM must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when Kafka is enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
