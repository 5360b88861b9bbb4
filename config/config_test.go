package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	envVars := []string{
		"APP_NAME", "APP_ENVIRONMENT", "PORT",
		"DATABASE_DRIVER", "DATABASE_URL",
		"JWT_SECRET", "NOTIFICATION_WORKERS", "NOTIFICATION_EMAIL_TYPES",
		"KAFKA_ENABLED", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "gameverse-api" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "gameverse-api")
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "8080")
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Notification.MaxAttempts != 3 {
		t.Errorf("Notification.MaxAttempts = %d, want %d", cfg.Notification.MaxAttempts, 3)
	}
	if cfg.Notification.Retention != 90*24*time.Hour {
		t.Errorf("Notification.Retention = %v, want %v", cfg.Notification.Retention, 90*24*time.Hour)
	}
	if len(cfg.Notification.EmailTypes) != 4 {
		t.Errorf("len(Notification.EmailTypes) = %d, want %d", len(cfg.Notification.EmailTypes), 4)
	}
	if cfg.Jobs.StatusSweepInterval != 5*time.Minute {
		t.Errorf("Jobs.StatusSweepInterval = %v, want %v", cfg.Jobs.StatusSweepInterval, 5*time.Minute)
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	os.Setenv("APP_NAME", "test-app")
	os.Setenv("DATABASE_DRIVER", "SQLite")
	os.Setenv("DATABASE_URL", "file::memory:")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	defer func() {
		os.Unsetenv("APP_NAME")
		os.Unsetenv("DATABASE_DRIVER")
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "test-app" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "test-app")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:          AppConfig{Environment: "development"},
			Database:     DatabaseConfig{Driver: "postgres", URL: "host=localhost"},
			JWT:          JWTConfig{Secret: "your-secret-key"},
			Notification: NotificationConfig{Workers: 1, MaxAttempts: 1},
			RateLimit:    RateLimitConfig{RequestsPerMinute: 60},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "default secret in production", mutate: func(c *Config) { c.App.Environment = "production" }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Notification.Workers = 0 }, wantErr: true},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
