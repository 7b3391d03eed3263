package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"crewlink/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Limits     LimitsConfig     `yaml:"limits"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	IdleTimeout    int      `yaml:"idle_timeout"`  // seconds; liveness threshold
	WriteTimeout   int      `yaml:"write_timeout"` // seconds; per-frame write deadline
	SendBuffer     int      `yaml:"send_buffer"`
	HistoryLimit   int      `yaml:"history_limit"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  int    `yaml:"token_ttl"` // minutes, used by token issuing tooling
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LimitsConfig struct {
	MessagesPerWindow int `yaml:"messages_per_window"`
	WindowSeconds     int `yaml:"window_seconds"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Load reads the YAML config, expanding ${ENV} references first. A .env file
// is applied when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "YOUR_SECRET_HERE" {
		return errors.New("auth jwt secret is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = models.IdleTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = models.SendBufferSize
	}
	if c.Server.HistoryLimit == 0 {
		c.Server.HistoryLimit = models.DefaultHistoryLimit
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * 60
	}
	if c.Limits.MessagesPerWindow == 0 {
		c.Limits.MessagesPerWindow = models.RateLimitMessages
	}
	if c.Limits.WindowSeconds == 0 {
		c.Limits.WindowSeconds = models.RateLimitWindow
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// IdleTimeoutDuration returns the liveness threshold as a duration.
func (s ServerConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// WriteTimeoutDuration returns the per-frame write deadline as a duration.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Window returns the rate limit window as a duration.
func (l LimitsConfig) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}
