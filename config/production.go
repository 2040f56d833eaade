// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Security  SecurityConfig  `json:"security"`
	JWT       JWTConfig       `json:"jwt"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Channels  ChannelsConfig  `json:"channels"`
	Templates TemplatesConfig `json:"templates"`
	CRM       CRMConfig       `json:"crm"`
	Webhook   WebhookConfig   `json:"webhook"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DSN builds the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
}

type SecurityConfig struct {
	AllowedOrigins   []string      `json:"allowed_origins"`
	AllowCredentials bool          `json:"allow_credentials"`
	CORSMaxAge       int           `json:"cors_max_age"`
	GlobalRateLimit  int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow  time.Duration `json:"rate_limit_window"`
}

type JWTConfig struct {
	SecretKey       string        `json:"secret_key"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	Issuer          string        `json:"issuer"`
	Audience        string        `json:"audience"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	Password    string        `json:"password"`
	DefaultTTL  time.Duration `json:"default_ttl"`
	TemplateTTL time.Duration `json:"template_ttl"`
	OutcomeTTL  time.Duration `json:"outcome_ttl"`
}

type LoggingConfig struct {
	Level           string `json:"level"`
	EnableAccessLog bool   `json:"enable_access_log"`
	SchedulerLog    string `json:"scheduler_log"`
}

type SchedulerConfig struct {
	Enabled     bool          `json:"enabled"`
	Interval    time.Duration `json:"interval"`
	BatchSize   int           `json:"batch_size"`
	Workers     int           `json:"workers"`
	LeaseTTL    time.Duration `json:"lease_ttl"`
	SendTimeout time.Duration `json:"send_timeout"`
}

type ChannelsConfig struct {
	Email  EmailChannelConfig  `json:"email"`
	SMS    SMSChannelConfig    `json:"sms"`
	Social SocialChannelConfig `json:"social"`
	Voice  VoiceChannelConfig  `json:"voice"`
}

type EmailChannelConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	SkipTLS     bool   `json:"skip_tls"`
}

type SMSChannelConfig struct {
	Enabled    bool          `json:"enabled"`
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	SenderName string        `json:"sender_name"`
	Timeout    time.Duration `json:"timeout"`
}

type SocialChannelConfig struct {
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

type VoiceChannelConfig struct {
	Enabled        bool          `json:"enabled"`
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	DefaultAgentID string        `json:"default_agent_id"`
	Timeout        time.Duration `json:"timeout"`
}

type TemplatesConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

type CRMConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

type WebhookConfig struct {
	Secret string `json:"secret"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "sequence_engine"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024),
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.leadpulse.io"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		JWT: JWTConfig{
			SecretKey:       getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			Issuer:          getEnvString("JWT_ISSUER", "sequence-engine"),
			Audience:        getEnvString("JWT_AUDIENCE", "sequence-engine-api"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			RedisURL:    getEnvString("REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("REDIS_DB", 0),
			Password:    getEnvString("REDIS_PASSWORD", ""),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),
			TemplateTTL: getEnvDuration("CACHE_TEMPLATE_TTL", 10*time.Minute),
			OutcomeTTL:  getEnvDuration("CACHE_OUTCOME_TTL", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
			SchedulerLog:    getEnvString("LOG_SCHEDULER_PATH", "logs/scheduler.log"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getEnvBool("SCHEDULER_ENABLED", true),
			Interval:    getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
			BatchSize:   getEnvInt("SCHEDULER_BATCH_SIZE", 200),
			Workers:     getEnvInt("SCHEDULER_WORKERS", 8),
			LeaseTTL:    getEnvDuration("SCHEDULER_LEASE_TTL", 5*time.Minute),
			SendTimeout: getEnvDuration("SCHEDULER_SEND_TIMEOUT", 30*time.Second),
		},
		Channels: ChannelsConfig{
			Email: EmailChannelConfig{
				Enabled:     getEnvBool("CHANNEL_EMAIL_ENABLED", true),
				Host:        getEnvString("CHANNEL_EMAIL_HOST", "localhost"),
				Port:        getEnvInt("CHANNEL_EMAIL_PORT", 587),
				Username:    getEnvString("CHANNEL_EMAIL_USERNAME", ""),
				Password:    getEnvString("CHANNEL_EMAIL_PASSWORD", ""),
				FromAddress: getEnvString("CHANNEL_EMAIL_FROM_ADDRESS", ""),
				FromName:    getEnvString("CHANNEL_EMAIL_FROM_NAME", ""),
				SkipTLS:     getEnvBool("CHANNEL_EMAIL_SKIP_TLS", false),
			},
			SMS: SMSChannelConfig{
				Enabled:    getEnvBool("CHANNEL_SMS_ENABLED", true),
				BaseURL:    getEnvString("CHANNEL_SMS_BASE_URL", ""),
				APIKey:     getEnvString("CHANNEL_SMS_API_KEY", ""),
				SenderName: getEnvString("CHANNEL_SMS_SENDER_NAME", ""),
				Timeout:    getEnvDuration("CHANNEL_SMS_TIMEOUT", 10*time.Second),
			},
			Social: SocialChannelConfig{
				Enabled: getEnvBool("CHANNEL_SOCIAL_ENABLED", true),
				BaseURL: getEnvString("CHANNEL_SOCIAL_BASE_URL", ""),
				APIKey:  getEnvString("CHANNEL_SOCIAL_API_KEY", ""),
				Timeout: getEnvDuration("CHANNEL_SOCIAL_TIMEOUT", 10*time.Second),
			},
			Voice: VoiceChannelConfig{
				Enabled:        getEnvBool("CHANNEL_VOICE_ENABLED", true),
				BaseURL:        getEnvString("CHANNEL_VOICE_BASE_URL", ""),
				APIKey:         getEnvString("CHANNEL_VOICE_API_KEY", ""),
				DefaultAgentID: getEnvString("CHANNEL_VOICE_DEFAULT_AGENT_ID", ""),
				Timeout:        getEnvDuration("CHANNEL_VOICE_TIMEOUT", 10*time.Second),
			},
		},
		Templates: TemplatesConfig{
			BaseURL: getEnvString("TEMPLATES_BASE_URL", ""),
			APIKey:  getEnvString("TEMPLATES_API_KEY", ""),
			Timeout: getEnvDuration("TEMPLATES_TIMEOUT", 10*time.Second),
		},
		CRM: CRMConfig{
			BaseURL: getEnvString("CRM_BASE_URL", ""),
			APIKey:  getEnvString("CRM_API_KEY", ""),
			Timeout: getEnvDuration("CRM_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Secret: getEnvString("WEBHOOK_SECRET", ""),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() error {
	envFile := ".env"

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	if cfg.JWT.SecretKey == "" {
		errors = append(errors, "JWT_SECRET_KEY is required")
	}
	if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	if cfg.Webhook.Secret == "" {
		errors = append(errors, "WEBHOOK_SECRET is required")
	}

	if cfg.Scheduler.BatchSize <= 0 {
		errors = append(errors, "SCHEDULER_BATCH_SIZE must be positive")
	}
	if cfg.Scheduler.Workers <= 0 {
		errors = append(errors, "SCHEDULER_WORKERS must be positive")
	}
	if cfg.Scheduler.LeaseTTL <= 0 {
		errors = append(errors, "SCHEDULER_LEASE_TTL must be positive")
	}

	if cfg.Channels.Email.Enabled && cfg.Channels.Email.FromAddress == "" {
		errors = append(errors, "CHANNEL_EMAIL_FROM_ADDRESS is required when the email channel is enabled")
	}
	if cfg.Channels.SMS.Enabled && cfg.Channels.SMS.BaseURL == "" {
		errors = append(errors, "CHANNEL_SMS_BASE_URL is required when the sms channel is enabled")
	}
	if cfg.Channels.Social.Enabled && cfg.Channels.Social.BaseURL == "" {
		errors = append(errors, "CHANNEL_SOCIAL_BASE_URL is required when the social channel is enabled")
	}
	if cfg.Channels.Voice.Enabled && cfg.Channels.Voice.BaseURL == "" {
		errors = append(errors, "CHANNEL_VOICE_BASE_URL is required when the voice channel is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
