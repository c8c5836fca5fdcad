package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	History HistoryConfig `mapstructure:"history"`
	Storage StorageConfig `mapstructure:"storage"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Auth    AuthConfig    `mapstructure:"auth"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port" validate:"min=0,max=65535"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	RateLimitPerMin   int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
}

// ClientConfig drives the widget-side connection manager.
type ClientConfig struct {
	ServerURL            string        `mapstructure:"server_url" validate:"required"`
	AuthToken            string        `mapstructure:"auth_token"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"min=0"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	OpenTimeout          time.Duration `mapstructure:"open_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ResponseTimeout      time.Duration `mapstructure:"response_timeout"`
	QueueCapacity        int           `mapstructure:"queue_capacity" validate:"min=1"`
}

type HistoryConfig struct {
	MaxTokens     int `mapstructure:"max_tokens" validate:"min=1"`
	ReserveTokens int `mapstructure:"reserve_tokens" validate:"min=0"`
	MaxSessions   int `mapstructure:"max_sessions" validate:"min=1"`
}

// StorageConfig locates the client-side sqlite session store.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig is the dev backend's postgres transcript archive.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c ArchiveConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LLMConfig struct {
	DefaultProvider string       `mapstructure:"default_provider"`
	Gemini          GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	FilePath string `mapstructure:"file_path"`
}

var validate = validator.New()

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Override with environment variables
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.middleware_timeout", "60s")
	v.SetDefault("server.rate_limit_per_minute", 30)
	v.SetDefault("server.rate_limit_burst", 10)

	// Client
	v.SetDefault("client.server_url", "ws://localhost:8080/ws")
	v.SetDefault("client.max_reconnect_attempts", 10)
	v.SetDefault("client.reconnect_base_delay", "1s")
	v.SetDefault("client.reconnect_max_delay", "30s")
	v.SetDefault("client.open_timeout", "10s")
	v.SetDefault("client.heartbeat_interval", "30s")
	v.SetDefault("client.response_timeout", "30s")
	v.SetDefault("client.queue_capacity", 50)

	// History
	v.SetDefault("history.max_tokens", 4000)
	v.SetDefault("history.reserve_tokens", 500)
	v.SetDefault("history.max_sessions", 20)

	// Storage
	v.SetDefault("storage.path", "chatlink.db")

	// Archive
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.host", "localhost")
	v.SetDefault("archive.port", 5432)
	v.SetDefault("archive.user", "chatlink")
	v.SetDefault("archive.database", "chatlink")
	v.SetDefault("archive.ssl_mode", "disable")
	v.SetDefault("archive.max_conns", 10)
	v.SetDefault("archive.min_conns", 2)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_ttl", "24h")

	// LLM
	v.SetDefault("llm.default_provider", "echo")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Client
	v.BindEnv("client.server_url", "CHATLINK_SERVER_URL")
	v.BindEnv("client.auth_token", "CHATLINK_AUTH_TOKEN")

	// Storage
	v.BindEnv("storage.path", "CHATLINK_DB_PATH")

	// Archive
	v.BindEnv("archive.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// LLM API Keys
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
}
