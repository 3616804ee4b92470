package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всего сервиса.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Trace      TraceConfig      `mapstructure:"trace"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// AnthropicConfig — доступ к reasoning-бэкенду.
type AnthropicConfig struct {
	APIKey       string `mapstructure:"api_key"` // Пусто — берем ANTHROPIC_API_KEY из ENV
	DefaultModel string `mapstructure:"default_model"`
	MaxTokens    int64  `mapstructure:"max_tokens"`
}

// EngineConfig содержит настройки ядра оркестрации.
type EngineConfig struct {
	JournalBufferSize    int           `mapstructure:"journal_buffer_size"`
	JournalFlushInterval time.Duration `mapstructure:"journal_flush_interval"`
	JournalBatchSize     int           `mapstructure:"journal_batch_size"`

	// Настройки Circuit Breaker и лимитера перед reasoning-бэкендом
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// QuotaConfig — предохранитель квоты upstream.
type QuotaConfig struct {
	// DefaultBackoff используется, когда upstream не прислал retry-after
	DefaultBackoff time.Duration `mapstructure:"default_backoff"`
}

// TraceConfig — удержание трейсов в памяти.
type TraceConfig struct {
	Retention int `mapstructure:"retention"` // Максимум трейсов в L1, старые вытесняются
}

// ApprovalConfig — HITL-заявки.
type ApprovalConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// EscalationConfig — порог эскалации как данные, не как код.
// Rules: urgency -> минимальная severity, начиная с которой нужен апрув.
type EscalationConfig struct {
	Rules map[string]string `mapstructure:"rules"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("anthropic.default_model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("engine.journal_buffer_size", 10000)
	v.SetDefault("engine.journal_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.journal_batch_size", 100)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.rate_limit_rps", 10)
	v.SetDefault("engine.rate_burst", 5)
	v.SetDefault("quota.default_backoff", time.Hour)
	v.SetDefault("trace.retention", 256)
	v.SetDefault("approval.ttl", 24*time.Hour)
	v.SetDefault("escalation.rules", map[string]string{
		"low":      "high",
		"medium":   "high",
		"high":     "medium",
		"critical": "medium",
	})
}

// loadKeyResource — ключ либо прилетает напрямую в ENV, либо читается из файла.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
