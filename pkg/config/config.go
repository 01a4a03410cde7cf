// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Драйверы хранилища интентов.
const (
	StoreDriverMemory = "memory"
	StoreDriverMySQL  = "mysql"
)

// Config содержит полную конфигурацию SV Pay.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Store       StoreConfig
	MySQL       MySQLConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Jaeger      JaegerConfig
	Metrics     MetricsConfig
	RateLimit   RateLimitConfig
	Discount    DiscountConfig
	Idempotency IdempotencyConfig
	Admin       AdminConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"svpay"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig - настройки HTTP сервера.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig - выбор хранилища интентов.
// memory - in-process хранилище (по умолчанию, состояние теряется при рестарте).
// mysql - GORM хранилище с outbox событиями.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"memory"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"svpay"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
// Redis нужен для идемпотентности authorize и rate limiting.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки Kafka. Пустой список брокеров отключает публикацию событий.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
}

// Enabled возвращает true, если заданы брокеры.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RateLimitConfig - настройки ограничения запросов (требует Redis).
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// DiscountConfig - параметры студенческой скидки по умолчанию.
type DiscountConfig struct {
	Probability float64 `env:"DISCOUNT_PROBABILITY" envDefault:"0.5"`  // Вероятность скидки
	Rate        float64 `env:"DISCOUNT_RATE" envDefault:"0.15"`        // Доля скидки (0.15 = 15%)
	ReasonCode  string  `env:"DISCOUNT_REASON_CODE" envDefault:"STUDENT_DISCOUNT_15"`
}

// OutboxConfig - настройки доставки событий интентов из outbox в Kafka.
type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries   int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	Retention    time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
}

// IdempotencyConfig - время жизни ключей идемпотентности authorize.
type IdempotencyConfig struct {
	TTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// AdminConfig - служебные эндпоинты.
type AdminConfig struct {
	// ResetEnabled открывает DELETE /api/v1/intents (сброс хранилища между сессиями).
	ResetEnabled bool `env:"ADMIN_RESET_ENABLED" envDefault:"false"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}
	return parse()
}

// parse разбирает переменные окружения и проверяет значения.
func parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет значения, которые env не может проверить сам.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverMySQL:
	default:
		return fmt.Errorf("неизвестный STORE_DRIVER: %q", c.Store.Driver)
	}

	if c.Discount.Probability < 0 || c.Discount.Probability > 1 {
		return fmt.Errorf("DISCOUNT_PROBABILITY должна быть в диапазоне [0, 1]: %v", c.Discount.Probability)
	}
	if c.Discount.Rate < 0 || c.Discount.Rate >= 1 {
		return fmt.Errorf("DISCOUNT_RATE должна быть в диапазоне [0, 1): %v", c.Discount.Rate)
	}
	if c.Discount.ReasonCode == "" {
		return fmt.Errorf("DISCOUNT_REASON_CODE обязателен")
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL и OUTBOX_BATCH_SIZE должны быть положительными")
	}
	// При 0 запись уходит в dead letter, не сделав ни одной попытки отправки
	if c.Outbox.MaxRetries < 1 {
		return fmt.Errorf("OUTBOX_MAX_RETRIES должен быть >= 1: %d", c.Outbox.MaxRetries)
	}

	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
