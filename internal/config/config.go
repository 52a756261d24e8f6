// Package config предоставляет структуры и функции для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/magabrotheeeer/video-subscription/internal/models"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env:"ENV" env-default:"local"`
	Storage         `yaml:"storage"`
	RedisConnection `yaml:"redis_connection"`
	HTTPServer      `yaml:"http_server"`
	JWTToken        `yaml:"jwttoken"`
	Runtime         `yaml:"runtime"`
	Billing         `yaml:"billing"`
	RabbitMQ        `yaml:"rabbitmq"`
	RateLimit       `yaml:"rate_limit"`
}

// Storage структура для настройки хранилища
type Storage struct {
	Driver                  string        `yaml:"driver" env-default:"postgres"`
	StorageConnectionString string        `yaml:"connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string        `yaml:"migrations_path" env-default:"./migrations"`
	StoreTimeout            time.Duration `yaml:"store_timeout" env-default:"2s"`
	BcryptCost              int           `yaml:"bcrypt_cost" env-default:"12"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP     string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP     time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	// TrustProxy включает разбор X-Forwarded-For и X-Real-IP. Только за доверенным прокси.
	TrustProxy bool `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY" env-default:"false"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	RedisEnabled   bool          `yaml:"enabled"`
	AddressRedis   string        `yaml:"addressredis"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	User           string        `yaml:"user"`
	DB             int           `yaml:"db"`
	MaxRetries     int           `yaml:"max_retries"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	TimeoutRedis   time.Duration `yaml:"timeoutredis"`
	EntitlementTTL time.Duration `yaml:"entitlement_ttl" env-default:"5m"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Runtime описывает среду исполнения и её возможности.
type Runtime struct {
	RuntimeName   string        `yaml:"name" env:"RUNTIME_NAME" env-default:"server"`
	Capabilities  []string      `yaml:"capabilities" env-default:"crypto_hashing,persistent_sockets"`
	EdgeHeader    string        `yaml:"edge_header"`
	ProbeInterval time.Duration `yaml:"probe_interval" env-default:"5s"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env-default:"1s"`
}

// PromotionCode промокод для провижининга.
type PromotionCode struct {
	Code     string `yaml:"code"`
	CouponID string `yaml:"coupon_id"`
}

// Billing структура для настройки платёжного провайдера
type Billing struct {
	ProcessorURL       string                    `yaml:"processor_url" env-default:"https://api.stripe.com"`
	ProcessorSecretKey string                    `yaml:"processor_secret_key" env:"PROCESSOR_SECRET_KEY"`
	ProcessorTimeout   time.Duration             `yaml:"processor_timeout" env-default:"10s"`
	WebhookSecret      string                    `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	WebhookTolerance   time.Duration             `yaml:"webhook_tolerance" env-default:"5m"`
	Prices             map[string]string         `yaml:"prices"`
	SuccessURL         string                    `yaml:"success_url"`
	CancelURL          string                    `yaml:"cancel_url"`
	Coupons            []models.CouponDefinition `yaml:"coupons"`
	PromotionCodes     []PromotionCode           `yaml:"promotion_codes"`
}

// RabbitMQ структура для настройки очереди платёжных событий
type RabbitMQ struct {
	RabbitEnabled bool          `yaml:"enabled"`
	RabbitURL     string        `yaml:"url" env:"RABBITMQ_URL"`
	Retries       int           `yaml:"retries" env-default:"5"`
	RetryDelay    time.Duration `yaml:"retry_delay" env-default:"2s"`
	Queue         string        `yaml:"queue" env-default:"billing_events"`
	Prefetch      int           `yaml:"prefetch" env-default:"10"`
}

// RateLimit структура для ограничения частоты входа и регистрации
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"5"`
	Burst int     `yaml:"burst" env-default:"10"`
}

// Load читает конфиг из файла path и переменных окружения.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и завершает процесс при ошибке
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return errors.New("jwttoken.jwt_secret_key is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("jwttoken.token_ttl must be positive")
	}
	switch c.Driver {
	case "postgres":
		if c.StorageConnectionString == "" {
			return errors.New("storage.connection_string is required for postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	if _, err := c.TierPrices(); err != nil {
		return err
	}
	if c.RabbitEnabled && c.RabbitURL == "" {
		return errors.New("rabbitmq.url is required when rabbitmq is enabled")
	}
	return nil
}

// TierPrices возвращает отображение тарифа в цену провайдера.
func (c *Config) TierPrices() (map[models.Tier]string, error) {
	prices := make(map[models.Tier]string, len(c.Prices))
	for name, price := range c.Prices {
		tier, err := models.ParseTier(name)
		if err != nil || tier == models.TierNone {
			return nil, fmt.Errorf("billing.prices: invalid tier %q", name)
		}
		if price == "" {
			return nil, fmt.Errorf("billing.prices: empty price for tier %q", name)
		}
		prices[tier] = price
	}
	return prices, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Storage:\n"+
			"  Driver: %s\n"+
			"  StoreTimeout: %s\n"+
			"RedisConnection:\n"+
			"  Enabled: %t\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"Runtime:\n"+
			"  Name: %s\n"+
			"  Capabilities: %v\n"+
			"Billing:\n"+
			"  ProcessorURL: %s\n"+
			"  Prices: %v\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"  Queue: %s\n",
		c.Env,
		c.Driver,
		c.StoreTimeout,
		c.RedisEnabled,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.TokenTTL,
		c.RuntimeName,
		c.Capabilities,
		c.ProcessorURL,
		c.Prices,
		c.RabbitEnabled,
		c.Queue,
	)
}
