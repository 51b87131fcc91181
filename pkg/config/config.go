package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/media-store/pkg/utils"
)

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	Log          Log          `yaml:"log"`
	HTTP         HTTP         `yaml:"http"`
	Postgres     PG           `yaml:"postgres"`
	Redis        Redis        `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Outbox       Outbox       `yaml:"outbox"`
	PayPal       PayPal       `yaml:"paypal"`
	Token        Token        `yaml:"token"`
	Store        Store        `yaml:"store"`
	Ledger       Ledger       `yaml:"ledger"`
	Redemption   Redemption   `yaml:"redemption"`
	Notification Notification `yaml:"notification"`
	SMTP         SMTP         `yaml:"smtp"`
	Limiter      Limiter      `yaml:"limiter"`
	Catalog      Catalog      `yaml:"catalog"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"notification-service-group"`
}

// Outbox tunes the worker that relays stored events to Kafka.
type Outbox struct {
	BatchSize int           `yaml:"batch_size" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env-default:"500ms"`
	Retention time.Duration `yaml:"retention" env:"OUTBOX_RETENTION" env-default:"168h"`
}

type PayPal struct {
	BaseURL      string        `yaml:"base_url" env:"PAYPAL_BASE_URL" env-default:"https://api-m.sandbox.paypal.com"`
	ClientID     string        `yaml:"client_id" env:"PAYPAL_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"PAYPAL_CLIENT_SECRET"`
	Timeout      time.Duration `yaml:"timeout" env:"PAYPAL_TIMEOUT" env-default:"8s"`
}

// Token holds the entitlement signing keys. Keys maps a key id to a
// hex-encoded secret; ActiveKey names the key used for new tokens.
type Token struct {
	Keys      map[string]string `yaml:"keys" env:"TOKEN_KEYS"`
	ActiveKey string            `yaml:"active_key" env:"TOKEN_ACTIVE_KEY" env-default:"v1"`
	TTL       time.Duration     `yaml:"ttl" env:"TOKEN_TTL" env-default:"168h"`
}

type Store struct {
	Origin string `yaml:"origin" env:"STORE_ORIGIN" env-default:"http://localhost:3000"`
}

type Ledger struct {
	Enabled bool `yaml:"enabled" env:"LEDGER_ENABLED" env-default:"false"`
}

type Redemption struct {
	SingleUse bool `yaml:"single_use" env:"REDEMPTION_SINGLE_USE" env-default:"false"`
}

type Notification struct {
	OperatorEmail string `yaml:"operator_email" env:"OPERATOR_EMAIL"`
	Topic         string `yaml:"topic" env:"NOTIFICATION_TOPIC" env-default:"purchase_events"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Catalog struct {
	Products []Product `yaml:"products"`
}

// Product is a catalog entry as written in the config file. Price is a
// decimal string in major units ("9.99").
type Product struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Price      string `yaml:"price"`
	Currency   string `yaml:"currency"`
	ContentRef string `yaml:"content_ref"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
