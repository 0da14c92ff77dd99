package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config is built once at start-up and handed to every component that needs it.
type Config struct {
	Port string

	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	PaystackAPIKey        string
	PaystackInitializeURL string
	PaystackVerifyURL     string
	PaystackWebhookSecret string
	GatewayTimeout        time.Duration

	JWTSecret string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	WebhookReplayTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:              os.Getenv("MONGOURI"),
		MongoDatabase:         getEnv("MONGO_DATABASE", "ridenowdb"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		PaystackAPIKey:        os.Getenv("PAYSTACK_API_KEY"),
		PaystackInitializeURL: getEnv("PAYSTACK_INITIALIZE_URL", "https://api.paystack.co/transaction/initialize"),
		PaystackVerifyURL:     getEnv("PAYSTACK_TRANS_VERIFY_URL", "https://api.paystack.co/transaction/verify/"),
		PaystackWebhookSecret: os.Getenv("PAYSTACK_WEBHOOK_SECRET"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "payment-events"),
	}

	// Paystack signs webhooks with the secret key unless told otherwise.
	if cfg.PaystackWebhookSecret == "" {
		cfg.PaystackWebhookSecret = cfg.PaystackAPIKey
	}

	var err error
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookReplayTTL, err = getDuration("WEBHOOK_REPLAY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if cfg.RedisDB, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
	}
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected store needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGOURI environment variable not set")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q, must be %s or %s", c.StoreDriver, StoreMongo, StorePostgres)
	}
	return nil
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getDuration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return dur, nil
}
