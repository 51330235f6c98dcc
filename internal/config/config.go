package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr      string
	PublicBaseURL string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	StoreTimeout time.Duration

	Dodo DodoConfig
}

// DodoConfig holds the Dodo Payments integration settings.
type DodoConfig struct {
	APIKey           string
	WebhookSecret    string
	Mode             string
	ReturnURL        string
	DefaultProductID string
	ReplayWindow     time.Duration
	LookupTimeout    time.Duration
}

const (
	ModeTest = "test_mode"
	ModeLive = "live_mode"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "entitled"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		StoreTimeout: getenvDuration("STORE_TIMEOUT", 5*time.Second),

		Dodo: DodoConfig{
			APIKey:           strings.TrimSpace(getenv("DODO_PAYMENTS_API_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("DODO_PAYMENTS_WEBHOOK_KEY", "")),
			Mode:             normalizeMode(getenv("DODO_PAYMENTS_ENVIRONMENT", ModeTest)),
			ReturnURL:        strings.TrimSpace(getenv("DODO_PAYMENTS_RETURN_URL", "")),
			DefaultProductID: strings.TrimSpace(getenv("DODO_PAYMENTS_PRODUCT_ID", "")),
			ReplayWindow:     getenvDuration("WEBHOOK_REPLAY_WINDOW", 5*time.Minute),
			LookupTimeout:    getenvDuration("DODO_LOOKUP_TIMEOUT", 3*time.Second),
		},
	}

	if cfg.Dodo.ReturnURL == "" {
		cfg.Dodo.ReturnURL = cfg.PublicBaseURL + "/success"
	}

	return cfg
}

func (c Config) IsLive() bool {
	return c.Dodo.Mode == ModeLive
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeLive, "live", "production":
		return ModeLive
	default:
		return ModeTest
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)
