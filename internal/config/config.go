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
	HTTPAddr    string

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
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway   GatewayConfig
	Notifier  NotifierConfig
	RateLimit RateLimitConfig

	// InternalToken authenticates the serverless ingress and admin callers.
	InternalToken string
	AdminActors   []string
}

// GatewayConfig carries the payment gateway merchant credentials.
type GatewayConfig struct {
	Provider          string
	BaseURL           string
	MerchantID        string
	APIv3Key          string
	PlatformPublicKey string
	PlatformSerial    string
	Timeout           time.Duration
	MaxRetries        int
}

// NotifierConfig points the serverless ingress at the primary backend.
type NotifierConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// RateLimitConfig guards the direct settlement path. It needs Redis.
type RateLimitConfig struct {
	Enabled        bool
	SettleRate     float64
	SettleBurst    int
	SettleLockTTL  time.Duration
	EventMarkerTTL time.Duration
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewLedgerConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "photoledger"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "photoledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		Gateway: GatewayConfig{
			Provider:          strings.ToLower(getenv("GATEWAY_PROVIDER", "wechatpay")),
			BaseURL:           strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.mch.weixin.qq.com"), "/"),
			MerchantID:        strings.TrimSpace(getenv("GATEWAY_MERCHANT_ID", "")),
			APIv3Key:          getenv("GATEWAY_API_V3_KEY", ""),
			PlatformPublicKey: getenv("GATEWAY_PLATFORM_PUBLIC_KEY", ""),
			PlatformSerial:    strings.TrimSpace(getenv("GATEWAY_PLATFORM_SERIAL", "")),
			Timeout:           time.Duration(getenvInt64("GATEWAY_TIMEOUT_MS", 10000)) * time.Millisecond,
			MaxRetries:        int(getenvInt64("GATEWAY_MAX_RETRIES", 3)),
		},
		Notifier: NotifierConfig{
			URL:     strings.TrimSpace(getenv("NOTIFIER_URL", "")),
			Token:   strings.TrimSpace(getenv("NOTIFIER_TOKEN", "")),
			Timeout: time.Duration(getenvInt64("NOTIFIER_TIMEOUT_MS", 3000)) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:        strings.EqualFold(getenv("RATE_LIMIT_ENABLED", "false"), "true"),
			SettleRate:     getenvFloat("RATE_LIMIT_SETTLE_RATE", 1),
			SettleBurst:    int(getenvInt64("RATE_LIMIT_SETTLE_BURST", 5)),
			SettleLockTTL:  time.Duration(getenvInt64("RATE_LIMIT_SETTLE_LOCK_TTL_SECONDS", 30)) * time.Second,
			EventMarkerTTL: time.Duration(getenvInt64("PAYMENT_EVENT_MARKER_TTL_SECONDS", 86400)) * time.Second,
		},
		InternalToken: strings.TrimSpace(getenv("INTERNAL_TOKEN", "")),
		AdminActors:   splitList(getenv("ADMIN_ACTORS", "")),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
