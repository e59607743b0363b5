package main

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/smallbiznis/photoledger/internal/config"
)

// fnConfig is the function's process configuration. Serverless runtimes hand
// over environment variables only, so there is no .env lookup.
type fnConfig struct {
	AppName     string `env:"APP_SERVICE" envDefault:"photoledger-payfn"`
	AppVersion  string `env:"APP_VERSION" envDefault:"0.1.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	Port        string `env:"PORT" envDefault:"9000"`

	Database struct {
		Type            string `env:"TYPE" envDefault:"postgres"`
		Host            string `env:"HOST" envDefault:"localhost"`
		Port            string `env:"PORT" envDefault:"5432"`
		Name            string `env:"NAME" envDefault:"photoledger"`
		User            string `env:"USER" envDefault:"postgres"`
		Password        string `env:"PASSWORD"`
		SSLMode         string `env:"SSLMODE" envDefault:"disable"`
		MaxOpenConn     int    `env:"MAX_OPEN_CONN" envDefault:"4"`
		MaxIdleConn     int    `env:"MAX_IDLE_CONN" envDefault:"2"`
		ConnMaxLifetime int    `env:"CONN_MAX_LIFETIME" envDefault:"60"`
		ConnMaxIdleTime int    `env:"CONN_MAX_IDLE_TIME" envDefault:"30"`
	} `envPrefix:"DATABASE_"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	EventMarkerTTL time.Duration `env:"PAYMENT_EVENT_MARKER_TTL" envDefault:"24h"`

	Gateway struct {
		Provider          string `env:"PROVIDER" envDefault:"wechatpay"`
		APIv3Key          string `env:"API_V3_KEY,required,notEmpty"`
		PlatformPublicKey string `env:"PLATFORM_PUBLIC_KEY,required,notEmpty"`
		PlatformSerial    string `env:"PLATFORM_SERIAL"`
	} `envPrefix:"GATEWAY_"`

	Notifier struct {
		URL     string        `env:"URL"`
		Token   string        `env:"TOKEN"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"3s"`
	} `envPrefix:"NOTIFIER_"`
}

func loadConfig() (fnConfig, error) {
	return env.ParseAs[fnConfig]()
}

// appConfig maps the function's settings onto the shared application config
// consumed by the domain modules.
func (c fnConfig) appConfig() config.Config {
	return config.Config{
		AppName:           c.AppName,
		AppVersion:        c.AppVersion,
		Environment:       c.Environment,
		HTTPAddr:          ":" + strings.TrimPrefix(c.Port, ":"),
		DBType:            c.Database.Type,
		DBHost:            c.Database.Host,
		DBPort:            c.Database.Port,
		DBName:            c.Database.Name,
		DBUser:            c.Database.User,
		DBPassword:        c.Database.Password,
		DBSSLMode:         c.Database.SSLMode,
		DBMaxOpenConn:     c.Database.MaxOpenConn,
		DBMaxIdleConn:     c.Database.MaxIdleConn,
		DBConnMaxLifetime: c.Database.ConnMaxLifetime,
		DBConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		RedisAddr:         strings.TrimSpace(c.RedisAddr),
		RedisPassword:     c.RedisPassword,
		RedisDB:           c.RedisDB,
		Gateway: config.GatewayConfig{
			Provider:          strings.ToLower(strings.TrimSpace(c.Gateway.Provider)),
			APIv3Key:          c.Gateway.APIv3Key,
			PlatformPublicKey: c.Gateway.PlatformPublicKey,
			PlatformSerial:    strings.TrimSpace(c.Gateway.PlatformSerial),
		},
		Notifier: config.NotifierConfig{
			URL:     strings.TrimSpace(c.Notifier.URL),
			Token:   strings.TrimSpace(c.Notifier.Token),
			Timeout: c.Notifier.Timeout,
		},
		RateLimit: config.RateLimitConfig{
			EventMarkerTTL: c.EventMarkerTTL,
		},
	}
}
