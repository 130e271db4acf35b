package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-cms-auth"
	"github.com/sirupsen/logrus"
)

// AppConfig holds the process level settings. Token settings live in auth.Config.
type AppConfig struct {
	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"file:cms-auth.db?cache=shared"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	RedisAddr     string `env:"REDIS_ADDR"`
	AMQPURL       string `env:"AMQP_URL"`
	EmailExchange string `env:"EMAIL_EXCHANGE" envDefault:"cms-auth.email"`
	AppBaseURL    string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	UseHashid     bool   `env:"USE_HASHID"`
	Debug         bool   `env:"DEBUG"`

	Auth auth.Config `env:"-"`
}

func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.EmailExchange, validation.Required),
		validation.Field(&c.AppBaseURL, validation.Required, is.URL),
		validation.Field(&c.LogLevel, validation.By(func(value any) error {
			_, err := logrus.ParseLevel(value.(string))
			return err
		})),
	)
}

func loadAppConfig(environment map[string]string) (AppConfig, error) {
	var cfg AppConfig
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse app env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid app config: %w", err)
	}

	authCfg, err := auth.LoadConfig(environment)
	if err != nil {
		return cfg, err
	}
	cfg.Auth = authCfg
	return cfg, nil
}
