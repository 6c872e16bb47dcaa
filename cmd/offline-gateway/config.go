package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is the gateway's process configuration, read from the environment.
type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	UpstreamURL string `env:"UPSTREAM_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	StorePath   string `env:"STORE_PATH" envDefault:"offline-gateway.db"`

	// RulesPath points to a YAML classification rule file. Empty means the
	// built-in default rules.
	RulesPath string `env:"RULES_PATH"`

	// CacheVersion tags every namespace; bumping it makes activation purge
	// the previous generation.
	CacheVersion string `env:"CACHE_VERSION" envDefault:"v1"`

	// BootAssets are upstream paths precached at install, comma separated.
	BootAssets []string `env:"BOOT_ASSETS" envSeparator:","`

	// OfflinePage is the boot asset served to failed navigations.
	OfflinePage string `env:"OFFLINE_PAGE" envDefault:"/offline.html"`

	PeriodicInterval time.Duration `env:"PERIODIC_INTERVAL" envDefault:"15m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
