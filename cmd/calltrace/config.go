package main

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
		SentryDSN   string `yaml:"sentry_dsn" env:"SENTRY_DSN"`

		Port     string `yaml:"port" env:"PORT" env-default:"8080"`
		LogLevel string `yaml:"log_level" env:"CALLTRACE_LOG_LEVEL" env-default:"info"`

		// ProfilesStorage is a storageprovider URL: badger:///path,
		// badger://memory, file:///path, mem:// or gs://bucket.
		ProfilesStorage string `yaml:"profiles_storage" env:"CALLTRACE_PROFILES_STORAGE" env-default:"badger:///tmp/calltrace-profiles"`

		// Notifications are disabled without brokers.
		ProfilingKafkaBrokers []string `yaml:"profiling_kafka_brokers" env:"CALLTRACE_KAFKA_BROKERS" env-separator:","`
		ProfilesKafkaTopic    string   `yaml:"profiles_kafka_topic" env:"CALLTRACE_KAFKA_TOPIC" env-default:"calltrace-profiles"`

		RenderWidth   int `yaml:"render_width" env:"CALLTRACE_RENDER_WIDTH" env-default:"1200"`
		RenderHeight  int `yaml:"render_height" env:"CALLTRACE_RENDER_HEIGHT" env-default:"600"`
		RenderWorkers int `yaml:"render_workers" env:"CALLTRACE_RENDER_WORKERS" env-default:"4"`
	}
)

// loadConfig reads the YAML file named by CALLTRACE_CONFIG when set, then
// lets the environment override it.
func loadConfig() (ServiceConfig, error) {
	var c ServiceConfig
	if path := os.Getenv("CALLTRACE_CONFIG"); path != "" {
		err := cleanenv.ReadConfig(path, &c)
		return c, err
	}
	err := cleanenv.ReadEnv(&c)
	return c, err
}
