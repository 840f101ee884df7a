// Package config loads the storage core's tunables from the process
// environment, following the pack's envconfig/godotenv convention for
// service configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-tunable knob the storage core reads at
// startup. Defaults match the values the end-to-end scenarios in spec §8
// exercise.
type Config struct {
	PoolSize                 int           `envconfig:"BUFFER_POOL_SIZE" default:"64"`
	ReplacerK                int           `envconfig:"LRU_K" default:"2"`
	PageSize                 int           `envconfig:"PAGE_SIZE" default:"4096"`
	HashBucketCapacity       int           `envconfig:"HASH_BUCKET_CAPACITY" default:"4"`
	DeadlockDetectionInterval time.Duration `envconfig:"DEADLOCK_DETECTION_INTERVAL" default:"50ms"`
	DataDir                  string        `envconfig:"DATA_DIR" default:"."`
}

// Load reads an optional .env file (missing is fine, any other error is
// not) and then populates Config from the environment via envconfig,
// applying the struct's default tags for anything unset.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("coredb", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	return cfg, nil
}
