package methodcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/richardartoul/methodcache/backends"
	"github.com/richardartoul/methodcache/pkg/locking"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "METHODCACHE_"

// Config is the environment-driven configuration of a store.
type Config struct {
	Dir        string `env:"DIR" envDefault:".methodcache"`
	MaxEntries int    `env:"MAX_ENTRIES" envDefault:"0"`
	Disabled   bool   `env:"DISABLED"`
	FileLock   bool   `env:"FILE_LOCK"`
	Debug      bool   `env:"DEBUG"`

	S3Bucket string `env:"S3_BUCKET"`
	S3Prefix string `env:"S3_PREFIX"`
	S3Region string `env:"S3_REGION"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

// LoadConfigFrom reads the configuration from vars instead of the process
// environment.
func LoadConfigFrom(vars map[string]string) (Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse cache config: %w", err)
	}
	if cfg.MaxEntries < 0 {
		return Config{}, fmt.Errorf("%sMAX_ENTRIES must be >= 0, got %d", EnvPrefix, cfg.MaxEntries)
	}
	return cfg, nil
}

// Options translates the configuration into store options. The remote
// tier, when configured, is built from the standard AWS credential chain.
func (c Config) Options(ctx context.Context, logger *slog.Logger) ([]Option, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Disabled {
		return []Option{WithDisabled(), WithLogger(logger)}, nil
	}

	opts := []Option{
		WithLogger(logger),
		WithMaxEntries(c.MaxEntries),
	}
	if c.FileLock {
		opts = append(opts, WithLocking(locking.NewFlock(c.Dir)))
	}
	if c.S3Bucket != "" {
		s3, err := backends.NewS3FromEnv(ctx, c.S3Bucket, c.S3Prefix, c.S3Region, logger)
		if err != nil {
			return nil, err
		}
		var remote backends.Backend = s3
		if c.Debug {
			remote = backends.NewDebug(remote, logger)
		}
		opts = append(opts, WithRemote(remote))
	}
	return opts, nil
}

// Open creates the store named name described by cfg. Options in opts are
// applied after the configured ones and take precedence.
func Open(ctx context.Context, name string, cfg Config, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	configured, err := cfg.Options(ctx, o.logger)
	if err != nil {
		return nil, err
	}
	return New(cfg.Dir, name, append(configured, opts...)...)
}
