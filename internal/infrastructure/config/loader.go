package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CNPJ_"

type envOption struct {
	name string
	set  func(c *Config, raw string) error
}

func stringOption(name string, field func(c *Config) *string) envOption {
	return envOption{name: name, set: func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}}
}

func intOption(name string, field func(c *Config) *int) envOption {
	return envOption{name: name, set: func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

func boolOption(name string, field func(c *Config) *bool) envOption {
	return envOption{name: name, set: func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

func durationOption(name string, field func(c *Config) *time.Duration) envOption {
	return envOption{name: name, set: func(c *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}}
}

var envOptions = []envOption{
	stringOption("database-connection-string", func(c *Config) *string { return &c.DatabaseURL }),
	stringOption("download-directory", func(c *Config) *string { return &c.DownloadDir }),
	stringOption("staging-directory", func(c *Config) *string { return &c.StagingDir }),
	intOption("chunk-size", func(c *Config) *int { return &c.ChunkSize }),
	intOption("max-workers", func(c *Config) *int { return &c.MaxWorkers }),
	boolOption("download-enabled", func(c *Config) *bool { return &c.DownloadEnabled }),
	boolOption("import-enabled", func(c *Config) *bool { return &c.ImportEnabled }),
	stringOption("base-url", func(c *Config) *string { return &c.BaseURL }),
	stringOption("log-level", func(c *Config) *string { return &c.LogLevel }),
	stringOption("listen-address", func(c *Config) *string { return &c.ListenAddress }),
	durationOption("connect-timeout", func(c *Config) *time.Duration { return &c.ConnectTimeout }),
	durationOption("download-timeout", func(c *Config) *time.Duration { return &c.DownloadTimeout }),
	durationOption("statement-timeout", func(c *Config) *time.Duration { return &c.StatementTimeout }),
	intOption("max-download-attempts", func(c *Config) *int { return &c.MaxDownloadAttempts }),
}

// EnvName maps an option name to its environment variable.
func EnvName(option string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(option, "-", "_"))
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and the environment, in increasing precedence.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config file: %v", domain.ErrConfiguration, err)
	}
	return nil
}

func applyEnv(cfg *Config, environ []string) error {
	known := make(map[string]envOption, len(envOptions))
	for _, opt := range envOptions {
		known[EnvName(opt.name)] = opt
	}

	var unknown []string
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		opt, found := known[key]
		if !found {
			unknown = append(unknown, key)
			continue
		}
		if err := opt.set(cfg, value); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, key, err)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown options %s", domain.ErrConfiguration, strings.Join(unknown, ", "))
	}

	if cfg.DatabaseURL == "" {
		for _, kv := range environ {
			if value, ok := strings.CutPrefix(kv, "DATABASE_URL="); ok {
				cfg.DatabaseURL = value
			}
		}
	}
	return nil
}
