package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

const DefaultBaseURL = "https://arquivos.receitafederal.gov.br/dados/cnpj/dados_abertos_cnpj/"

// Config is the single configuration record of the loader. Field tags are the
// option names accepted in the YAML file; unknown options are rejected.
type Config struct {
	DatabaseURL         string        `yaml:"database-connection-string"`
	DownloadDir         string        `yaml:"download-directory"`
	StagingDir          string        `yaml:"staging-directory"`
	ChunkSize           int           `yaml:"chunk-size"`
	MaxWorkers          int           `yaml:"max-workers"`
	DownloadEnabled     bool          `yaml:"download-enabled"`
	ImportEnabled       bool          `yaml:"import-enabled"`
	BaseURL             string        `yaml:"base-url"`
	LogLevel            string        `yaml:"log-level"`
	ListenAddress       string        `yaml:"listen-address"`
	ConnectTimeout      time.Duration `yaml:"connect-timeout"`
	DownloadTimeout     time.Duration `yaml:"download-timeout"`
	StatementTimeout    time.Duration `yaml:"statement-timeout"`
	MaxDownloadAttempts int           `yaml:"max-download-attempts"`
}

func Default() *Config {
	return &Config{
		DownloadDir:         "./downloads",
		StagingDir:          "./data",
		ChunkSize:           50000,
		MaxWorkers:          4,
		DownloadEnabled:     true,
		ImportEnabled:       true,
		BaseURL:             DefaultBaseURL,
		LogLevel:            "info",
		ListenAddress:       ":8080",
		ConnectTimeout:      30 * time.Second,
		DownloadTimeout:     300 * time.Second,
		StatementTimeout:    30 * time.Second,
		MaxDownloadAttempts: 3,
	}
}

var weakPasswords = map[string]bool{
	"postgres": true,
	"password": true,
	"changeme": true,
	"admin":    true,
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("%w: database-connection-string is required", domain.ErrConfiguration)
	}
	pgCfg, err := pgconn.ParseConfig(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: database-connection-string: %v", domain.ErrConfiguration, err)
	}
	if weakPasswords[strings.ToLower(pgCfg.Password)] && !isLocalHost(pgCfg.Host) {
		return fmt.Errorf("%w: insecure secret for non-local database host %s", domain.ErrConfiguration, pgCfg.Host)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk-size must be positive", domain.ErrConfiguration)
	}
	if c.MaxWorkers < 1 || c.MaxWorkers > 32 {
		return fmt.Errorf("%w: max-workers must be between 1 and 32", domain.ErrConfiguration)
	}
	if c.MaxDownloadAttempts < 1 {
		return fmt.Errorf("%w: max-download-attempts must be at least 1", domain.ErrConfiguration)
	}
	if c.DownloadDir == "" || c.StagingDir == "" {
		return fmt.Errorf("%w: download-directory and staging-directory are required", domain.ErrConfiguration)
	}
	if c.DownloadEnabled {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: base-url must be an http(s) URL", domain.ErrConfiguration)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log-level %q", domain.ErrConfiguration, c.LogLevel)
	}
	return nil
}

// Redacted returns the connection string with its password masked, for logs.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || u.User == nil {
		if strings.Contains(c.DatabaseURL, "password=") {
			return "<redacted>"
		}
		return c.DatabaseURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func isLocalHost(host string) bool {
	if host == "localhost" || strings.HasPrefix(host, "/") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
