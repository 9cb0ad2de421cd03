package config

import (
	"fmt"
	"time"

	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Issuer  IssuerConfig  `mapstructure:"issuer"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ReadBufferSize int    `mapstructure:"read_buffer_size"`
	MaxNameLength  int    `mapstructure:"max_name_length"`
	AcceptBacklog  int    `mapstructure:"accept_backlog"`
	EventBatchSize int    `mapstructure:"event_batch_size"`
}

// Addr returns the host:port the reactor listens on.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

type IssuerConfig struct {
	SigningKeySource   string `mapstructure:"signing_key_source"`
	SigningKeyPath     string `mapstructure:"signing_key_path"`
	IssuerName         string `mapstructure:"issuer_name"`
	SignatureAlgorithm string `mapstructure:"signature_algorithm"`
	ValidDays          int    `mapstructure:"valid_days"`
	KeyBits            int    `mapstructure:"key_bits"`
}

// CacheConfig controls retention of successfully issued bundles.
// A zero SuccessTTL keeps them for the lifetime of the process.
type CacheConfig struct {
	SuccessTTL      time.Duration `mapstructure:"success_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	KeyPath   string `mapstructure:"key_path"`
	KeyField  string `mapstructure:"key_field"`
}

type AuditConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type AdminConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	EnablePprof bool   `mapstructure:"enable_pprof"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// supportedSignatureAlgorithms lists the algorithm names accepted in issuer.signature_algorithm.
var supportedSignatureAlgorithms = map[string]bool{
	"SHA256withRSA":   true,
	"SHA384withRSA":   true,
	"SHA512withRSA":   true,
	"SHA256withECDSA": true,
	"SHA384withECDSA": true,
	"SHA512withECDSA": true,
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return errors.New(errors.CodeConfig, "server.port out of range: %d", c.Server.Port)
	case c.Server.MaxNameLength < 1:
		return errors.New(errors.CodeConfig, "server.max_name_length must be positive")
	case c.Server.ReadBufferSize < constants.MinReadBufferSize:
		return errors.New(errors.CodeConfig, "server.read_buffer_size must be at least %d", constants.MinReadBufferSize)
	case c.Server.EventBatchSize < 1:
		return errors.New(errors.CodeConfig, "server.event_batch_size must be positive")
	case c.Worker.PoolSize < 1:
		return errors.New(errors.CodeConfig, "worker.pool_size must be positive")
	case c.Issuer.KeyBits < constants.MinKeyBits:
		return errors.New(errors.CodeConfig, "issuer.key_bits must be at least %d", constants.MinKeyBits)
	case c.Issuer.ValidDays < 1:
		return errors.New(errors.CodeConfig, "issuer.valid_days must be positive")
	case !supportedSignatureAlgorithms[c.Issuer.SignatureAlgorithm]:
		return errors.New(errors.CodeConfig, "unsupported signature algorithm %q", c.Issuer.SignatureAlgorithm)
	case c.Cache.SuccessTTL < 0:
		return errors.New(errors.CodeConfig, "cache.success_ttl must not be negative")
	}

	switch constants.KeySource(c.Issuer.SigningKeySource) {
	case constants.KeySourceFile:
		if c.Issuer.SigningKeyPath == "" {
			return errors.New(errors.CodeConfig, "issuer.signing_key_path is required for the file key source")
		}
	case constants.KeySourceVault:
		if c.Vault.Address == "" || c.Vault.KeyPath == "" {
			return errors.New(errors.CodeConfig, "vault.address and vault.key_path are required for the vault key source")
		}
	default:
		return errors.New(errors.CodeConfig, "unknown signing key source %q", c.Issuer.SigningKeySource)
	}

	if c.Audit.Enabled && (len(c.Audit.Brokers) == 0 || c.Audit.Topic == "") {
		return errors.New(errors.CodeConfig, "audit.brokers and audit.topic are required when audit is enabled")
	}
	return nil
}
