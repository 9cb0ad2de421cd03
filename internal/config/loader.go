package config

import (
	stderrors "errors"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

// flagBindings maps command line flags onto configuration keys.
var flagBindings = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"threads":     "worker.pool_size",
	"key-bits":    "issuer.key_bits",
	"signing-key": "issuer.signing_key_path",
	"key-source":  "issuer.signing_key_source",
	"issuer":      "issuer.issuer_name",
	"sig-alg":     "issuer.signature_algorithm",
	"valid-days":  "issuer.valid_days",
	"log-level":   "log.level",
	"admin-addr":  "admin.addr",
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", constants.DefaultHost)
	v.SetDefault("server.port", constants.DefaultPort)
	v.SetDefault("server.read_buffer_size", constants.DefaultReadBufferSize)
	v.SetDefault("server.max_name_length", constants.DefaultMaxNameLength)
	v.SetDefault("server.accept_backlog", constants.DefaultAcceptBacklog)
	v.SetDefault("server.event_batch_size", constants.DefaultEventBatchSize)

	v.SetDefault("worker.pool_size", max(1, runtime.NumCPU()))

	v.SetDefault("issuer.signing_key_source", string(constants.KeySourceFile))
	v.SetDefault("issuer.signing_key_path", constants.DefaultSigningKeyPath)
	v.SetDefault("issuer.issuer_name", constants.DefaultIssuerName)
	v.SetDefault("issuer.signature_algorithm", constants.DefaultSignatureAlgorithm)
	v.SetDefault("issuer.valid_days", constants.DefaultValidDays)
	v.SetDefault("issuer.key_bits", constants.DefaultKeyBits)

	v.SetDefault("cache.success_ttl", time.Duration(0))
	v.SetDefault("cache.cleanup_interval", 10*time.Minute)

	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.key_field", "private_key")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.topic", "certforge.issuance")
	v.SetDefault("audit.write_timeout", 10*time.Second)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.batch_timeout", time.Second)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", constants.DefaultAdminAddr)
	v.SetDefault("admin.enable_pprof", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "certforge")
	v.SetDefault("tracing.sampling_rate", 1.0)
}

// LoadConfig loads the configuration from defaults, an optional config file,
// environment variables and, when flags is non-nil, the command line.
// configFile overrides the search path when non-empty.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(constants.DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/certforge/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(err, errors.CodeConfig, "failed to read config file")
		}
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagBindings {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, errors.Wrap(err, errors.CodeConfig, "failed to bind flag --%s", name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RegisterFlags declares the server flags that LoadConfig knows how to bind.
// Defaults mirror SetDefaults so --help output stays truthful.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", constants.DefaultHost, "address the credential protocol listens on")
	fs.Int("port", constants.DefaultPort, "TCP port of the credential protocol")
	fs.Int("threads", max(1, runtime.NumCPU()), "number of issuance workers")
	fs.Int("key-bits", constants.DefaultKeyBits, "RSA modulus size of issued keys")
	fs.String("signing-key", constants.DefaultSigningKeyPath, "PEM file holding the issuer signing key")
	fs.String("key-source", string(constants.KeySourceFile), "where to load the signing key from (file|vault)")
	fs.String("issuer", constants.DefaultIssuerName, "issuer distinguished name")
	fs.String("sig-alg", constants.DefaultSignatureAlgorithm, "certificate signature algorithm")
	fs.Int("valid-days", constants.DefaultValidDays, "certificate validity in days")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
	fs.String("admin-addr", constants.DefaultAdminAddr, "listen address of the admin HTTP surface")
}
