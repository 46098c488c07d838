// config.go
package secretariat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration of the service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Wizard  WizardConfig  `mapstructure:"wizard"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// BackendConfig points at the appointment REST API.
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
	ReferenceTTL time.Duration `mapstructure:"reference_ttl"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	AuditTokenHash string `mapstructure:"audit_token_hash"`
}

type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

type WizardConfig struct {
	Attachments AttachmentStrategy `mapstructure:"attachments"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dest   string `mapstructure:"dest"`
}

// LoadConfig reads defaults, an optional YAML file and SECRETARIAT_* variables.
// An empty path searches ./config.yaml and /etc/secretariat/config.yaml.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SECRETARIAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/secretariat")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 32<<20)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.retry_count", 2)
	v.SetDefault("backend.reference_ttl", "5m")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.audit_token_hash", "")

	v.SetDefault("storage.dsn", "file:secretariat.db?_foreign_keys=on")

	v.SetDefault("wizard.attachments", string(AttachmentsDeferred))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.dest", "stdout")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret: %w", ErrInvalidInput)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url: %w", ErrInvalidInput)
	}
	switch c.Wizard.Attachments {
	case AttachmentsDeferred, AttachmentsImmediate:
	default:
		return fmt.Errorf("wizard.attachments %q: %w", c.Wizard.Attachments, ErrInvalidInput)
	}
	return nil
}
