// Package config loads server configuration from file, environment
// variables and defaults with viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server. Tags use
// mapstructure for viper unmarshalling; environment variables use the same
// names.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	// AuditDBName is the audit trail's database. Keeping it separate from
	// the operational database means the trail survives operational-store
	// incidents.
	AuditDBName string `mapstructure:"AUDIT_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	// AuditSink selects the trail backend: "mongo", "redis" or "log".
	AuditSink string `mapstructure:"AUDIT_SINK"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	Issuer             string `mapstructure:"ISSUER"`
	JWTSecretKey       string `mapstructure:"JWT_SECRET_KEY"`
	AccessTokenTTLMin  int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	AuthCodeTTLMin     int    `mapstructure:"AUTH_CODE_TTL_MIN"`
	DeviceCodeTTLMin   int    `mapstructure:"DEVICE_CODE_TTL_MIN"`
	DevicePollInterval int    `mapstructure:"DEVICE_POLL_INTERVAL_SEC"`
	VerificationURI    string `mapstructure:"VERIFICATION_URI"`

	// AccessTokenQuota caps live access tokens per refresh token;
	// RefreshTokenQuota caps live refresh tokens per (user, client) pair.
	// Client records can override both.
	AccessTokenQuota  int `mapstructure:"ACCESS_TOKEN_QUOTA"`
	RefreshTokenQuota int `mapstructure:"REFRESH_TOKEN_QUOTA"`

	// AllowPasswordGrant is the server-wide opt-in for the deprecated
	// password grant. Off by default.
	AllowPasswordGrant bool `mapstructure:"ALLOW_PASSWORD_GRANT"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oauthkit/")
	v.AddConfigPath("$HOME/.oauthkit")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/oauthkit_dev")
	v.SetDefault("MONGO_DB_NAME", "oauthkit_dev")
	v.SetDefault("AUDIT_DB_NAME", "oauthkit_audit")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("AUDIT_SINK", "mongo")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("ISSUER", "https://oauthkit.local")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("AUTH_CODE_TTL_MIN", 10)
	v.SetDefault("DEVICE_CODE_TTL_MIN", 15)
	v.SetDefault("DEVICE_POLL_INTERVAL_SEC", 5)
	v.SetDefault("VERIFICATION_URI", "https://oauthkit.local/device")
	v.SetDefault("ACCESS_TOKEN_QUOTA", 5)
	v.SetDefault("REFRESH_TOKEN_QUOTA", 10)
	v.SetDefault("ALLOW_PASSWORD_GRANT", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY must be set")
	}

	return &cfg, nil
}
