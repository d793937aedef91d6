// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package config loads the identity service configuration from defaults, an
// optional YAML file, IDENTITY_ environment variables and command-line
// flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/auth"
)

// CodeInvalid marks a configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// Duration is a time.Duration written as a Go duration string, e.g. "90s"
// or "72h".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration, e.g. 90s or 72h",
	}
}

// Config is the complete service configuration.
type Config struct {
	HTTP         HTTPConfig         `koanf:"http" yaml:"http"`
	Metrics      MetricsConfig      `koanf:"metrics" yaml:"metrics"`
	Log          LogConfig          `koanf:"log" yaml:"log"`
	Database     DatabaseConfig     `koanf:"database" yaml:"database"`
	Links        LinksConfig        `koanf:"links" yaml:"links"`
	Tokens       TokensConfig       `koanf:"tokens" yaml:"tokens"`
	Session      SessionConfig      `koanf:"session" yaml:"session"`
	Registration RegistrationConfig `koanf:"registration" yaml:"registration"`
	Notify       NotifyConfig       `koanf:"notify" yaml:"notify"`
	SMTP         SMTPConfig         `koanf:"smtp" yaml:"smtp"`
	Redis        RedisConfig        `koanf:"redis" yaml:"redis"`
	Avatar       AvatarConfig       `koanf:"avatar" yaml:"avatar"`
	MinIO        MinIOConfig        `koanf:"minio" yaml:"minio"`
	Maintenance  MaintenanceConfig  `koanf:"maintenance" yaml:"maintenance"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr        string          `koanf:"addr" yaml:"addr" jsonschema:"description=API listen address"`
	CORSOrigins []string        `koanf:"cors_origins" yaml:"cors_origins" jsonschema:"description=Browser origins allowed to call the API"`
	TrustProxy  bool            `koanf:"trust_proxy" yaml:"trust_proxy" jsonschema:"description=Take the client IP from X-Forwarded-For"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-client throttling of the auth routes.
type RateLimitConfig struct {
	Burst int     `koanf:"burst" yaml:"burst" jsonschema:"minimum=1"`
	Rate  float64 `koanf:"rate" yaml:"rate" jsonschema:"description=Sustained requests per second"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" jsonschema:"description=Metrics and health listen address; empty disables it"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig selects the account store.
type DatabaseConfig struct {
	Driver          string   `koanf:"driver" yaml:"driver" jsonschema:"enum=postgres,enum=memory"`
	URL             string   `koanf:"url" yaml:"url"`
	MaxConns        int32    `koanf:"max_conns" yaml:"max_conns"`
	MaxConnLifetime Duration `koanf:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	AutoMigrate     bool     `koanf:"auto_migrate" yaml:"auto_migrate" jsonschema:"description=Apply pending migrations on startup"`
}

// LinksConfig configures the URLs placed in emails.
type LinksConfig struct {
	APIURL             string   `koanf:"api_url" yaml:"api_url" jsonschema:"format=uri"`
	ClientURL          string   `koanf:"client_url" yaml:"client_url" jsonschema:"format=uri"`
	ConfirmRedirectURL string   `koanf:"confirm_redirect_url" yaml:"confirm_redirect_url"`
	AllowedReturnURLs  []string `koanf:"allowed_return_urls" yaml:"allowed_return_urls" jsonschema:"description=Glob patterns for password reset return URLs"`
}

// TokensConfig holds the lifetime of each token purpose.
type TokensConfig struct {
	ConfirmationTTL Duration `koanf:"confirmation_ttl" yaml:"confirmation_ttl"`
	ResetTTL        Duration `koanf:"reset_ttl" yaml:"reset_ttl"`
	EmailChangeTTL  Duration `koanf:"email_change_ttl" yaml:"email_change_ttl"`
	Retention       Duration `koanf:"retention" yaml:"retention" jsonschema:"description=How long expired tokens are kept before the purge removes them"`
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	Secret string   `koanf:"secret" yaml:"secret" jsonschema:"description=HMAC key for session grants (at least 32 bytes)"`
	TTL    Duration `koanf:"ttl" yaml:"ttl"`
	Issuer string   `koanf:"issuer" yaml:"issuer"`
}

// RegistrationConfig configures account registration.
type RegistrationConfig struct {
	AutoLogin bool `koanf:"auto_login" yaml:"auto_login"`
}

// NotifyConfig selects how emails are delivered.
type NotifyConfig struct {
	Sender     string `koanf:"sender" yaml:"sender" jsonschema:"enum=smtp,enum=log"`
	Outbox     string `koanf:"outbox" yaml:"outbox" jsonschema:"enum=memory,enum=redis"`
	Workers    int    `koanf:"workers" yaml:"workers"`
	MaxRetries int    `koanf:"max_retries" yaml:"max_retries"`
}

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string   `koanf:"host" yaml:"host"`
	Port     int      `koanf:"port" yaml:"port"`
	Username string   `koanf:"username" yaml:"username"`
	Password string   `koanf:"password" yaml:"password"`
	From     string   `koanf:"from" yaml:"from"`
	Timeout  Duration `koanf:"timeout" yaml:"timeout"`
}

// RedisConfig configures the redis notification outbox.
type RedisConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
	Stream   string `koanf:"stream" yaml:"stream"`
	Group    string `koanf:"group" yaml:"group"`
}

// AvatarConfig selects the avatar store.
type AvatarConfig struct {
	Store    string `koanf:"store" yaml:"store" jsonschema:"enum=memory,enum=minio,enum=none"`
	MaxBytes int64  `koanf:"max_bytes" yaml:"max_bytes"`
}

// MinIOConfig configures the S3-compatible avatar bucket.
type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`
	AccessKey string `koanf:"access_key" yaml:"access_key"`
	SecretKey string `koanf:"secret_key" yaml:"secret_key"`
	Bucket    string `koanf:"bucket" yaml:"bucket"`
	UseSSL    bool   `koanf:"use_ssl" yaml:"use_ssl"`
	Region    string `koanf:"region" yaml:"region"`
}

// MaintenanceConfig configures the expired-row purge.
type MaintenanceConfig struct {
	PurgeSchedule string `koanf:"purge_schedule" yaml:"purge_schedule" jsonschema:"description=Cron expression; empty disables the scheduled purge"`
}

// Validate checks cross-field rules the schema cannot express. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", key, fmt.Sprintf(format, args...)))
	}
	oneOf := func(key, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			fail(key, "must be one of %v, got %q", allowed, value)
		}
	}

	if c.HTTP.Addr == "" {
		fail("http.addr", "is required")
	}
	if c.HTTP.RateLimit.Burst < 1 {
		fail("http.rate_limit.burst", "must be at least 1")
	}
	if c.HTTP.RateLimit.Rate <= 0 {
		fail("http.rate_limit.rate", "must be positive")
	}
	oneOf("log.format", c.Log.Format, "json", "text")
	oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")

	oneOf("database.driver", c.Database.Driver, "postgres", "memory")
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		fail("database.url", "is required for the postgres driver")
	}

	for key, raw := range map[string]string{"links.api_url": c.Links.APIURL, "links.client_url": c.Links.ClientURL} {
		if u, err := url.Parse(raw); raw == "" || err != nil || u.Host == "" {
			fail(key, "must be an absolute URL, got %q", raw)
		}
	}

	for key, ttl := range map[string]Duration{
		"tokens.confirmation_ttl": c.Tokens.ConfirmationTTL,
		"tokens.reset_ttl":        c.Tokens.ResetTTL,
		"tokens.email_change_ttl": c.Tokens.EmailChangeTTL,
		"tokens.retention":        c.Tokens.Retention,
		"session.ttl":             c.Session.TTL,
	} {
		if ttl <= 0 {
			fail(key, "must be positive")
		}
	}
	if len(c.Session.Secret) < auth.MinSecretLength {
		fail("session.secret", "must be at least %d bytes", auth.MinSecretLength)
	}

	oneOf("notify.sender", c.Notify.Sender, "smtp", "log")
	oneOf("notify.outbox", c.Notify.Outbox, "memory", "redis")
	if c.Notify.Sender == "smtp" && (c.SMTP.Host == "" || c.SMTP.Port == 0 || c.SMTP.From == "") {
		fail("smtp", "host, port and from are required for the smtp sender")
	}
	if c.Notify.Outbox == "redis" && c.Redis.Addr == "" {
		fail("redis.addr", "is required for the redis outbox")
	}

	oneOf("avatar.store", c.Avatar.Store, "memory", "minio", "none")
	if c.Avatar.MaxBytes <= 0 {
		fail("avatar.max_bytes", "must be positive")
	}
	if c.Avatar.Store == "minio" && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		fail("minio", "endpoint and bucket are required for the minio avatar store")
	}

	if len(errs) == 0 {
		return nil
	}
	slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return oops.Code(CodeInvalid).Wrap(errors.Join(errs...))
}

const redacted = "********"

// Redacted returns a copy of c with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Session.Secret = mask(c.Session.Secret)
	c.SMTP.Password = mask(c.SMTP.Password)
	c.Redis.Password = mask(c.Redis.Password)
	c.MinIO.SecretKey = mask(c.MinIO.SecretKey)
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			c.Database.URL = u.Redacted()
		}
	}
	c.HTTP.CORSOrigins = slices.Clone(c.HTTP.CORSOrigins)
	c.Links.AllowedReturnURLs = slices.Clone(c.Links.AllowedReturnURLs)
	return c
}
