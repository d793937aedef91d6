// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package config

import (
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: IDENTITY_HTTP__RATE_LIMIT__BURST sets
// http.rate_limit.burst.
const EnvPrefix = "IDENTITY_"

// defaults are loaded before any other source.
var defaults = map[string]any{
	"http.addr":                  ":8080",
	"http.rate_limit.burst":      20,
	"http.rate_limit.rate":       1.0,
	"metrics.addr":               "127.0.0.1:9100",
	"log.format":                 "json",
	"log.level":                  "info",
	"database.driver":            "postgres",
	"database.max_conns":         10,
	"database.max_conn_lifetime": "1h",
	"links.api_url":              "http://localhost:8080",
	"links.client_url":           "http://localhost:3000",
	"tokens.confirmation_ttl":    "72h",
	"tokens.reset_ttl":           "1h",
	"tokens.email_change_ttl":    "1h",
	"tokens.retention":           "168h",
	"session.ttl":                "24h",
	"session.issuer":             "socialhub-identity",
	"notify.sender":              "log",
	"notify.outbox":              "memory",
	"notify.workers":             2,
	"notify.max_retries":         5,
	"smtp.port":                  587,
	"smtp.timeout":               "10s",
	"redis.addr":                 "localhost:6379",
	"redis.stream":               "identity:notifications",
	"redis.group":                "identity-mailer",
	"avatar.store":               "memory",
	"avatar.max_bytes":           2 << 20,
	"minio.bucket":               "avatars",
	"maintenance.purge_schedule": "17 * * * *",
}

// flagKeys maps the flags RegisterFlags defines to config keys.
var flagKeys = map[string]string{
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
}

// RegisterFlags adds the flags that override configuration keys. Flags
// left unset never override the file or the environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", "", "API listen address (http.addr)")
	fs.String("metrics-addr", "", "metrics/health listen address, empty disables (metrics.addr)")
	fs.String("log-format", "", "log format: json or text (log.format)")
	fs.String("log-level", "", "log level: debug, info, warn or error (log.level)")
	fs.String("database-driver", "", "account store: postgres or memory (database.driver)")
	fs.String("database-url", "", "PostgreSQL connection URL (database.url)")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup (database.auto_migrate)")
}

// Load builds the effective configuration. path names an optional YAML
// file and flags may be nil. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k, err := load(path, flags)
	if err != nil {
		return nil, err
	}

	var cfg Config
	conf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           &cfg,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, conf); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, flags *pflag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_READ_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("source", "flags").Wrap(err)
		}
	}
	return k, nil
}

// envKey maps IDENTITY_HTTP__CORS_ORIGINS to http.cors_origins.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// YAML renders c with secrets redacted.
func (c Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c.Redacted())
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	return out, nil
}
