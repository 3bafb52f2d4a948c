// Package config loads server configuration from an optional YAML file,
// REGISTRY_ environment variables and built-in defaults, in that order of
// precedence from last to first.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/telemetry"
)

const EnvPrefix = "REGISTRY"

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type RPCConfig struct {
	Socket string `mapstructure:"socket"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type RulesConfig struct {
	Path     string        `mapstructure:"path"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SchemaCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	DB          DBConfig          `mapstructure:"db"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Log         LogConfig         `mapstructure:"log"`
	WriteRoles  []string          `mapstructure:"write_roles"`
	Tracing     telemetry.Config  `mapstructure:"tracing"`
	SchemaCache SchemaCacheConfig `mapstructure:"schema_cache"`
}

func Defaults() Config {
	return Config{
		HTTP:       HTTPConfig{Addr: ":8080"},
		RPC:        RPCConfig{Socket: "/tmp/registry.sock"},
		DB:         DBConfig{Path: "registry.db"},
		Rules:      RulesConfig{Path: "visibility-rules.yaml", Watch: true, Debounce: 250 * time.Millisecond},
		Log:        LogConfig{Level: "info"},
		WriteRoles: []string{domain.DefaultRole, domain.AdminRole},
		Tracing: telemetry.Config{
			Exporter:    "stdout",
			SampleRate:  1,
			ServiceName: telemetry.DefaultServiceName,
		},
		SchemaCache: SchemaCacheConfig{TTL: 10 * time.Minute},
	}
}

// New returns a viper instance primed with defaults and environment binding.
// Flags are layered on top by the caller with Set.
func New() *viper.Viper {
	d := Defaults()
	v := viper.New()
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("rpc.socket", d.RPC.Socket)
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("rules.path", d.Rules.Path)
	v.SetDefault("rules.watch", d.Rules.Watch)
	v.SetDefault("rules.debounce", d.Rules.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("write_roles", d.WriteRoles)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("schema_cache.ttl", d.SchemaCache.TTL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads path into v. With an empty path, registry.yaml in the working
// directory is used when present.
func Read(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("registry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.WriteRoles = normalizeRoles(cfg.WriteRoles)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is Read followed by Decode on a fresh instance.
func Load(path string) (Config, error) {
	v := New()
	if err := Read(v, path); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("db.path is required")
	}
	if strings.TrimSpace(c.Rules.Path) == "" {
		return errors.New("rules.path is required")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.SchemaCache.TTL < 0 {
		return errors.New("schema_cache.ttl must not be negative")
	}
	if len(c.WriteRoles) == 0 {
		return errors.New("write_roles must name at least one role")
	}
	return nil
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// normalizeRoles flattens comma separated entries, as env values arrive.
func normalizeRoles(in []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, item := range in {
		for _, role := range strings.Split(item, ",") {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}
	return out
}
