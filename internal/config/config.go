package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

const envPrefix = "GEOMAG_"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Batch    BatchConfig    `koanf:"batch"`
	Log      LogConfig      `koanf:"log"`
	Warm     WarmConfig     `koanf:"warm"`

	// WarmKeys is populated by Load from Warm.Keys.
	WarmKeys []geomag.QueryKey `koanf:"-" validate:"-"`
}

type ServerConfig struct {
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
	WebOrigin string `koanf:"web_origin" validate:"required"`
}

type UpstreamConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout" validate:"gte=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=0,max=10"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
}

type CacheConfig struct {
	TTLLatest     time.Duration `koanf:"ttl_latest" validate:"gt=0"`
	TTLHistorical time.Duration `koanf:"ttl_historical" validate:"gt=0"`
	MaxEntries    int           `koanf:"max_entries" validate:"min=0"`
	NegativeTTL   time.Duration `koanf:"negative_ttl" validate:"gte=0"`
	// SweepInterval of zero disables the background sweep.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`
}

type BatchConfig struct {
	MaxItems    int           `koanf:"max_items" validate:"min=1"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	Concurrency int           `koanf:"concurrency" validate:"min=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type WarmConfig struct {
	// Interval of zero disables warm-up.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
	// Keys is a comma separated list of
	// [domain:]station/name/sensor/method/aspect/period entries.
	Keys string `koanf:"keys"`
}

var defaults = map[string]interface{}{
	"server.port":              8080,
	"server.web_origin":        "*",
	"upstream.base_url":        "https://tilde.geonet.org.nz/v4",
	"upstream.timeout":         "30s",
	"upstream.attempt_timeout": "10s",
	"upstream.max_retries":     2,
	"upstream.initial_backoff": "200ms",
	"upstream.max_backoff":     "2s",
	"cache.ttl_latest":         "5m",
	"cache.ttl_historical":     "24h",
	"cache.max_entries":        1000,
	"cache.negative_ttl":       "0s",
	"cache.sweep_interval":     "1m",
	"batch.max_items":          20,
	"batch.timeout":            "30s",
	"batch.concurrency":        8,
	"log.level":                "info",
	"warm.interval":            "0s",
	"warm.keys":                "",
}

// aliases maps the unprefixed variables understood by earlier deployments
// to config keys. Prefixed variables win.
var aliases = map[string]string{
	"PORT":           "server.port",
	"WEB_ORIGIN":     "server.web_origin",
	"TILDE_BASE_URL": "upstream.base_url",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads configuration from defaults, an optional YAML file, a .env file
// and the environment, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	for name, key := range aliases {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := ParseWarmKeys(cfg.Warm.Keys)
	if err != nil {
		return nil, err
	}
	cfg.WarmKeys = keys

	return &cfg, nil
}

// Validate checks field constraints and reports the first violation by its
// config key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}
	fe := verrs[0]
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Errorf("invalid %s %v (must satisfy %s=%s)", key, fe.Value(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("invalid %s %v (must satisfy %s)", key, fe.Value(), fe.Tag())
}

// ParseWarmKeys parses a comma separated list of
// [domain:]station/name/sensor/method/aspect/period entries.
func ParseWarmKeys(s string) ([]geomag.QueryKey, error) {
	var keys []geomag.QueryKey
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		domain := ""
		if d, rest, ok := strings.Cut(raw, ":"); ok {
			domain, raw = d, rest
		}

		parts := strings.Split(raw, "/")
		if len(parts) != 6 {
			return nil, fmt.Errorf("invalid warm key %q: want station/name/sensor/method/aspect/period", raw)
		}
		sel, err := geomag.ParsePeriod(parts[5])
		if err != nil {
			return nil, fmt.Errorf("invalid warm key %q: %w", raw, err)
		}

		key := geomag.QueryKey{
			Domain:     domain,
			Station:    parts[0],
			Name:       parts[1],
			SensorCode: parts[2],
			Method:     parts[3],
			Aspect:     parts[4],
			Selector:   sel,
		}.Normalize()
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("invalid warm key %q: %w", raw, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
