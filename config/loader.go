package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix namespaces the orchestrator's environment variables:
	// SAGAFORGE_SERVER_PORT overrides server.port.
	EnvPrefix = "SAGAFORGE_"
	// Delimiter separates nested keys.
	Delimiter = "."
)

// Loader layers configuration sources onto a koanf tree. Precedence, lowest
// first: built-in defaults, config file, environment, explicit overrides
// (CLI flags).
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges all sources, backfills defaults, and returns the validated
// Config. An empty path probes the standard file locations instead.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		l.loadWellKnownFiles()
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	// A file that sets one key of a nested section replaces the whole
	// section in koanf's tree, so restore any default key the merge lost.
	if err := l.backfillDefaults(); err != nil {
		return nil, fmt.Errorf("failed to fill defaults: %w", err)
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := DefaultConfig()
	return l.k.Load(confmap.Provider(map[string]interface{}{
		"app":        defaults.App,
		"server":     defaults.Server,
		"log":        defaults.Log,
		"execution":  defaults.Execution,
		"scheduler":  defaults.Scheduler,
		"storage":    defaults.Storage,
		"cache":      defaults.Cache,
		"rate_limit": defaults.RateLimit,
		"breaker":    defaults.Breaker,
		"metrics":    defaults.Metrics,
		"tracing":    defaults.Tracing,
	}, Delimiter), nil)
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

// loadWellKnownFiles picks the first config file found in the standard
// locations. Missing files are fine; a malformed one is skipped too, since
// the caller did not name it explicitly.
func (l *Loader) loadWellKnownFiles() {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"configs/config.yaml",
		"/etc/sagaforge/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = l.loadFile(path)
			return
		}
	}
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
}

// backfillDefaults restores default values for keys a partial section merge
// wiped out, by flattening DefaultConfig and filling every absent key.
func (l *Loader) backfillDefaults() error {
	for key, value := range flattenStruct(DefaultConfig(), "") {
		if l.k.Get(key) == nil {
			if err := l.k.Set(key, value); err != nil {
				return fmt.Errorf("failed to set default for %s: %w", key, err)
			}
		}
	}
	return nil
}

// flattenStruct converts a config struct into a flat key map keyed by the
// mapstructure tags, recursing into nested sections.
func flattenStruct(v interface{}, prefix string) map[string]interface{} {
	flat := make(map[string]interface{})
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return flat
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + Delimiter + key
		}

		switch fieldVal.Kind() {
		case reflect.Ptr:
			if !fieldVal.IsNil() {
				for k, nested := range flattenStruct(fieldVal.Elem().Interface(), key) {
					flat[k] = nested
				}
			}
		case reflect.Struct:
			for k, nested := range flattenStruct(fieldVal.Interface(), key) {
				flat[k] = nested
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			// time.Duration lands here and round-trips as its int64 value.
			flat[key] = fieldVal.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			flat[key] = fieldVal.Uint()
		case reflect.Float32, reflect.Float64:
			flat[key] = fieldVal.Float()
		case reflect.Bool:
			flat[key] = fieldVal.Bool()
		case reflect.String:
			flat[key] = fieldVal.String()
		case reflect.Slice:
			elems := make([]interface{}, fieldVal.Len())
			for j := range elems {
				elems[j] = fieldVal.Index(j).Interface()
			}
			flat[key] = elems
		default:
			flat[key] = fieldVal.Interface()
		}
	}
	return flat
}

// Load is the package-level convenience wrapper around a fresh Loader.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
