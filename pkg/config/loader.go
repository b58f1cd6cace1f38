package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadDotEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads and validates configuration. An empty configPath builds the
// configuration from defaults and environment overrides alone.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal([]byte(substituteEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// substituteEnv replaces ${VAR} placeholders. Unset variables are left as written.
func substituteEnv(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// applyEnvOverrides sets fields from BOTPILOT_<SECTION>_<FIELD> variables named
// after the json tags, e.g. BOTPILOT_PERSISTENCE_REDIS_ADDR.
func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		envKey := strings.ToUpper(prefix + strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(strings.TrimSpace(envValue)); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(strings.TrimSpace(envValue)); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(strings.Fields(envValue)))
		}
	}
}
