// Package config loads and validates conduitd's YAML configuration:
// database connections, per-tag queue bounds, and ambient settings. The
// ${env.VAR} substitution pass and the yaml.v3-tagged struct shape are
// lifted from gsoultan-Hermod's internal/config (config.go), generalized
// from its single-engine Engine/Buffer/StateStore sections into the
// Databases/Connections shape spec.md §6 defines; viper layers an
// environment-variable overlay on top, in the style of
// flyingrobots-go-redis-work-queue's internal/config.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Databases   DatabasesConfig    `yaml:"databases"`
	Connections []ConnectionConfig `yaml:"connections"`
	HTTP        HTTPConfig         `yaml:"http"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// DatabasesConfig holds the process-wide defaults spec.md §6 names.
type DatabasesConfig struct {
	DefaultWorkers           int `yaml:"default_workers"`
	MaxChildQueues           int `yaml:"max_child_queues"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
}

// TagBoundsConfig is one tag's configured min/max child count.
type TagBoundsConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// QueuesConfig carries the four delegable tags' bounds.
type QueuesConfig struct {
	Slow   TagBoundsConfig `yaml:"slow"`
	Medium TagBoundsConfig `yaml:"medium"`
	Fast   TagBoundsConfig `yaml:"fast"`
	Cache  TagBoundsConfig `yaml:"cache"`
}

// ConnectionConfig is one configured database (spec.md §6's
// per-connection option list).
type ConnectionConfig struct {
	Enabled        bool         `yaml:"enabled"`
	Name           string       `yaml:"name"`
	Engine         string       `yaml:"engine"` // postgresql, sqlite, mysql, db2
	Host           string       `yaml:"host"`
	Port           int          `yaml:"port"`
	Database       string       `yaml:"database"`
	User           string       `yaml:"user"`
	Password       string       `yaml:"password"`
	FilePath       string       `yaml:"file_path"` // sqlite only
	BootstrapQuery string       `yaml:"bootstrap_query"`
	Queues         QueuesConfig `yaml:"queues"`
}

// HTTPConfig controls the ambient HTTP surface.
type HTTPConfig struct {
	Addr                     string `yaml:"addr"`
	RateLimitRequestsPerSec  int    `yaml:"rate_limit_requests_per_second"`
	RateLimitBurst           int    `yaml:"rate_limit_burst"`
}

// LoggingConfig controls zap construction.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// envVarPattern matches "${env.VAR}" tokens; unlike Hermod's
// "${VAR:-default}" shorthand, spec.md §6 only calls for plain
// ${env.VAR} substitution with the environment-non-existence and
// empty-string rules handled explicitly in substitute, not embedded in
// the token syntax.
var envVarPattern = regexp.MustCompile(`\$\{env\.(\w+)\}`)

// substitute replaces every ${env.VAR} token in input. A variable that
// does not exist in the environment, and one that is set to the empty
// string, both become the YAML null value, which decodes as the zero
// value for its field; defaults applied after decoding (Validate's
// heartbeat interval, conduitd's listen address) then take effect.
func substitute(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(tok string) string {
		m := envVarPattern.FindStringSubmatch(tok)
		name := m[1]
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return "null"
		}
		return val
	})
}

// Load reads path, applies ${env.VAR} substitution, decodes the YAML,
// then layers a CONDUIT_-prefixed environment overlay via viper so
// individual fields can be overridden at deploy time without editing the
// file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := substitute(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(substituted)); err != nil {
		return nil, fmt.Errorf("config: viper overlay: %w", err)
	}
	v.SetEnvPrefix("CONDUIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyOverlay(v, &cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyOverlay copies viper-resolved scalars for the handful of fields an
// operator most commonly wants to override per-environment (log level,
// listen address) without a full config reload.
func applyOverlay(v *viper.Viper, cfg *Config) {
	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("http.addr") {
		cfg.HTTP.Addr = v.GetString("http.addr")
	}
}

// Validate checks the structural invariants spec.md §6 requires before a
// Config is used to launch any database.
func Validate(cfg *Config) error {
	if cfg.Databases.MaxChildQueues <= 0 {
		return fmt.Errorf("config: databases.max_child_queues must be > 0")
	}
	if cfg.Databases.HeartbeatIntervalSeconds <= 0 {
		cfg.Databases.HeartbeatIntervalSeconds = 30
	}
	names := make(map[string]bool, len(cfg.Connections))
	for _, c := range cfg.Connections {
		if !c.Enabled {
			continue
		}
		if c.Name == "" {
			return fmt.Errorf("config: connection missing name")
		}
		if names[c.Name] {
			return fmt.Errorf("config: duplicate connection name %q", c.Name)
		}
		names[c.Name] = true
		switch c.Engine {
		case "postgresql", "sqlite", "mysql", "db2":
		default:
			return fmt.Errorf("config: connection %q has unknown engine %q", c.Name, c.Engine)
		}
	}
	return nil
}
