// Package config loads the lattice node configuration from YAML and LATTICE_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "LATTICE_"

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config is the complete node configuration. Durations are whole seconds.
type Config struct {
	NodeID                   string `mapstructure:"nodeId" yaml:"nodeId" json:"nodeId"`
	MaxInactiveInterval      int    `mapstructure:"maxInactiveInterval" yaml:"maxInactiveInterval" json:"maxInactiveInterval"`
	ScavengeIntervalSeconds  int    `mapstructure:"scavengeIntervalSeconds" yaml:"scavengeIntervalSeconds" json:"scavengeIntervalSeconds"`
	ScavengeJitterSeconds    int    `mapstructure:"scavengeJitterSeconds" yaml:"scavengeJitterSeconds" json:"scavengeJitterSeconds"`
	OrphanGracePeriodSeconds int    `mapstructure:"orphanGracePeriodSeconds" yaml:"orphanGracePeriodSeconds" json:"orphanGracePeriodSeconds"`
	CacheSizeLimit           int    `mapstructure:"cacheSizeLimit" yaml:"cacheSizeLimit" json:"cacheSizeLimit"`
	SavePeriodSeconds        int    `mapstructure:"savePeriodSeconds" yaml:"savePeriodSeconds" json:"savePeriodSeconds"`
	HeartbeatTTLSeconds      int    `mapstructure:"heartbeatTTLSeconds" yaml:"heartbeatTTLSeconds" json:"heartbeatTTLSeconds"`
	Backend                  string `mapstructure:"backend" yaml:"backend" json:"backend"`

	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis" json:"redis"`
	File       FileConfig       `mapstructure:"file" yaml:"file" json:"file"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http" json:"http"`
	Log        LogConfig        `mapstructure:"log" yaml:"log" json:"log"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption" json:"encryption"`
	PII        PIIConfig        `mapstructure:"pii" yaml:"pii" json:"pii"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// EncryptionConfig holds base64 AES-256 keys. An empty Key disables encryption.
type EncryptionConfig struct {
	Key          string   `mapstructure:"key" yaml:"key" json:"key"`
	FallbackKeys []string `mapstructure:"fallbackKeys" yaml:"fallbackKeys" json:"fallbackKeys"`
}

// PIIConfig lists attribute name patterns masked before persistence.
type PIIConfig struct {
	Patterns []string `mapstructure:"patterns" yaml:"patterns" json:"patterns"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		MaxInactiveInterval:      int(session.DefaultMaxInactiveInterval / time.Second),
		ScavengeIntervalSeconds:  int(session.DefaultScavengeInterval / time.Second),
		ScavengeJitterSeconds:    int(session.DefaultScavengeJitter / time.Second),
		OrphanGracePeriodSeconds: int(session.DefaultOrphanGracePeriod / time.Second),
		CacheSizeLimit:           session.DefaultCacheSizeLimit,
		HeartbeatTTLSeconds:      30,
		Backend:                  BackendMemory,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		File: FileConfig{
			Dir: filepath.Join(".lattice", "sessions"),
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envKeys maps every recognised option to its key path.
var envKeys = [][]string{
	{"nodeId"},
	{"maxInactiveInterval"},
	{"scavengeIntervalSeconds"},
	{"scavengeJitterSeconds"},
	{"orphanGracePeriodSeconds"},
	{"cacheSizeLimit"},
	{"savePeriodSeconds"},
	{"heartbeatTTLSeconds"},
	{"backend"},
	{"redis", "addr"},
	{"redis", "password"},
	{"redis", "db"},
	{"redis", "prefix"},
	{"file", "dir"},
	{"http", "addr"},
	{"log", "level"},
	{"log", "format"},
	{"encryption", "key"},
	{"encryption", "fallbackKeys"},
	{"pii", "patterns"},
}

// EnvName returns the environment variable that overrides a key path,
// e.g. redis.addr -> LATTICE_REDIS_ADDR, maxInactiveInterval -> LATTICE_MAX_INACTIVE_INTERVAL.
func EnvName(path ...string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = snake(p)
	}
	return EnvPrefix + strings.Join(parts, "_")
}

func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			// Close an acronym like TTL before the next word.
			acronymEnd := unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || acronymEnd {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Load reads path (YAML, or JSON by extension) and applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := make(map[string]any)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if strings.ToLower(filepath.Ext(path)) == ".json" {
				err = json.Unmarshal(data, &raw)
			} else {
				// Default to YAML
				err = yaml.Unmarshal(data, &raw)
			}
			if err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
			}
		}
	}

	for _, keyPath := range envKeys {
		if v, ok := lookup(EnvName(keyPath...)); ok {
			set(raw, keyPath, v)
		}
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// set writes v at keyPath, creating intermediate maps.
func set(m map[string]any, keyPath []string, v any) {
	for _, k := range keyPath[:len(keyPath)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[k] = next
		}
		m = next
	}
	m[keyPath[len(keyPath)-1]] = v
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ScavengeIntervalSeconds > 0, "scavengeIntervalSeconds must be positive")
	check(c.ScavengeJitterSeconds >= 0, "scavengeJitterSeconds must not be negative")
	check(c.CacheSizeLimit >= 0, "cacheSizeLimit must not be negative")
	check(c.SavePeriodSeconds >= 0, "savePeriodSeconds must not be negative")
	check(c.MaxInactiveInterval <= 0 || c.SavePeriodSeconds < c.MaxInactiveInterval,
		"savePeriodSeconds (%d) must be below maxInactiveInterval (%d) or sessions read only expire", c.SavePeriodSeconds, c.MaxInactiveInterval)
	check(c.HeartbeatTTLSeconds > 0, "heartbeatTTLSeconds must be positive")
	check(c.OrphanGracePeriodSeconds >= c.HeartbeatTTLSeconds,
		"orphanGracePeriodSeconds (%d) must be at least heartbeatTTLSeconds (%d)", c.OrphanGracePeriodSeconds, c.HeartbeatTTLSeconds)

	switch c.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		check(c.Redis.Addr != "", "redis.addr is required for the redis backend")
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want memory, redis or file)", c.Backend))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	for i, p := range c.PII.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("pii.patterns[%d]: %w", i, err))
		}
	}

	if _, _, err := c.EncryptionKeys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EncryptionKeys decodes the configured keys. active is nil when encryption is off.
func (c Config) EncryptionKeys() (active []byte, fallbacks [][]byte, err error) {
	if c.Encryption.Key == "" {
		if len(c.Encryption.FallbackKeys) > 0 {
			return nil, nil, errors.New("encryption.fallbackKeys requires encryption.key")
		}
		return nil, nil, nil
	}
	active, err = middleware.ParseKey(c.Encryption.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption.key: %w", err)
	}
	for i, s := range c.Encryption.FallbackKeys {
		key, err := middleware.ParseKey(s)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption.fallbackKeys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

// Session returns the session manager settings for this node.
func (c Config) Session() session.Config {
	maxInactive := seconds(c.MaxInactiveInterval)
	if c.MaxInactiveInterval < 0 {
		maxInactive = -1
	}
	return session.Config{
		NodeID:              c.NodeID,
		MaxInactiveInterval: maxInactive,
		ScavengeInterval:    seconds(c.ScavengeIntervalSeconds),
		ScavengeJitter:      seconds(c.ScavengeJitterSeconds),
		OrphanGracePeriod:   seconds(c.OrphanGracePeriodSeconds),
		CacheSizeLimit:      c.CacheSizeLimit,
		SavePeriod:          seconds(c.SavePeriodSeconds),
	}
}

// HeartbeatTTL returns the membership heartbeat TTL.
func (c Config) HeartbeatTTL() time.Duration {
	return seconds(c.HeartbeatTTLSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
