// Package config loads the oracle-layer configuration from YAML with
// environment-variable overrides.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Auth        AuthConfig        `yaml:"auth"`
	Attestation AttestationConfig `yaml:"attestation"`
	AuditPath   string            `yaml:"audit_path"`
}

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr              string  `yaml:"addr"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DatabaseConfig configures PostgreSQL persistence. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the latest-price read cache. An empty address
// disables it.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ConsensusConfig tunes round closing and health sampling.
type ConsensusConfig struct {
	// Schedule is a cron expression for automatic round closing. Empty
	// disables the scheduler.
	Schedule        string        `yaml:"schedule"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// AuthConfig configures JWT issuance.
type AuthConfig struct {
	Secret string       `yaml:"secret"`
	Users  []UserConfig `yaml:"users"`
}

// UserConfig is a static credential record.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// AttestationConfig maps source IDs to base64-encoded ed25519 public keys.
// Submissions from a listed source must carry a valid detached signature; an
// empty map accepts unsigned submissions.
type AttestationConfig struct {
	Keys map[string]string `yaml:"keys"`
}

// PublicKeys decodes the configured keys. It returns nil when no keys are
// configured.
func (c AttestationConfig) PublicKeys() (map[string]ed25519.PublicKey, error) {
	if len(c.Keys) == 0 {
		return nil, nil
	}
	keys := make(map[string]ed25519.PublicKey, len(c.Keys))
	for sourceID, encoded := range c.Keys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("attestation key for %s: %w", sourceID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attestation key for %s: expected %d bytes, got %d", sourceID, ed25519.PublicKeySize, len(raw))
		}
		keys[sourceID] = ed25519.PublicKey(raw)
	}
	return keys, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RequestsPerSecond: 50,
		},
		Consensus: ConsensusConfig{
			Schedule:        "@every 1m",
			MonitorInterval: 15 * time.Second,
		},
	}
}

// Load reads the YAML file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus environment.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ORACLE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ORACLE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ORACLE_REDIS_ADDR"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("ORACLE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ORACLE_SCHEDULE"); v != "" {
		cfg.Consensus.Schedule = v
	}
	if v := os.Getenv("ORACLE_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("ORACLE_AUDIT_PATH"); v != "" {
		cfg.AuditPath = v
	}
	if v := os.Getenv("ORACLE_RATE_LIMIT"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HTTP.RequestsPerSecond = rps
		}
	}
}
