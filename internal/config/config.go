package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

type TLSConfig struct {
	Mode     string `json:"mode"`     // "self-signed", "manual", or "" (disabled)
	CertFile string `json:"certFile"` // required for manual
	KeyFile  string `json:"keyFile"`  // required for manual
	CacheDir string `json:"cacheDir"` // for self-signed; defaults to ~/.taskguru/certs
}

type ServerConfig struct {
	Host string    `json:"host"`
	Port int       `json:"port"`
	TLS  TLSConfig `json:"tls"`
}

type StoreConfig struct {
	Path         string `json:"path"`
	PoolSize     int    `json:"poolSize"`
	OpTimeout    string `json:"opTimeout"`
	PingInterval string `json:"pingInterval"`
}

type AuthConfig struct {
	JWTSecret    string `json:"jwtSecret"`
	TokenTTL     string `json:"tokenTTL"`
	RequireToken bool   `json:"requireToken"`
}

type LogConfig struct {
	Dir    string `json:"dir"`
	Level  string `json:"level"`
	Format string `json:"format"` // "text" or "json"
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type Config struct {
	Server        ServerConfig        `json:"server"`
	Store         StoreConfig         `json:"store"`
	Auth          AuthConfig          `json:"auth"`
	Log           LogConfig           `json:"log"`
	Notifications NotificationsConfig `json:"notifications"`
}

func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Store: StoreConfig{
			Path:         filepath.Join(home, ".taskguru", "taskguru.db"),
			PoolSize:     4,
			OpTimeout:    "5s",
			PingInterval: "30s",
		},
		Auth: AuthConfig{
			TokenTTL: "24h",
		},
		Log: LogConfig{
			Dir:    filepath.Join(home, ".taskguru", "logs"),
			Level:  "info",
			Format: "text",
		},
	}
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskguru", "config.json")
}

func DBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskguru", "taskguru.db")
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureAuthSecret generates and persists a token-signing secret on first
// run, so tokens issued before a restart still verify after it.
func EnsureAuthSecret(path string, cfg *Config) error {
	if cfg.Auth.JWTSecret != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	cfg.Auth.JWTSecret = hex.EncodeToString(buf)
	return Save(path, *cfg)
}

// Duration parses a config duration string, falling back to def when the
// value is empty or unusable.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
