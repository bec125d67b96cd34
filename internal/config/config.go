package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`
	LogMode  string `yaml:"log_mode"` // dev|prod

	DBDriver string `yaml:"db_driver"` // sqlite|postgres
	DBDSN    string `yaml:"db_dsn"`

	CORSOrigins []string `yaml:"cors_origins"`

	// RedisAddr enables the cross-process ability lock when set.
	RedisAddr string        `yaml:"redis_addr"`
	LockTTL   time.Duration `yaml:"lock_ttl"`

	SmoothingAlpha float64       `yaml:"smoothing_alpha"`
	SelectTopK     int           `yaml:"select_top_k"`
	BankCacheTTL   time.Duration `yaml:"bank_cache_ttl"` // 0 disables caching

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	// Online deployments must name their origins explicitly.
	defOrigins := "http://localhost:3000"
	if mode == ModeOnline {
		defOrigins = ""
	}
	logMode := "dev"
	if mode == ModeOnline {
		logMode = "prod"
	}
	return Config{
		Mode:           mode,
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		LogMode:        envOr("LOG_MODE", logMode),
		DBDriver:       envOr("DB_DRIVER", "sqlite"),
		DBDSN:          envOr("DB_DSN", ""),
		CORSOrigins:    csvOr("CORS_ORIGINS", defOrigins),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		LockTTL:        envDuration("LOCK_TTL", 10*time.Second),
		SmoothingAlpha: envFloat("SMOOTHING_ALPHA", 0.2),
		SelectTopK:     envInt("SELECT_TOP_K", 3),
		BankCacheTTL:   envDuration("BANK_CACHE_TTL", 30*time.Second),
		MetricsEnabled: envBool("METRICS_ENABLED", true),
	}
}

// Load reads the environment and overlays the YAML file at path, if any.
// Keys present in the file win over the environment.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = os.Getenv("CAT_CONFIG")
	}
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported db_driver %q (expected sqlite|postgres)", c.DBDriver)
	}
	if math.IsNaN(c.SmoothingAlpha) || c.SmoothingAlpha < 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("config: smoothing_alpha %v outside [0,1]", c.SmoothingAlpha)
	}
	if c.SelectTopK < 1 {
		return fmt.Errorf("config: select_top_k must be >= 1, got %d", c.SelectTopK)
	}
	if c.Mode == ModeOnline && len(c.CORSOrigins) == 0 {
		return fmt.Errorf("config: cors_origins is required in online mode")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("config: lock_ttl must be positive")
	}
	return nil
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil {
		return v
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64); err == nil {
		return v
	}
	return def
}
func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k))); err == nil {
		return v
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
