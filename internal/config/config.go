package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	TLSPort            string
	WebRoot            string
	LogLevel           string
	SecretsDir         string
	TrustedProxies     []string
	GrafanaURL         string
	GrafanaToken       string
	PrometheusURL      string
	UpstreamTimeout    time.Duration
	RenderUpstreamRPS  float64
	CacheBackend       string
	CacheTTL           time.Duration
	RedisURL           string
	RenderRateLimit    int
	RenderRateWindow   time.Duration
	SnapshotRateLimit  int
	SnapshotRateWindow time.Duration
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	PostgresUser       string
	PostgresPassword   string
	PostgresHost       string
	PostgresPort       string
	PostgresDatabase   string
	PostgresSSLMode    string
}

const (
	grafanaTokenSecret  = "grafana_token"
	redisPasswordSecret = "redis_password"
)

// Load reads .env (when present), the process environment and the mounted
// secrets directory. Secret files take precedence over environment values.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "3100"),
		TLSPort:            getEnv("TLS_PORT", ""),
		WebRoot:            getEnv("WEB_ROOT", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		SecretsDir:         getEnv("SECRETS_DIR", "/run/secrets"),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),
		GrafanaURL:         strings.TrimRight(getEnv("GRAFANA_URL", "http://grafana:3000"), "/"),
		GrafanaToken:       getEnv("GRAFANA_TOKEN", ""),
		PrometheusURL:      strings.TrimRight(getEnv("PROMETHEUS_URL", "http://prometheus:9090"), "/"),
		UpstreamTimeout:    getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		RenderUpstreamRPS:  getEnvFloat("RENDER_UPSTREAM_RPS", 0),
		CacheBackend:       strings.ToLower(getEnv("CACHE_BACKEND", "redis")),
		CacheTTL:           getEnvSeconds("CACHE_TTL", 300*time.Second),
		RedisURL:           getEnv("REDIS_URL", "redis://redis:6379"),
		RenderRateLimit:    getEnvInt("RENDER_RATE_LIMIT", 30),
		RenderRateWindow:   getEnvDuration("RENDER_RATE_WINDOW", time.Minute),
		SnapshotRateLimit:  getEnvInt("SNAPSHOT_RATE_LIMIT", 6),
		SnapshotRateWindow: getEnvDuration("SNAPSHOT_RATE_WINDOW", time.Minute),
		S3Bucket:           getEnv("S3_BUCKET", "render-cache"),
		S3Region:           getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		PostgresUser:       getEnv("POSTGRES_USER", "dashproxy"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", ""),
		PostgresHost:       getEnv("POSTGRES_HOST", ""),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "dashboard_proxy"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	if token := readSecret(cfg.SecretsDir, grafanaTokenSecret); token != "" {
		cfg.GrafanaToken = token
	}
	if password := readSecret(cfg.SecretsDir, redisPasswordSecret); password != "" {
		cfg.RedisURL = withPassword(cfg.RedisURL, password)
	}

	if cfg.CacheBackend == "s3" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "" || cfg.PostgresHost == "") {
		panic("s3 cache backend requires AWS credentials and POSTGRES_HOST")
	}

	return cfg
}

// DatabaseEnabled reports whether a postgres host was configured.
func (c *Config) DatabaseEnabled() bool {
	return c.PostgresHost != ""
}

func readSecret(dir, name string) string {
	if dir == "" {
		return ""
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func withPassword(rawURL, password string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = url.UserPassword("", password)
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSeconds accepts either a bare number of seconds or a Go duration.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
