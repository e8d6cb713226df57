// Package config loads agent settings from defaults, an optional YAML file and
// OFFLINESYNC_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/offlinesync/internal/intercept"
)

const envPrefix = "OFFLINESYNC_"

type Config struct {
	Addr        string `yaml:"addr"`
	Origin      string `yaml:"origin"`
	Version     string `yaml:"version"`
	CachePrefix string `yaml:"cachePrefix"`

	Profile       string `yaml:"profile"`
	DataDir       string `yaml:"dataDir"`
	RecordsDSN    string `yaml:"recordsDSN"`
	CacheDSN      string `yaml:"cacheDSN"`
	ProductionDSN string `yaml:"productionDSN"`
	RedisURL      string `yaml:"redisURL"`

	RemoteEndpoint string        `yaml:"remoteEndpoint"`
	ProbeEndpoint  string        `yaml:"probeEndpoint"`
	ProbeTimeout   time.Duration `yaml:"probeTimeout"`
	ProbeInterval  time.Duration `yaml:"probeInterval"`
	ProbeJitter    float64       `yaml:"probeJitter"`
	SyncDelay      time.Duration `yaml:"syncDelay"`
	SendTimeout    time.Duration `yaml:"sendTimeout"`
	SendRetries    int           `yaml:"sendRetries"`

	FetchTimeout    time.Duration   `yaml:"fetchTimeout"`
	ImageMaxBytes   int64           `yaml:"imageMaxBytes"`
	OfflinePagePath string          `yaml:"offlinePagePath"`
	ShellAssets     []string        `yaml:"shellAssets"`
	Rules           intercept.Rules `yaml:"rules"`
	ReleaseManifest string          `yaml:"releaseManifest"`

	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	RateLimitMax    int           `yaml:"rateLimitMax"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

func Default() Config {
	return Config{
		Addr:            "127.0.0.1:8787",
		Origin:          "http://127.0.0.1:5173",
		Version:         "1",
		CachePrefix:     "offlinesync-",
		Profile:         "durable-local",
		DataDir:         ".offlinesync",
		RemoteEndpoint:  "https://jsonplaceholder.typicode.com/posts",
		ProbeTimeout:    5 * time.Second,
		ProbeInterval:   30 * time.Second,
		ProbeJitter:     0.2,
		SyncDelay:       2 * time.Second,
		SendTimeout:     30 * time.Second,
		SendRetries:     2,
		ImageMaxBytes:   intercept.DefaultImageMaxBytes,
		OfflinePagePath: intercept.DefaultOfflinePagePath,
		Rules: intercept.Rules{
			ShellPaths: []string{
				"/",
				"/index.html",
				"/manifest.json",
				"/icons/icon-192x192.png",
				"/icons/icon-512x512.png",
			},
			StaticPrefixes:  []string{"/static/", "/assets/"},
			APIPatterns:     []string{"/api/", "jsonplaceholder.typicode.com"},
			ImageExtensions: []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"},
		},
		MaxBodyBytes:    1 << 20,
		RateLimitWindow: time.Minute,
	}
}

// Load applies the YAML file at path (if any) and then the environment on top
// of Default, resolves the storage profile and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.resolveStorage(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOrDefault("ADDR", cfg.Addr)
	cfg.Origin = envOrDefault("ORIGIN", cfg.Origin)
	cfg.Version = envOrDefault("VERSION", cfg.Version)
	cfg.CachePrefix = envOrDefault("CACHE_PREFIX", cfg.CachePrefix)
	cfg.Profile = envOrDefault("BACKEND_PROFILE", cfg.Profile)
	cfg.DataDir = envOrDefault("DATA_DIR", cfg.DataDir)
	cfg.RecordsDSN = envOrDefault("RECORDS_DSN", cfg.RecordsDSN)
	cfg.CacheDSN = envOrDefault("CACHE_DSN", cfg.CacheDSN)
	cfg.ProductionDSN = envOrDefault("PRODUCTION_DSN", cfg.ProductionDSN)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RemoteEndpoint = envOrDefault("REMOTE_ENDPOINT", cfg.RemoteEndpoint)
	cfg.ProbeEndpoint = envOrDefault("PROBE_ENDPOINT", cfg.ProbeEndpoint)
	cfg.ProbeTimeout = durationEnv("PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.ProbeInterval = durationEnv("PROBE_INTERVAL", cfg.ProbeInterval)
	cfg.ProbeJitter = floatEnv("PROBE_JITTER", cfg.ProbeJitter)
	cfg.SyncDelay = durationEnv("SYNC_DELAY", cfg.SyncDelay)
	cfg.SendTimeout = durationEnv("SEND_TIMEOUT", cfg.SendTimeout)
	cfg.SendRetries = intEnv("SEND_RETRIES", cfg.SendRetries)
	cfg.FetchTimeout = durationEnv("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.ImageMaxBytes = int64Env("IMAGE_MAX_BYTES", cfg.ImageMaxBytes)
	cfg.OfflinePagePath = envOrDefault("OFFLINE_PAGE", cfg.OfflinePagePath)
	cfg.ShellAssets = listEnv("SHELL_ASSETS", cfg.ShellAssets)
	cfg.ReleaseManifest = envOrDefault("RELEASE_MANIFEST", cfg.ReleaseManifest)
	cfg.MaxBodyBytes = int64Env("MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.RateLimitMax = intEnv("RATE_LIMIT_MAX", cfg.RateLimitMax)
	cfg.RateLimitWindow = durationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.AllowedOrigins = listEnv("ALLOWED_ORIGINS", cfg.AllowedOrigins)
}

// resolveStorage fills RecordsDSN and CacheDSN from the profile unless they
// were set explicitly.
func (c *Config) resolveStorage() error {
	recordsDSN, cacheDSN, err := c.profileDefaults()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.RecordsDSN) == "" {
		c.RecordsDSN = recordsDSN
	}
	if strings.TrimSpace(c.CacheDSN) == "" {
		c.CacheDSN = cacheDSN
	}
	return nil
}

func (c *Config) profileDefaults() (recordsDSN, cacheDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(c.Profile))
	dataDir := strings.TrimSpace(c.DataDir)
	if dataDir == "" {
		dataDir = ".offlinesync"
	}
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "durable-local", "local-durable":
		return "sqlite://" + filepath.Join(dataDir, "records.db"),
			"sqlite://" + filepath.Join(dataDir, "cache.db"),
			nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(c.ProductionDSN)
		if productionDSN == "" {
			return "", "", fmt.Errorf("%sPRODUCTION_DSN is required when the backend profile is %s", envPrefix, profile)
		}
		cacheDSN := strings.TrimSpace(c.RedisURL)
		if cacheDSN == "" {
			cacheDSN = "sqlite://" + filepath.Join(dataDir, "cache.db")
		}
		return productionDSN, cacheDSN, nil
	default:
		return "", "", fmt.Errorf("unsupported backend profile: %s", profile)
	}
}

func (c Config) Validate() error {
	var errs []error
	origin, err := url.Parse(strings.TrimSpace(c.Origin))
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		errs = append(errs, fmt.Errorf("origin must be an absolute url, got %q", c.Origin))
	}
	if strings.TrimSpace(c.RecordsDSN) == "" {
		errs = append(errs, errors.New("no records store configured"))
	}
	if strings.TrimSpace(c.CacheDSN) == "" {
		errs = append(errs, errors.New("no cache storage configured"))
	}
	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, errors.New("version must not be empty"))
	}
	if c.ProbeJitter < 0 || c.ProbeJitter > 1 {
		errs = append(errs, fmt.Errorf("probe jitter must be within [0,1], got %v", c.ProbeJitter))
	}
	if c.SendRetries < 0 {
		errs = append(errs, fmt.Errorf("send retries must not be negative, got %d", c.SendRetries))
	}
	return errors.Join(errs...)
}

// OriginURL is the parsed application origin. Validate guarantees it parses.
func (c Config) OriginURL() *url.URL {
	u, err := url.Parse(strings.TrimSpace(c.Origin))
	if err != nil {
		return nil
	}
	return u
}

// ProbeTarget is the endpoint probed for connectivity, the remote endpoint
// unless set separately.
func (c Config) ProbeTarget() string {
	if strings.TrimSpace(c.ProbeEndpoint) != "" {
		return c.ProbeEndpoint
	}
	return c.RemoteEndpoint
}

func envOrDefault(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(envPrefix + name)); raw != "" {
		return raw
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s%s=%q, using fallback %d", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s%s=%q, using fallback %d", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s%s=%q, using fallback %v", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s%s=%q, using fallback %s", envPrefix, name, raw, fallback.String())
		return fallback
	}
	return value
}

func listEnv(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
