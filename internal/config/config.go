// Package config loads engine settings from a .env file, an optional YAML
// overlay, and environment variables, in that order of increasing
// precedence. Every setting has a built-in default; a missing variable is
// never an error.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const envPrefix = "FREIGHT_DOOM_"

// Config is every tunable parameter in the engine.
type Config struct {
	// Redis sink.
	RedisURL       string
	RedisChannel   string
	RedisSortedSet string

	// Poll cadence per source.
	PacerPollInterval         time.Duration
	EdgarPollInterval         time.Duration
	FmcsaPollInterval         time.Duration
	CourtListenerPollInterval time.Duration

	// Source endpoints.
	PacerBaseURL         string
	EdgarSearchURL       string
	FmcsaBaseURL         string
	CourtListenerBaseURL string

	// Dedup engine sizing.
	BloomExpectedItems    uint
	BloomFPRate           float64
	BloomRotationInterval time.Duration
	LruCacheSize          int

	// Circuit breaker thresholds, shared by all scanners.
	BreakerFailureThreshold uint32
	BreakerResetTimeout     time.Duration
	BreakerSuccessThreshold uint32

	// Servers. OpsPort 0 disables the ops HTTP server.
	MetricsPort int
	OpsPort     int

	// Pipeline.
	MinConfidence    float64
	EventBusCapacity int

	LogLevel string
}

// defaults returns a config that works out of the box against the real
// public endpoints and a local Redis.
func defaults() *Config {
	return &Config{
		RedisURL:       "redis://127.0.0.1:6379",
		RedisChannel:   "bankruptcy:events",
		RedisSortedSet: "bankruptcy:events:history",

		PacerPollInterval:         60 * time.Second,
		EdgarPollInterval:         30 * time.Second,
		FmcsaPollInterval:         120 * time.Second,
		CourtListenerPollInterval: 45 * time.Second,

		PacerBaseURL:         "https://ecf.uscourts.gov",
		EdgarSearchURL:       "https://efts.sec.gov/LATEST/search-index",
		FmcsaBaseURL:         "https://mobile.fmcsa.dot.gov/qc/services/carriers",
		CourtListenerBaseURL: "https://www.courtlistener.com/api/rest/v3",

		BloomExpectedItems:    100_000,
		BloomFPRate:           0.01,
		BloomRotationInterval: time.Hour,
		LruCacheSize:          10_000,

		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     60 * time.Second,
		BreakerSuccessThreshold: 2,

		MetricsPort: 9090,
		OpsPort:     0,

		MinConfidence:    0.3,
		EventBusCapacity: 10_000,

		LogLevel: "info",
	}
}

// Load builds the effective configuration: built-in defaults, overridden by
// the YAML file named in FREIGHT_DOOM_CONFIG_FILE (if any), overridden by
// FREIGHT_DOOM_* environment variables. A .env file in the working directory
// is read first so it can supply any of those variables.
func Load() *Config {
	_ = godotenv.Load() // absent .env is the normal case

	cfg := defaults()

	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("config file ignored")
		}
	}

	cfg.applyEnv()
	return cfg
}

// fileOverlay mirrors the env variable names; only fields present in the
// file override the running config.
type fileOverlay struct {
	RedisURL       *string `yaml:"redis_url"`
	RedisChannel   *string `yaml:"redis_channel"`
	RedisSortedSet *string `yaml:"redis_sorted_set"`

	PacerPollSecs         *int `yaml:"pacer_poll_secs"`
	EdgarPollSecs         *int `yaml:"edgar_poll_secs"`
	FmcsaPollSecs         *int `yaml:"fmcsa_poll_secs"`
	CourtListenerPollSecs *int `yaml:"courtlistener_poll_secs"`

	PacerBaseURL         *string `yaml:"pacer_base_url"`
	EdgarSearchURL       *string `yaml:"edgar_search_url"`
	FmcsaBaseURL         *string `yaml:"fmcsa_base_url"`
	CourtListenerBaseURL *string `yaml:"courtlistener_base_url"`

	BloomItems        *int     `yaml:"bloom_items"`
	BloomFPRate       *float64 `yaml:"bloom_fp_rate"`
	BloomRotationSecs *int     `yaml:"bloom_rotation_secs"`
	LruCacheSize      *int     `yaml:"lru_cache_size"`

	CbFailureThreshold *int `yaml:"cb_failure_threshold"`
	CbResetTimeoutSecs *int `yaml:"cb_reset_timeout_secs"`
	CbSuccessThreshold *int `yaml:"cb_success_threshold"`

	MetricsPort *int `yaml:"metrics_port"`
	OpsPort     *int `yaml:"ops_port"`

	MinConfidence    *float64 `yaml:"min_confidence"`
	EventBusCapacity *int     `yaml:"event_bus_capacity"`

	LogLevel *string `yaml:"log_level"`
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var overlay fileOverlay
	if err := yaml.NewDecoder(f).Decode(&overlay); err != nil {
		return err
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setSecs := func(dst *time.Duration, src *int) {
		if src != nil {
			*dst = time.Duration(*src) * time.Second
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setString(&c.RedisURL, overlay.RedisURL)
	setString(&c.RedisChannel, overlay.RedisChannel)
	setString(&c.RedisSortedSet, overlay.RedisSortedSet)
	setSecs(&c.PacerPollInterval, overlay.PacerPollSecs)
	setSecs(&c.EdgarPollInterval, overlay.EdgarPollSecs)
	setSecs(&c.FmcsaPollInterval, overlay.FmcsaPollSecs)
	setSecs(&c.CourtListenerPollInterval, overlay.CourtListenerPollSecs)
	setString(&c.PacerBaseURL, overlay.PacerBaseURL)
	setString(&c.EdgarSearchURL, overlay.EdgarSearchURL)
	setString(&c.FmcsaBaseURL, overlay.FmcsaBaseURL)
	setString(&c.CourtListenerBaseURL, overlay.CourtListenerBaseURL)
	if overlay.BloomItems != nil {
		c.BloomExpectedItems = uint(*overlay.BloomItems)
	}
	if overlay.BloomFPRate != nil {
		c.BloomFPRate = *overlay.BloomFPRate
	}
	setSecs(&c.BloomRotationInterval, overlay.BloomRotationSecs)
	setInt(&c.LruCacheSize, overlay.LruCacheSize)
	if overlay.CbFailureThreshold != nil {
		c.BreakerFailureThreshold = uint32(*overlay.CbFailureThreshold)
	}
	setSecs(&c.BreakerResetTimeout, overlay.CbResetTimeoutSecs)
	if overlay.CbSuccessThreshold != nil {
		c.BreakerSuccessThreshold = uint32(*overlay.CbSuccessThreshold)
	}
	setInt(&c.MetricsPort, overlay.MetricsPort)
	setInt(&c.OpsPort, overlay.OpsPort)
	if overlay.MinConfidence != nil {
		c.MinConfidence = *overlay.MinConfidence
	}
	setInt(&c.EventBusCapacity, overlay.EventBusCapacity)
	setString(&c.LogLevel, overlay.LogLevel)

	return nil
}

func (c *Config) applyEnv() {
	c.RedisURL = envString("REDIS_URL", c.RedisURL)
	c.RedisChannel = envString("REDIS_CHANNEL", c.RedisChannel)
	c.RedisSortedSet = envString("REDIS_SORTED_SET", c.RedisSortedSet)

	c.PacerPollInterval = envSecs("PACER_POLL_SECS", c.PacerPollInterval)
	c.EdgarPollInterval = envSecs("EDGAR_POLL_SECS", c.EdgarPollInterval)
	c.FmcsaPollInterval = envSecs("FMCSA_POLL_SECS", c.FmcsaPollInterval)
	c.CourtListenerPollInterval = envSecs("COURTLISTENER_POLL_SECS", c.CourtListenerPollInterval)

	c.PacerBaseURL = envString("PACER_BASE_URL", c.PacerBaseURL)
	c.EdgarSearchURL = envString("EDGAR_SEARCH_URL", c.EdgarSearchURL)
	c.FmcsaBaseURL = envString("FMCSA_BASE_URL", c.FmcsaBaseURL)
	c.CourtListenerBaseURL = envString("COURTLISTENER_BASE_URL", c.CourtListenerBaseURL)

	c.BloomExpectedItems = uint(envInt("BLOOM_ITEMS", int(c.BloomExpectedItems)))
	c.BloomFPRate = envFloat("BLOOM_FP_RATE", c.BloomFPRate)
	c.BloomRotationInterval = envSecs("BLOOM_ROTATION_SECS", c.BloomRotationInterval)
	c.LruCacheSize = envInt("LRU_CACHE_SIZE", c.LruCacheSize)

	c.BreakerFailureThreshold = uint32(envInt("CB_FAILURE_THRESHOLD", int(c.BreakerFailureThreshold)))
	c.BreakerResetTimeout = envSecs("CB_RESET_TIMEOUT_SECS", c.BreakerResetTimeout)
	c.BreakerSuccessThreshold = uint32(envInt("CB_SUCCESS_THRESHOLD", int(c.BreakerSuccessThreshold)))

	c.MetricsPort = envInt("METRICS_PORT", c.MetricsPort)
	c.OpsPort = envInt("OPS_PORT", c.OpsPort)

	c.MinConfidence = envFloat("MIN_CONFIDENCE", c.MinConfidence)
	c.EventBusCapacity = envInt("EVENT_BUS_CAPACITY", c.EventBusCapacity)

	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
}

func envString(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.WithFields(log.Fields{
			"var":     envPrefix + key,
			"value":   raw,
			"default": fallback,
		}).Warn("malformed integer in environment, using default")
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.WithFields(log.Fields{
			"var":     envPrefix + key,
			"value":   raw,
			"default": fallback,
		}).Warn("malformed float in environment, using default")
		return fallback
	}
	return v
}

func envSecs(key string, fallback time.Duration) time.Duration {
	secs := envInt(key, int(fallback/time.Second))
	return time.Duration(secs) * time.Second
}
