// Package config loads service settings from .env, an optional YAML file
// and the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"digipin/internal/routing"
	"digipin/internal/store"
)

type Config struct {
	Port        string
	DatabaseURL string
	DBMigrate   bool
	RedisURL    string
	RabbitMQURL string

	GoogleMapsAPIKey string
	NominatimURL     string
	GeocodeUserAgent string
	GeocodeCacheTTL  time.Duration

	RateRPS   float64
	RateBurst int

	WebhookMaxAttempts int
	WebhookSecret      string

	JobWorkers   int
	JobQueueSize int

	Optimizer    routing.Options
	ServiceAreas []store.ServiceAreaInput
}

// fileConfig is the CONFIG_FILE layout. Environment variables override it.
type fileConfig struct {
	Port         string                   `yaml:"port"`
	RateRPS      float64                  `yaml:"rate_rps"`
	RateBurst    int                      `yaml:"rate_burst"`
	JobWorkers   int                      `yaml:"job_workers"`
	NominatimURL string                   `yaml:"nominatim_url"`
	Optimizer    yaml.Node                `yaml:"optimizer"`
	ServiceAreas []store.ServiceAreaInput `yaml:"service_areas"`
}

func Defaults() Config {
	return Config{
		Port:               "8080",
		DBMigrate:          true,
		GeocodeUserAgent:   "digipin-app",
		GeocodeCacheTTL:    24 * time.Hour,
		RateRPS:            10,
		RateBurst:          20,
		WebhookMaxAttempts: 10,
		JobWorkers:         2,
		JobQueueSize:       64,
		Optimizer:          routing.DefaultOptions(),
	}
}

// Load reads .env (if present), CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: .env: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for every lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if path := getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	env := envReader{getenv: getenv}
	cfg.Port = env.str("PORT", cfg.Port)
	cfg.DatabaseURL = env.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMigrate = env.boolean("DB_MIGRATE", cfg.DBMigrate)
	cfg.RedisURL = env.str("REDIS_URL", cfg.RedisURL)
	cfg.RabbitMQURL = env.str("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.GoogleMapsAPIKey = env.str("GOOGLE_MAPS_API_KEY", cfg.GoogleMapsAPIKey)
	cfg.NominatimURL = env.str("NOMINATIM_URL", cfg.NominatimURL)
	cfg.GeocodeUserAgent = env.str("GEOCODE_USER_AGENT", cfg.GeocodeUserAgent)
	cfg.GeocodeCacheTTL = env.duration("GEOCODE_CACHE_TTL", cfg.GeocodeCacheTTL)
	cfg.RateRPS = env.float("RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = env.integer("RATE_BURST", cfg.RateBurst)
	cfg.WebhookMaxAttempts = env.integer("WEBHOOK_MAX_ATTEMPTS", cfg.WebhookMaxAttempts)
	cfg.WebhookSecret = env.str("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.JobWorkers = env.integer("JOB_WORKERS", cfg.JobWorkers)
	cfg.JobQueueSize = env.integer("JOB_QUEUE_SIZE", cfg.JobQueueSize)
	cfg.Optimizer.TimeLimit = env.duration("SOLVER_TIME_LIMIT", cfg.Optimizer.TimeLimit)
	cfg.Optimizer.IterationsLimit = env.integer("SOLVER_ITERATIONS_LIMIT", cfg.Optimizer.IterationsLimit)
	cfg.Optimizer.Metaheuristic = env.str("SOLVER_METAHEURISTIC", cfg.Optimizer.Metaheuristic)
	cfg.Optimizer.FixStartCumulToZero = env.boolean("SOLVER_FIX_START", cfg.Optimizer.FixStartCumulToZero)
	if env.err != nil {
		return cfg, env.err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.RateRPS > 0 {
		c.RateRPS = fc.RateRPS
	}
	if fc.RateBurst > 0 {
		c.RateBurst = fc.RateBurst
	}
	if fc.JobWorkers > 0 {
		c.JobWorkers = fc.JobWorkers
	}
	if fc.NominatimURL != "" {
		c.NominatimURL = fc.NominatimURL
	}
	// decode over the defaults so omitted keys keep their values
	if !fc.Optimizer.IsZero() {
		if err := fc.Optimizer.Decode(&c.Optimizer); err != nil {
			return fmt.Errorf("config: optimizer: %w", err)
		}
	}
	c.ServiceAreas = fc.ServiceAreas
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: PORT %q is not a number", c.Port)
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return errors.New("config: RATE_RPS and RATE_BURST must be >= 0")
	}
	if c.JobWorkers < 1 {
		return errors.New("config: JOB_WORKERS must be >= 1")
	}
	if c.Optimizer.TimeLimit < 0 {
		return errors.New("config: SOLVER_TIME_LIMIT must be >= 0")
	}
	if _, err := c.Optimizer.SearchParameters(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for i, a := range c.ServiceAreas {
		if _, err := a.Validate(); err != nil {
			return fmt.Errorf("config: service_areas[%d]: %w", i, err)
		}
	}
	return nil
}

// envReader records the first malformed value it sees.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return f
}

func (e *envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return b
}

// duration accepts Go durations ("45s") or plain seconds ("45").
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return d
}

func (e *envReader) fail(key, v string) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s=%q is malformed", key, v)
	}
}
