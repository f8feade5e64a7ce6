package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gustycube/hostfetch/internal/fetch"
)

// Config represents the complete configuration for the hostfetch CLI
type Config struct {
	// Work
	URLs        string `yaml:"urls" json:"urls"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	Retries     int    `yaml:"retries" json:"retries"`
	Priority    string `yaml:"priority" json:"priority"`
	Parse       string `yaml:"parse" json:"parse"`
	DedupeKey   string `yaml:"dedupe_key" json:"dedupe_key"`
	TTLMS       int    `yaml:"ttl_ms" json:"ttl_ms"`
	UA          string `yaml:"ua" json:"ua"`

	// Rate limiting
	Capacity      float64 `yaml:"capacity" json:"capacity"`
	RefillPerSec  float64 `yaml:"refill_per_sec" json:"refill_per_sec"`
	TickMS        int     `yaml:"tick_ms" json:"tick_ms"`
	SoftTimeoutMS int     `yaml:"soft_timeout_ms" json:"soft_timeout_ms"`
	CacheSize     int     `yaml:"cache_size" json:"cache_size"`
	BucketIdleSec int     `yaml:"bucket_idle_sec" json:"bucket_idle_sec"`
	MaxBodyBytes  int64   `yaml:"max_body_bytes" json:"max_body_bytes"`

	// Output
	OutputFormat string `yaml:"output_format" json:"output_format"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	Debug        bool   `yaml:"debug" json:"debug"`
}

// SetDefaults sets default values for the configuration. Retries is left
// alone since zero is a valid budget; Default and LoadFromFile seed it.
func (c *Config) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 16
	}
	if c.Priority == "" {
		c.Priority = "high"
	}
	if c.Parse == "" {
		c.Parse = "auto"
	}
	if c.UA == "" {
		c.UA = fetch.DefaultUserAgent
	}
	if c.Capacity == 0 {
		c.Capacity = 9
	}
	if c.RefillPerSec == 0 {
		c.RefillPerSec = 9
	}
	if c.TickMS == 0 {
		c.TickMS = int(fetch.DefaultTick / time.Millisecond)
	}
	if c.SoftTimeoutMS == 0 {
		c.SoftTimeoutMS = int(fetch.DefaultSoftTimeout / time.Millisecond)
	}
	if c.CacheSize == 0 {
		c.CacheSize = 4096
	}
	if c.BucketIdleSec == 0 {
		c.BucketIdleSec = int(fetch.DefaultBucketIdle / time.Second)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = fetch.DefaultMaxBody
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "jsonl"
	}
	if c.OTELService == "" {
		c.OTELService = "hostfetch"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Default returns a Config with every default applied and the standard
// retry budget.
func Default() *Config {
	c := &Config{Retries: fetch.DefaultRetries}
	c.SetDefaults()
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1")
	}
	if c.RefillPerSec <= 0 {
		return fmt.Errorf("refill_per_sec must be positive")
	}
	if c.TickMS < 1 || c.SoftTimeoutMS < 1 {
		return fmt.Errorf("tick_ms and soft_timeout_ms must be at least 1")
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("max_body_bytes must be at least 1")
	}
	if _, err := parsePriority(c.Priority); err != nil {
		return err
	}
	if _, err := parseMode(c.Parse); err != nil {
		return err
	}
	switch strings.ToLower(c.OutputFormat) {
	case "json", "jsonl", "ndjson", "csv":
	default:
		return fmt.Errorf("unsupported output_format: %s", c.OutputFormat)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{Retries: fetch.DefaultRetries}
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Only flags present in the map override the file.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["urls"].(string); ok && v != "" {
		c.URLs = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := flags["retries"].(int); ok && v >= 0 {
		c.Retries = v
	}
	if v, ok := flags["priority"].(string); ok && v != "" {
		c.Priority = v
	}
	if v, ok := flags["parse"].(string); ok && v != "" {
		c.Parse = v
	}
	if v, ok := flags["dedupe_key"].(string); ok && v != "" {
		c.DedupeKey = v
	}
	if v, ok := flags["ttl_ms"].(int); ok {
		c.TTLMS = v
	}
	if v, ok := flags["ua"].(string); ok && v != "" {
		c.UA = v
	}
	if v, ok := flags["output_format"].(string); ok && v != "" {
		c.OutputFormat = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["log_level"].(string); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := flags["debug"].(bool); ok {
		c.Debug = v
	}
}

// LoadFromEnv loads configuration from HOSTFETCH_* environment variables
// and LOG_LEVEL. Malformed numbers are ignored.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("HOSTFETCH_URLS"); v != "" {
		c.URLs = v
	}
	if v := os.Getenv("HOSTFETCH_UA"); v != "" {
		c.UA = v
	}
	if v := os.Getenv("HOSTFETCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("HOSTFETCH_OTEL_ENDPOINT"); v != "" {
		c.OTELEndpoint = v
	}
	if v := os.Getenv("HOSTFETCH_OUTPUT_FORMAT"); v != "" {
		c.OutputFormat = v
	}
	if v, err := strconv.Atoi(os.Getenv("HOSTFETCH_CONCURRENCY")); err == nil && v > 0 {
		c.Concurrency = v
	}
	if v, err := strconv.Atoi(os.Getenv("HOSTFETCH_RETRIES")); err == nil && v >= 0 {
		c.Retries = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("HOSTFETCH_CAPACITY"), 64); err == nil && v > 0 {
		c.Capacity = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("HOSTFETCH_REFILL_PER_SEC"), 64); err == nil && v > 0 {
		c.RefillPerSec = v
	}
	if v, err := strconv.ParseBool(os.Getenv("HOSTFETCH_DEBUG")); err == nil {
		c.Debug = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// ClientOptions maps the configuration onto fetch.Client options.
func (c *Config) ClientOptions() []fetch.Option {
	return []fetch.Option{
		fetch.WithRate(c.Capacity, c.RefillPerSec),
		fetch.WithTick(time.Duration(c.TickMS) * time.Millisecond),
		fetch.WithSoftTimeout(time.Duration(c.SoftTimeoutMS) * time.Millisecond),
		fetch.WithCacheSize(c.CacheSize),
		fetch.WithBucketIdle(time.Duration(c.BucketIdleSec) * time.Second),
		fetch.WithUserAgent(c.UA),
		fetch.WithMaxBody(c.MaxBodyBytes),
	}
}

// FetchOptions returns the per-call options every URL is fetched with.
// TTLMS of zero keeps the client default; a negative value disables caching.
func (c *Config) FetchOptions() (fetch.Options, error) {
	p, err := parsePriority(c.Priority)
	if err != nil {
		return fetch.Options{}, err
	}
	m, err := parseMode(c.Parse)
	if err != nil {
		return fetch.Options{}, err
	}
	o := fetch.Options{Priority: p, Parse: m, DedupeKey: c.DedupeKey}
	switch {
	case c.TTLMS < 0:
		o.TTL = fetch.NoCache
	case c.TTLMS > 0:
		o.TTL = time.Duration(c.TTLMS) * time.Millisecond
	}
	return o, nil
}

func parsePriority(s string) (fetch.Priority, error) {
	switch strings.ToLower(s) {
	case "", "high":
		return fetch.PriorityHigh, nil
	case "low":
		return fetch.PriorityLow, nil
	}
	return fetch.PriorityHigh, fmt.Errorf("unknown priority: %s (use high or low)", s)
}

func parseMode(s string) (fetch.ParseMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return fetch.ParseAuto, nil
	case "json":
		return fetch.ParseJSON, nil
	case "text":
		return fetch.ParseText, nil
	}
	return fetch.ParseAuto, fmt.Errorf("unknown parse mode: %s (use auto, json or text)", s)
}
