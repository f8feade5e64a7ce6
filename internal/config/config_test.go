package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gustycube/hostfetch/internal/fetch"
)

func TestLoadFromFile_YAML(t *testing.T) {
	yamlContent := `
urls: urls.txt
concurrency: 32
retries: 0
priority: low
parse: json
ttl_ms: 5000
capacity: 4
refill_per_sec: 2
output_format: csv
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	if cfg.URLs != "urls.txt" {
		t.Errorf("expected urls 'urls.txt', got %s", cfg.URLs)
	}
	if cfg.Concurrency != 32 {
		t.Errorf("expected concurrency 32, got %d", cfg.Concurrency)
	}
	if cfg.Retries != 0 {
		t.Errorf("expected explicit retries 0 to survive defaults, got %d", cfg.Retries)
	}
	if cfg.Capacity != 4 || cfg.RefillPerSec != 2 {
		t.Errorf("unexpected rate settings: %v/%v", cfg.Capacity, cfg.RefillPerSec)
	}
	if cfg.OutputFormat != "csv" {
		t.Errorf("expected output_format csv, got %s", cfg.OutputFormat)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	jsonContent := `{
		"urls": "urls.json",
		"concurrency": 8,
		"metrics_addr": ":8080",
		"debug": true
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configFile, []byte(jsonContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	if cfg.URLs != "urls.json" {
		t.Errorf("expected urls 'urls.json', got %s", cfg.URLs)
	}
	if cfg.MetricsAddr != ":8080" {
		t.Errorf("expected metrics_addr ':8080', got %s", cfg.MetricsAddr)
	}
	if !cfg.Debug {
		t.Error("expected debug to be enabled")
	}
	if cfg.Retries != fetch.DefaultRetries {
		t.Errorf("expected default retries %d, got %d", fetch.DefaultRetries, cfg.Retries)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	toml := filepath.Join(tmpDir, "config.toml")
	os.WriteFile(toml, []byte("x = 1"), 0644)
	if _, err := LoadFromFile(toml); err == nil {
		t.Error("expected error for unsupported extension")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	os.WriteFile(bad, []byte("priority: urgent\n"), 0644)
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected validation error for unknown priority")
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Concurrency != 16 {
		t.Errorf("expected default concurrency 16, got %d", cfg.Concurrency)
	}
	if cfg.Capacity != 9 || cfg.RefillPerSec != 9 {
		t.Errorf("expected 9/9 rate defaults, got %v/%v", cfg.Capacity, cfg.RefillPerSec)
	}
	if cfg.TickMS != 20 {
		t.Errorf("expected tick 20ms, got %d", cfg.TickMS)
	}
	if cfg.SoftTimeoutMS != 14000 {
		t.Errorf("expected soft timeout 14000ms, got %d", cfg.SoftTimeoutMS)
	}
	if cfg.UA != fetch.DefaultUserAgent {
		t.Errorf("unexpected default UA: %s", cfg.UA)
	}
	if cfg.OutputFormat != "jsonl" {
		t.Errorf("expected default output jsonl, got %s", cfg.OutputFormat)
	}
	if cfg.BucketIdleSec != 3600 {
		t.Errorf("expected bucket idle 3600s, got %d", cfg.BucketIdleSec)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"invalid concurrency", func(c *Config) { c.Concurrency = 0 }, true},
		{"negative retries", func(c *Config) { c.Retries = -1 }, true},
		{"capacity below one", func(c *Config) { c.Capacity = 0.5 }, true},
		{"zero refill", func(c *Config) { c.RefillPerSec = 0 }, true},
		{"unknown parse", func(c *Config) { c.Parse = "xml" }, true},
		{"unknown output", func(c *Config) { c.OutputFormat = "yaml" }, true},
		{"negative max body", func(c *Config) { c.MaxBodyBytes = -1 }, true},
		{"ndjson alias", func(c *Config) { c.OutputFormat = "ndjson" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMergeWithFlags(t *testing.T) {
	cfg := &Config{
		URLs:        "first.txt",
		Priority:    "high",
		Concurrency: 4,
		Retries:     2,
	}

	flags := map[string]interface{}{
		"urls":        "new.txt",
		"concurrency": 64,
		"retries":     0,
		"debug":       true,
	}

	cfg.MergeWithFlags(flags)

	if cfg.URLs != "new.txt" {
		t.Errorf("expected urls to be overridden to 'new.txt', got %s", cfg.URLs)
	}
	if cfg.Priority != "high" {
		t.Errorf("expected priority to remain 'high', got %s", cfg.Priority)
	}
	if cfg.Concurrency != 64 {
		t.Errorf("expected concurrency to be overridden to 64, got %d", cfg.Concurrency)
	}
	if cfg.Retries != 0 {
		t.Errorf("expected retries to be overridden to 0, got %d", cfg.Retries)
	}
	if !cfg.Debug {
		t.Error("expected debug to be set")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOSTFETCH_URLS", "env.txt")
	t.Setenv("HOSTFETCH_CONCURRENCY", "12")
	t.Setenv("HOSTFETCH_CAPACITY", "3")
	t.Setenv("HOSTFETCH_RETRIES", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	cfg.LoadFromEnv()

	if cfg.URLs != "env.txt" {
		t.Errorf("expected URLs from env, got %s", cfg.URLs)
	}
	if cfg.Concurrency != 12 {
		t.Errorf("expected concurrency 12 from env, got %d", cfg.Concurrency)
	}
	if cfg.Capacity != 3 {
		t.Errorf("expected capacity 3 from env, got %v", cfg.Capacity)
	}
	if cfg.Retries != fetch.DefaultRetries {
		t.Errorf("expected malformed retries to be ignored, got %d", cfg.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level from env, got %s", cfg.LogLevel)
	}
}

func TestFetchOptions(t *testing.T) {
	cfg := Default()
	cfg.Priority = "low"
	cfg.Parse = "text"
	cfg.DedupeKey = "v2"
	cfg.TTLMS = 1500

	o, err := cfg.FetchOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Priority != fetch.PriorityLow || o.Parse != fetch.ParseText || o.DedupeKey != "v2" {
		t.Errorf("unexpected options: %+v", o)
	}
	if o.TTL != 1500*time.Millisecond {
		t.Errorf("expected TTL 1.5s, got %v", o.TTL)
	}

	cfg.TTLMS = -1
	if o, _ := cfg.FetchOptions(); o.TTL != fetch.NoCache {
		t.Errorf("expected NoCache for negative ttl_ms, got %v", o.TTL)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	c := fetch.New(cfg.ClientOptions()...)
	defer c.Close()

	if n := len(cfg.ClientOptions()); n != 7 {
		t.Errorf("expected 7 client options, got %d", n)
	}
	if stats := c.Stats(); len(stats) != 0 {
		t.Errorf("expected a fresh client with no buckets, got %d", len(stats))
	}
}
