package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scoring.Script != "umls_score" {
		t.Errorf("Script = %q", cfg.Scoring.Script)
	}
	names := cfg.Indexer.FieldNames()
	if len(names) != 2 || names[0] != "str" || names[1] != "str_ngrams" {
		t.Errorf("FieldNames() = %v", names)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conceptrank.yaml")
	yml := `
server:
  port: 9000
indexer:
  dataDir: /var/lib/conceptrank
  numShards: 2
  flushInterval: 5s
  fields:
    - name: title
      source: str
      analyzer: text
    - name: title_grams
      source: str
      analyzer: ngrams
      ngramSize: 4
scoring:
  defaultLimit: 5
  maxResults: 50
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CR_SERVER_PORT", "9100")
	t.Setenv("CR_REDIS_ADDR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty (cache disabled)", cfg.Redis.Addr)
	}
	if cfg.Indexer.NumShards != 2 || cfg.Indexer.FlushInterval != 5*time.Second {
		t.Errorf("Indexer = %+v", cfg.Indexer)
	}
	if len(cfg.Indexer.Fields) != 2 || cfg.Indexer.Fields[1].NgramSize != 4 {
		t.Errorf("Fields = %+v", cfg.Indexer.Fields)
	}
	if cfg.Scoring.DefaultLimit != 5 || cfg.Scoring.MaxResults != 50 {
		t.Errorf("Scoring = %+v", cfg.Scoring)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no fields", func(c *Config) { c.Indexer.Fields = nil }, "at least one field"},
		{"duplicate field", func(c *Config) { c.Indexer.Fields[1].Name = "str" }, "duplicate field"},
		{"unknown analyzer", func(c *Config) { c.Indexer.Fields[0].Analyzer = "snowball" }, "unknown analyzer"},
		{"bad ngram size", func(c *Config) { c.Indexer.Fields[1].NgramSize = 0 }, "ngramSize"},
		{"no shards", func(c *Config) { c.Indexer.NumShards = 0 }, "numShards"},
		{"limits", func(c *Config) { c.Scoring.MaxResults = 1 }, "defaultLimit"},
		{"request timeout", func(c *Config) { c.Server.RequestTimeout = c.Server.WriteTimeout }, "requestTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CR_POSTGRES_HOST":                 "",
		"CR_REDIS_PASSWORD":                "",
		"CR_SCORING_RATE_LIMIT_PER_MINUTE": "0",
		"CR_KAFKA_BROKERS":                 "k1:9092,k2:9092",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := defaultConfig()
	cfg.Redis.Password = "kept"
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Postgres.Host != "" {
		t.Errorf("Postgres.Host = %q, want empty to disable the catalogue", cfg.Postgres.Host)
	}
	if cfg.Redis.Password != "kept" {
		t.Errorf("empty CR_REDIS_PASSWORD overwrote the password: %q", cfg.Redis.Password)
	}
	if cfg.Scoring.RateLimitPerMinute != 0 {
		t.Errorf("RateLimitPerMinute = %d, want 0", cfg.Scoring.RateLimitPerMinute)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v, want two", cfg.Kafka.Brokers)
	}
}

func TestApplyEnvReportsEveryMalformedValue(t *testing.T) {
	env := map[string]string{
		"CR_SERVER_PORT":       "http",
		"CR_ANALYTICS_ENABLED": "maybe",
	}
	err := applyEnv(defaultConfig(), func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err == nil {
		t.Fatal("expected an error")
	}
	for name := range env {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := defaultConfig()
	cfg.Indexer.NumShards = 0
	cfg.Indexer.Fields[0].Analyzer = "snowball"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "numShards") || !strings.Contains(err.Error(), "unknown analyzer") {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}
