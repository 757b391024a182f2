// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Scoring, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Importer  ImporterConfig  `yaml:"importer"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RequestTimeout is the per-request handler deadline. It must stay
	// below WriteTimeout so the timeout response can still be written.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables the concept catalogue.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ConceptIngest string `yaml:"conceptIngest"`
	ScoreEvents   string `yaml:"scoreEvents"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the score cache; a comma-separated Addr names cluster nodes.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FieldConfig declares one indexed field and how its text is analyzed.
type FieldConfig struct {
	Name      string `yaml:"name"`
	Source    string `yaml:"source"`
	Analyzer  string `yaml:"analyzer"`
	NgramSize int    `yaml:"ngramSize"`
}

// IndexerConfig controls the index schema, shard layout, memory thresholds
// and flush/reload intervals.
type IndexerConfig struct {
	DataDir        string        `yaml:"dataDir"`
	NumShards      int           `yaml:"numShards"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	ReloadInterval time.Duration `yaml:"reloadInterval"`
	Fields         []FieldConfig `yaml:"fields"`
}

// FieldNames returns the configured field names in schema order.
func (c IndexerConfig) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	return names
}

// ScoringConfig controls score request limits and timeouts.
type ScoringConfig struct {
	Script               string        `yaml:"script"`
	DefaultLimit         int           `yaml:"defaultLimit"`
	MaxResults           int           `yaml:"maxResults"`
	MaxTermsPerField     int           `yaml:"maxTermsPerField"`
	TimeoutPerShard      time.Duration `yaml:"timeoutPerShard"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
	// RateLimitPerMinute caps score requests per client address. Zero
	// disables rate limiting.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// ImporterConfig controls the MRCONSO import job.
type ImporterConfig struct {
	MrconsoPath string `yaml:"mrconsoPath"`
	BatchSize   int    `yaml:"batchSize"`
	Language    string `yaml:"language"`
	Limit       int    `yaml:"limit"`
}

// AnalyticsConfig controls score and index event collection and the
// analytics aggregation service.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ConsumerGroup    string        `yaml:"consumerGroup"`
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	// SnapshotRetention bounds how long snapshots are kept; zero keeps all.
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load builds a Config from defaults, the YAML file at path (if any) and
// CR_* environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with the index schema and scoring limits.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Indexer.Fields) == 0 {
		errs = append(errs, errors.New("indexer.fields: at least one field is required"))
	}
	seen := make(map[string]bool, len(c.Indexer.Fields))
	for i, f := range c.Indexer.Fields {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Errorf("indexer.fields[%d]: name is required", i))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("indexer.fields[%d]: duplicate field %q", i, f.Name))
		}
		seen[f.Name] = true
		switch {
		case f.Analyzer == "ngrams" && f.NgramSize < 1:
			errs = append(errs, fmt.Errorf("indexer.fields[%d]: ngramSize must be >= 1", i))
		case f.Analyzer != "text" && f.Analyzer != "ngrams":
			errs = append(errs, fmt.Errorf("indexer.fields[%d]: unknown analyzer %q", i, f.Analyzer))
		}
	}
	if w := c.Server.WriteTimeout; w > 0 && c.Server.RequestTimeout >= w {
		errs = append(errs, fmt.Errorf("server.requestTimeout (%s) must be below writeTimeout (%s)", c.Server.RequestTimeout, w))
	}
	if c.Indexer.NumShards < 1 {
		errs = append(errs, errors.New("indexer.numShards must be >= 1"))
	}
	if c.Scoring.DefaultLimit < 1 || c.Scoring.MaxResults < c.Scoring.DefaultLimit {
		errs = append(errs, errors.New("scoring: need 1 <= defaultLimit <= maxResults"))
	}
	return errors.Join(errs...)
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  25 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "conceptrank",
			User:            "conceptrank",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "conceptrank-indexer",
			Topics: KafkaTopics{
				ConceptIngest: "concept-ingest",
				ScoreEvents:   "score-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:        "data/index",
			NumShards:      4,
			SegmentMaxSize: 64 << 20,
			FlushInterval:  30 * time.Second,
			ReloadInterval: 15 * time.Second,
			Fields: []FieldConfig{
				{Name: "str", Source: "str", Analyzer: "text"},
				{Name: "str_ngrams", Source: "str", Analyzer: "ngrams", NgramSize: 3},
			},
		},
		Scoring: ScoringConfig{
			Script:               "umls_score",
			DefaultLimit:         10,
			MaxResults:           100,
			MaxTermsPerField:     256,
			TimeoutPerShard:      2 * time.Second,
			MaxConcurrentQueries: 64,
			RateLimitPerMinute:   600,
		},
		Importer: ImporterConfig{
			BatchSize: 1000,
			Language:  "ENG",
		},
		Analytics: AnalyticsConfig{
			Enabled:           true,
			ConsumerGroup:     "conceptrank-analytics",
			BufferSize:        10000,
			BatchSize:         100,
			FlushInterval:     5 * time.Second,
			SnapshotInterval:  time.Minute,
			SnapshotRetention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// envVar binds one CR_* variable to a config field. Set variables are
// applied even when empty only for keepEmpty entries, which is how an
// optional dependency is switched off.
type envVar struct {
	name      string
	keepEmpty bool
	apply     func(*Config, string) error
}

var envVars = []envVar{
	{name: "CR_SERVER_PORT", apply: func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{name: "CR_POSTGRES_HOST", keepEmpty: true, apply: func(c *Config, v string) error { return setString(&c.Postgres.Host, v) }},
	{name: "CR_POSTGRES_PORT", apply: func(c *Config, v string) error { return setInt(&c.Postgres.Port, v) }},
	{name: "CR_POSTGRES_DATABASE", apply: func(c *Config, v string) error { return setString(&c.Postgres.Database, v) }},
	{name: "CR_POSTGRES_USER", apply: func(c *Config, v string) error { return setString(&c.Postgres.User, v) }},
	{name: "CR_POSTGRES_PASSWORD", apply: func(c *Config, v string) error { return setString(&c.Postgres.Password, v) }},
	{name: "CR_POSTGRES_SSLMODE", apply: func(c *Config, v string) error { return setString(&c.Postgres.SSLMode, v) }},
	{name: "CR_KAFKA_BROKERS", apply: func(c *Config, v string) error {
		c.Kafka.Brokers = strings.Split(v, ",")
		return nil
	}},
	{name: "CR_REDIS_ADDR", keepEmpty: true, apply: func(c *Config, v string) error { return setString(&c.Redis.Addr, v) }},
	{name: "CR_REDIS_PASSWORD", apply: func(c *Config, v string) error { return setString(&c.Redis.Password, v) }},
	{name: "CR_INDEXER_DATA_DIR", apply: func(c *Config, v string) error { return setString(&c.Indexer.DataDir, v) }},
	{name: "CR_INDEXER_NUM_SHARDS", apply: func(c *Config, v string) error { return setInt(&c.Indexer.NumShards, v) }},
	{name: "CR_SCORING_SCRIPT", apply: func(c *Config, v string) error { return setString(&c.Scoring.Script, v) }},
	{name: "CR_SCORING_RATE_LIMIT_PER_MINUTE", apply: func(c *Config, v string) error { return setInt(&c.Scoring.RateLimitPerMinute, v) }},
	{name: "CR_IMPORTER_MRCONSO_PATH", apply: func(c *Config, v string) error { return setString(&c.Importer.MrconsoPath, v) }},
	{name: "CR_IMPORTER_LIMIT", apply: func(c *Config, v string) error { return setInt(&c.Importer.Limit, v) }},
	{name: "CR_ANALYTICS_ENABLED", apply: func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.Analytics.Enabled = b
		}
		return err
	}},
	{name: "CR_LOGGING_LEVEL", apply: func(c *Config, v string) error { return setString(&c.Logging.Level, v) }},
	{name: "CR_LOGGING_FORMAT", apply: func(c *Config, v string) error { return setString(&c.Logging.Format, v) }},
}

// applyEnv applies every bound variable that lookup finds. Malformed
// values are all reported together.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || (v == "" && !ev.keepEmpty) {
			continue
		}
		if err := ev.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", ev.name, v, err))
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) error {
	*dst = v
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
