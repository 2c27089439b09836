// Package config loads and validates hostinv configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
)

// Transport and store backends.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPubSub   = "pubsub"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig   `mapstructure:"logging"`
	Server      ServerConfig    `mapstructure:"server"`
	Fetch       FetchConfig     `mapstructure:"fetch"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Sources     []SourceEntry   `mapstructure:"sources"`
	SourcesFile string          `mapstructure:"sources_file"`
	Transport   TransportConfig `mapstructure:"transport"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Store       StoreConfig     `mapstructure:"store"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetchConfig governs the per-source poll loops.
type FetchConfig struct {
	Token         string        `mapstructure:"token"`
	PageSize      int           `mapstructure:"page_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// RetryConfig configures backoff for retryable fetch errors.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SourceEntry mirrors one item of the sources list: {source: {name, url}}.
type SourceEntry struct {
	Source SourceSpec `mapstructure:"source" yaml:"source"`
}

// SourceSpec names one upstream API.
type SourceSpec struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// TransportConfig selects and configures the transport channel.
type TransportConfig struct {
	Backend string       `mapstructure:"backend"`
	Buffer  int          `mapstructure:"buffer"`
	NATS    NATSConfig   `mapstructure:"nats"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// NATSConfig holds the NATS connection settings. PublishURL and SubscribeURL
// override URL for the fetch and normalize units respectively.
type NATSConfig struct {
	URL          string `mapstructure:"url"`
	PublishURL   string `mapstructure:"publish_url"`
	SubscribeURL string `mapstructure:"subscribe_url"`
	Subject      string `mapstructure:"subject"`
	Queue        string `mapstructure:"queue"`
}

// PubSubConfig holds Google Cloud Pub/Sub identifiers.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// QueueConfig bounds the in-process queues.
type QueueConfig struct {
	Depth      int    `mapstructure:"depth"`
	FullPolicy string `mapstructure:"full_policy"`
}

// StoreConfig selects and configures the host store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// GCSConfig names the bucket holding host objects.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// TelemetryConfig names the service in traces and sets the sampling ratio.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Without an explicit path it
// looks for hostinv.yaml in ., /etc/hostinv and $HOME/.hostinv, and runs on
// defaults when none exists. Every key can be set through HOSTINV_<KEY> with
// dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOSTINV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("hostinv")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hostinv/")
		v.AddConfigPath("$HOME/.hostinv")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SourcesFile != "" {
		extra, err := LoadSourcesFile(cfg.SourcesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Sources = append(cfg.Sources, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.token", "")
	v.SetDefault("fetch.page_size", inventory.DefaultPageSize)
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.idle_interval", 5*time.Second)
	v.SetDefault("fetch.rate_per_second", 0)
	v.SetDefault("fetch.user_agent", "hostinv/0.1")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 250*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("sources_file", "")
	v.SetDefault("transport.backend", BackendMemory)
	v.SetDefault("transport.buffer", 1024)
	v.SetDefault("transport.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("transport.nats.publish_url", "")
	v.SetDefault("transport.nats.subscribe_url", "")
	v.SetDefault("transport.nats.subject", "hostinv.raw")
	v.SetDefault("transport.nats.queue", "normalizer")
	v.SetDefault("transport.pubsub.project_id", "")
	v.SetDefault("transport.pubsub.topic_id", "hostinv-raw")
	v.SetDefault("transport.pubsub.subscription_id", "hostinv-normalizer")
	v.SetDefault("queue.depth", 1024)
	v.SetDefault("queue.full_policy", string(queuememory.Block))
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "hosts")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("store.postgres.ensure_schema", true)
	v.SetDefault("store.gcs.bucket", "")
	v.SetDefault("store.gcs.prefix", "hosts")
	v.SetDefault("telemetry.service_name", "hostinv")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// bindLegacyEnv honours the variable names older deployments set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"fetch.token":                  {"HOSTINV_FETCH_TOKEN", "TOKEN"},
		"transport.nats.publish_url":   {"HOSTINV_TRANSPORT_NATS_PUBLISH_URL", "PUSH_SOCKET"},
		"transport.nats.subscribe_url": {"HOSTINV_TRANSPORT_NATS_SUBSCRIBE_URL", "PULL_SOCKET"},
		"store.postgres.dsn":           {"HOSTINV_STORE_POSTGRES_DSN", "MONGO_HOSTNAME"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.IdleInterval < 0 {
		return fmt.Errorf("fetch.idle_interval must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if _, err := queuememory.ParsePolicy(c.Queue.FullPolicy); err != nil {
		return fmt.Errorf("queue.full_policy: %w", err)
	}

	switch c.Transport.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Transport.NATS.PublisherURL() == "" || c.Transport.NATS.SubscriberURL() == "" {
			return fmt.Errorf("transport.nats.url is required for the nats backend")
		}
		if c.Transport.NATS.Subject == "" {
			return fmt.Errorf("transport.nats.subject is required for the nats backend")
		}
	case BackendPubSub:
		if c.Transport.PubSub.ProjectID == "" || c.Transport.PubSub.TopicID == "" {
			return fmt.Errorf("transport.pubsub.project_id and topic_id are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown transport.backend %q", c.Transport.Backend)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	case BackendGCS:
		if c.Store.GCS.Bucket == "" {
			return fmt.Errorf("store.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func (c Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i, entry := range c.Sources {
		if entry.Source.Name == "" || entry.Source.URL == "" {
			return fmt.Errorf("sources[%d]: name and url are required", i)
		}
		if _, dup := seen[entry.Source.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, entry.Source.Name)
		}
		seen[entry.Source.Name] = struct{}{}
	}
	return nil
}

// InventorySources returns the source registry with every cursor at its
// initial position.
func (c Config) InventorySources() []inventory.Source {
	out := make([]inventory.Source, 0, len(c.Sources))
	for _, entry := range c.Sources {
		out = append(out, inventory.Source{
			Name:  entry.Source.Name,
			URL:   entry.Source.URL,
			Skip:  0,
			Limit: c.Fetch.PageSize,
		})
	}
	return out
}

// QueuePolicy returns the parsed overflow policy.
func (c Config) QueuePolicy() queuememory.OverflowPolicy {
	policy, err := queuememory.ParsePolicy(c.Queue.FullPolicy)
	if err != nil {
		return queuememory.Block
	}
	return policy
}

// PublisherURL is the NATS URL the fetch unit publishes to.
func (n NATSConfig) PublisherURL() string {
	if n.PublishURL != "" {
		return n.PublishURL
	}
	return n.URL
}

// SubscriberURL is the NATS URL the normalize unit subscribes on.
func (n NATSConfig) SubscriberURL() string {
	if n.SubscribeURL != "" {
		return n.SubscribeURL
	}
	return n.URL
}
