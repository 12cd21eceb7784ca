package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
)

// Default endpoints of the DPC radar platform.
const (
	DefaultFeedURL     = "wss://radar-wss.protezionecivile.it"
	DefaultOrigin      = "https://radar.protezionecivile.it"
	DefaultAPIEndpoint = "https://radar-api-v2.protezionecivile.it/downloadProduct"
	DefaultProducts    = "VMI,SRI,TEMP"

	// DefaultUserAgent is browser-like because the feed's edge filter
	// rejects non-browser clients.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// Config defines configuration for the radar downloader.
type Config struct {
	Feed         FeedConfig
	APIEndpoint  string
	Products     []string
	OutputDir    string
	Workers      int
	QueueSize    int
	ChunkSize    int64
	LogLevel     string
	StatusAddr   string
	MirrorBucket string
	Timeouts     TimeoutConfig
	Retry        RetryConfig
	Dedup        DedupConfig
}

// FeedConfig describes the websocket event feed.
type FeedConfig struct {
	URL          string
	Subscribe    string
	UserAgent    string
	Origin       string
	Headers      []string // extra "Name: value" headers
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// TimeoutConfig bounds the lookup call and the artifact transfer.
type TimeoutConfig struct {
	Lookup  time.Duration
	Connect time.Duration
	Read    time.Duration
}

// RetryConfig defines retry behavior of individual HTTP requests.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DedupConfig controls how long identity keys are remembered.
type DedupConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Feed: FeedConfig{
			URL:          DefaultFeedURL,
			UserAgent:    DefaultUserAgent,
			Origin:       DefaultOrigin,
			PingInterval: 20 * time.Second,
			PongTimeout:  10 * time.Second,
		},
		APIEndpoint: DefaultAPIEndpoint,
		Products:    ParseProducts(DefaultProducts),
		OutputDir:   "./downloads",
		Workers:     3,
		QueueSize:   1000,
		ChunkSize:   1024 * 1024, // 1MiB
		LogLevel:    "info",
		Timeouts: TimeoutConfig{
			Lookup:  15 * time.Second,
			Connect: 15 * time.Second,
			Read:    120 * time.Second,
		},
		Retry: RetryConfig{
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Dedup: DedupConfig{
			Retention:     3 * time.Hour,
			SweepInterval: 300 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and sizes.
type yamlConfig struct {
	Feed         yamlFeedConfig    `yaml:"feed"`
	APIEndpoint  string            `yaml:"api_endpoint"`
	Products     yamlProducts      `yaml:"products"`
	OutputDir    string            `yaml:"output_dir"`
	Workers      int               `yaml:"workers"`
	QueueSize    int               `yaml:"queue_size"`
	ChunkSize    string            `yaml:"chunk_size"`
	LogLevel     string            `yaml:"log_level"`
	StatusAddr   string            `yaml:"status_addr,omitempty"`
	MirrorBucket string            `yaml:"mirror_bucket,omitempty"`
	Timeouts     yamlTimeoutConfig `yaml:"timeouts"`
	Retry        yamlRetryConfig   `yaml:"retry"`
	Dedup        yamlDedupConfig   `yaml:"dedup"`
}

type yamlFeedConfig struct {
	URL          string   `yaml:"url"`
	Subscribe    string   `yaml:"subscribe,omitempty"`
	UserAgent    string   `yaml:"user_agent"`
	Origin       string   `yaml:"origin"`
	Headers      []string `yaml:"headers,omitempty"`
	PingInterval string   `yaml:"ping_interval"`
	PongTimeout  string   `yaml:"pong_timeout"`
}

type yamlTimeoutConfig struct {
	Lookup  string `yaml:"lookup"`
	Connect string `yaml:"connect"`
	Read    string `yaml:"read"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlDedupConfig struct {
	Retention     string `yaml:"retention"`
	SweepInterval string `yaml:"sweep_interval"`
}

// yamlProducts accepts either a YAML sequence or a comma-separated string.
type yamlProducts []string

func (p *yamlProducts) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = ParseProducts(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = ParseProducts(strings.Join(list, ","))
		return nil
	default:
		return fmt.Errorf("products: expected list or string, got yaml kind %d", node.Kind)
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Feed.URL != "" {
		cfg.Feed.URL = yc.Feed.URL
	}
	if yc.Feed.Subscribe != "" {
		cfg.Feed.Subscribe = yc.Feed.Subscribe
	}
	if yc.Feed.UserAgent != "" {
		cfg.Feed.UserAgent = yc.Feed.UserAgent
	}
	if yc.Feed.Origin != "" {
		cfg.Feed.Origin = yc.Feed.Origin
	}
	if len(yc.Feed.Headers) > 0 {
		cfg.Feed.Headers = yc.Feed.Headers
	}
	if err := parseDuration(yc.Feed.PingInterval, "feed.ping_interval", &cfg.Feed.PingInterval); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Feed.PongTimeout, "feed.pong_timeout", &cfg.Feed.PongTimeout); err != nil {
		return Config{}, err
	}
	if yc.APIEndpoint != "" {
		cfg.APIEndpoint = yc.APIEndpoint
	}
	if len(yc.Products) > 0 {
		cfg.Products = yc.Products
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.QueueSize != 0 {
		cfg.QueueSize = yc.QueueSize
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.StatusAddr != "" {
		cfg.StatusAddr = yc.StatusAddr
	}
	if yc.MirrorBucket != "" {
		cfg.MirrorBucket = yc.MirrorBucket
	}
	if err := parseDuration(yc.Timeouts.Lookup, "timeouts.lookup", &cfg.Timeouts.Lookup); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Timeouts.Connect, "timeouts.connect", &cfg.Timeouts.Connect); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Timeouts.Read, "timeouts.read", &cfg.Timeouts.Read); err != nil {
		return Config{}, err
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration(yc.Retry.Backoff, "retry.backoff", &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Retry.MaxBackoff, "retry.max_backoff", &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Dedup.Retention, "dedup.retention", &cfg.Dedup.Retention); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Dedup.SweepInterval, "dedup.sweep_interval", &cfg.Dedup.SweepInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// MarshalYAML renders c in the file format read by LoadFromFile.
func (c Config) MarshalYAML() (any, error) {
	return yamlConfig{
		Feed: yamlFeedConfig{
			URL:          c.Feed.URL,
			Subscribe:    c.Feed.Subscribe,
			UserAgent:    c.Feed.UserAgent,
			Origin:       c.Feed.Origin,
			Headers:      c.Feed.Headers,
			PingInterval: c.Feed.PingInterval.String(),
			PongTimeout:  c.Feed.PongTimeout.String(),
		},
		APIEndpoint:  c.APIEndpoint,
		Products:     yamlProducts(c.Products),
		OutputDir:    c.OutputDir,
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		ChunkSize:    strconv.FormatInt(c.ChunkSize, 10),
		LogLevel:     c.LogLevel,
		StatusAddr:   c.StatusAddr,
		MirrorBucket: c.MirrorBucket,
		Timeouts: yamlTimeoutConfig{
			Lookup:  c.Timeouts.Lookup.String(),
			Connect: c.Timeouts.Connect.String(),
			Read:    c.Timeouts.Read.String(),
		},
		Retry: yamlRetryConfig{
			Attempts:   c.Retry.Attempts,
			Backoff:    c.Retry.Backoff.String(),
			MaxBackoff: c.Retry.MaxBackoff.String(),
		},
		Dedup: yamlDedupConfig{
			Retention:     c.Dedup.Retention.String(),
			SweepInterval: c.Dedup.SweepInterval.String(),
		},
	}, nil
}

func parseDuration(s, name string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RADAR_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("RADAR_WS_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("RADAR_WS_SUBSCRIBE"); v != "" {
		c.Feed.Subscribe = v
	}
	if v := os.Getenv("RADAR_WS_USER_AGENT"); v != "" {
		c.Feed.UserAgent = v
	}
	if v := os.Getenv("RADAR_WS_ORIGIN"); v != "" {
		c.Feed.Origin = v
	}
	if v := os.Getenv("RADAR_WS_HEADERS"); v != "" {
		var headers []string
		for _, h := range strings.Split(v, ";") {
			if h = strings.TrimSpace(h); h != "" {
				headers = append(headers, h)
			}
		}
		c.Feed.Headers = headers
	}
	if v := os.Getenv("RADAR_API_ENDPOINT"); v != "" {
		c.APIEndpoint = v
	}
	if v := os.Getenv("RADAR_PRODUCTS"); v != "" {
		c.Products = ParseProducts(v)
	}
	if v := os.Getenv("RADAR_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("RADAR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RADAR_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("RADAR_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RADAR_QUEUE_SIZE: %w", err)
		}
		c.QueueSize = n
	}
	if v := os.Getenv("RADAR_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse RADAR_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("RADAR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RADAR_STATUS_ADDR"); v != "" {
		c.StatusAddr = v
	}
	if v := os.Getenv("RADAR_MIRROR_BUCKET"); v != "" {
		c.MirrorBucket = v
	}
	if err := parseDuration(os.Getenv("RADAR_LOOKUP_TIMEOUT"), "RADAR_LOOKUP_TIMEOUT", &c.Timeouts.Lookup); err != nil {
		return err
	}
	if err := parseDuration(os.Getenv("RADAR_CONNECT_TIMEOUT"), "RADAR_CONNECT_TIMEOUT", &c.Timeouts.Connect); err != nil {
		return err
	}
	if err := parseDuration(os.Getenv("RADAR_READ_TIMEOUT"), "RADAR_READ_TIMEOUT", &c.Timeouts.Read); err != nil {
		return err
	}
	if v := os.Getenv("RADAR_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RADAR_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if err := parseDuration(os.Getenv("RADAR_RETRY_BACKOFF"), "RADAR_RETRY_BACKOFF", &c.Retry.Backoff); err != nil {
		return err
	}
	if err := parseDuration(os.Getenv("RADAR_RETRY_MAX_BACKOFF"), "RADAR_RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff); err != nil {
		return err
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("config: feed URL is required")
	}
	u, err := url.Parse(c.Feed.URL)
	if err != nil {
		return fmt.Errorf("config: feed URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: feed URL must use ws or wss, got %q", u.Scheme)
	}
	if c.APIEndpoint == "" {
		return errors.New("config: API endpoint is required")
	}
	if len(c.Products) == 0 {
		return errors.New("config: at least one product is required")
	}
	if c.OutputDir == "" {
		return errors.New("config: output directory is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queue_size must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Feed.PingInterval <= 0 || c.Feed.PongTimeout <= 0 {
		return errors.New("config: ping interval and pong timeout must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry attempts must not be negative")
	}
	if c.Dedup.Retention <= 0 || c.Dedup.SweepInterval <= 0 {
		return errors.New("config: dedup retention and sweep interval must be positive")
	}
	for _, h := range c.Feed.Headers {
		if _, _, ok := SplitHeader(h); !ok {
			return fmt.Errorf("config: malformed header %q (want \"Name: value\")", h)
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored. Headers are appended.
func (c Config) Merge(override Config) Config {
	if override.Feed.URL != "" {
		c.Feed.URL = override.Feed.URL
	}
	if override.Feed.Subscribe != "" {
		c.Feed.Subscribe = override.Feed.Subscribe
	}
	if override.Feed.UserAgent != "" {
		c.Feed.UserAgent = override.Feed.UserAgent
	}
	if override.Feed.Origin != "" {
		c.Feed.Origin = override.Feed.Origin
	}
	if len(override.Feed.Headers) > 0 {
		c.Feed.Headers = append(append([]string(nil), c.Feed.Headers...), override.Feed.Headers...)
	}
	if override.Feed.PingInterval != 0 {
		c.Feed.PingInterval = override.Feed.PingInterval
	}
	if override.Feed.PongTimeout != 0 {
		c.Feed.PongTimeout = override.Feed.PongTimeout
	}
	if override.APIEndpoint != "" {
		c.APIEndpoint = override.APIEndpoint
	}
	if len(override.Products) > 0 {
		c.Products = override.Products
	}
	if override.OutputDir != "" {
		c.OutputDir = override.OutputDir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.QueueSize != 0 {
		c.QueueSize = override.QueueSize
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.StatusAddr != "" {
		c.StatusAddr = override.StatusAddr
	}
	if override.MirrorBucket != "" {
		c.MirrorBucket = override.MirrorBucket
	}
	if override.Timeouts.Lookup != 0 {
		c.Timeouts.Lookup = override.Timeouts.Lookup
	}
	if override.Timeouts.Connect != 0 {
		c.Timeouts.Connect = override.Timeouts.Connect
	}
	if override.Timeouts.Read != 0 {
		c.Timeouts.Read = override.Timeouts.Read
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Dedup.Retention != 0 {
		c.Dedup.Retention = override.Dedup.Retention
	}
	if override.Dedup.SweepInterval != 0 {
		c.Dedup.SweepInterval = override.Dedup.SweepInterval
	}
	return c
}

// ParseProducts splits a comma-separated product list, trimming and
// upper-casing each entry and dropping empties and repeats.
func ParseProducts(s string) []string {
	var products []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		products = append(products, p)
	}
	return products
}

// HTTPHeader builds the websocket handshake headers: User-Agent, Origin,
// then the extra header lines. Malformed lines are skipped; Validate
// reports them.
func (f FeedConfig) HTTPHeader() http.Header {
	h := make(http.Header)
	if f.UserAgent != "" {
		h.Set("User-Agent", f.UserAgent)
	}
	if f.Origin != "" {
		h.Set("Origin", f.Origin)
	}
	for _, line := range f.Headers {
		if name, value, ok := SplitHeader(line); ok {
			h.Add(name, value)
		}
	}
	return h
}

// SplitHeader splits a "Name: value" header line.
func SplitHeader(line string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}
