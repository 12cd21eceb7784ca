package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/config"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
)

// configFlags holds the flags shared by every command that needs a Config.
type configFlags struct {
	path      string
	override  config.Config
	products  string
	chunkSize string
}

func addConfigFlags(fs *pflag.FlagSet) *configFlags {
	f := &configFlags{}
	o := &f.override

	fs.StringVarP(&f.path, "config", "c", "", "YAML configuration file")
	fs.StringVar(&o.Feed.URL, "ws-url", "", "event feed websocket URL")
	fs.StringVar(&o.Feed.Subscribe, "ws-subscribe", "", "message sent after connecting to the feed")
	fs.StringVar(&o.Feed.UserAgent, "ws-user-agent", "", "User-Agent for the feed handshake")
	fs.StringVar(&o.Feed.Origin, "ws-origin", "", "Origin for the feed handshake")
	fs.StringArrayVar(&o.Feed.Headers, "ws-header", nil, `extra handshake header "Name: value" (repeatable)`)
	fs.StringVar(&o.APIEndpoint, "api-endpoint", "", "product lookup endpoint")
	fs.StringVarP(&f.products, "products", "p", "", "comma-separated product types to download")
	fs.StringVarP(&o.OutputDir, "output", "o", "", "output directory")
	fs.IntVarP(&o.Workers, "workers", "w", 0, "number of download workers")
	fs.IntVar(&o.QueueSize, "queue-size", 0, "maximum number of queued jobs")
	fs.StringVar(&f.chunkSize, "chunk-size", "", "transfer buffer size (e.g. 1MiB)")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&o.StatusAddr, "status-addr", "", "serve /healthz and /status on this address")
	fs.StringVar(&o.MirrorBucket, "mirror-bucket", "", "also upload artifacts to this bucket URL (s3://, gs://, file://)")
	fs.DurationVar(&o.Timeouts.Lookup, "lookup-timeout", 0, "timeout of the lookup call")
	fs.DurationVar(&o.Timeouts.Connect, "connect-timeout", 0, "dial timeout for transfers")
	fs.DurationVar(&o.Timeouts.Read, "read-timeout", 0, "maximum wait for more bytes during a transfer")
	fs.IntVar(&o.Retry.Attempts, "retry-attempts", 0, "retries for failed HTTP requests")
	fs.DurationVar(&o.Retry.Backoff, "retry-backoff", 0, "initial retry backoff")
	fs.DurationVar(&o.Retry.MaxBackoff, "retry-max-backoff", 0, "maximum retry backoff")
	return f
}

// load layers defaults, file, environment and flags, then validates.
func (f *configFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.path != "" {
		loaded, err := config.LoadFromFile(f.path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := f.override
	if f.products != "" {
		override.Products = config.ParseProducts(f.products)
	}
	if f.chunkSize != "" {
		size, err := progress.ParseBytes(f.chunkSize)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --chunk-size: %w", err)
		}
		override.ChunkSize = size
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
