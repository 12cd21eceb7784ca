package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/fetcher"
	radarhttp "github.com/glascaleia/DPC-Radar-data-downloader/internal/http"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/mirror"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/progress"
	"github.com/glascaleia/DPC-Radar-data-downloader/internal/queue"
)

// runFetch resolves and downloads one product outside the feed, for
// back-filling a missed product or checking the lookup endpoint.
func runFetch(args []string) int {
	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	flags := addConfigFlags(fs)
	product := fs.String("product", "", "product type (required)")
	at := fs.String("time", "", "product time as epoch milliseconds or RFC 3339 (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: radar-downloader fetch --product TYPE --time TIME [options]

Resolve a single product through the lookup endpoint and download it into
the output directory. Existing non-empty files are left untouched.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	productType := strings.ToUpper(strings.TrimSpace(*product))
	if productType == "" || *at == "" {
		fmt.Fprintln(os.Stderr, "Error: --product and --time are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	millis, err := parseProductTime(*at)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg, err := flags.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidConfig
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var uploader fetcher.Uploader
	if cfg.MirrorBucket != "" {
		m, err := mirror.Open(ctx, cfg.MirrorBucket)
		if err != nil {
			logger.Error("open mirror bucket", "error", err)
			return ExitStorageError
		}
		defer m.Close()
		uploader = m
	}

	f := fetcher.New(fetcher.Options{
		Endpoint:  cfg.APIEndpoint,
		OutputDir: cfg.OutputDir,
		ChunkSize: cfg.ChunkSize,
		Lookup: radarhttp.Options{
			Timeout:         cfg.Timeouts.Lookup,
			ConnectTimeout:  cfg.Timeouts.Connect,
			RetryAttempts:   cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
		},
		Transfer: radarhttp.Options{
			ConnectTimeout:  cfg.Timeouts.Connect,
			ReadTimeout:     cfg.Timeouts.Read,
			RetryAttempts:   cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
		},
		Mirror: uploader,
		Logger: logger,
	})

	res, err := f.Fetch(ctx, queue.NewJob(productType, millis))
	if err != nil {
		logger.Error("fetch failed", "error", err)
		return ExitFetchFailed
	}
	if res.Skipped {
		fmt.Fprintf(os.Stderr, "Already present: %s\n", res.Path)
	} else {
		fmt.Fprintf(os.Stderr, "Downloaded %s to %s\n", progress.FormatBytes(res.Bytes), res.Path)
	}
	return ExitSuccess
}

// parseProductTime accepts epoch milliseconds or an RFC 3339 timestamp.
func parseProductTime(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid --time %q: want epoch milliseconds or RFC 3339", s)
	}
	return t.UnixMilli(), nil
}
