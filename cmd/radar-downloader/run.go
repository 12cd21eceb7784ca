package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/glascaleia/DPC-Radar-data-downloader/internal/agent"
)

func runDaemon(args []string) int {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags := addConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: radar-downloader run [options]

Listen to the radar event feed and download every new product of the
configured types. The first SIGINT or SIGTERM stops intake and waits for
queued downloads to finish; a second one aborts them.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
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

	hardCtx, abort := context.WithCancel(context.Background())
	defer abort()
	ctx, stop := context.WithCancel(hardCtx)
	defer stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Info("received signal, draining queue (repeat to abort)", "signal", sig.String())
		stop()
		if _, ok := <-sigCh; ok {
			logger.Warn("received second signal, aborting downloads")
			abort()
		}
	}()

	err = agent.New(agent.Options{Config: cfg, Logger: logger}).Run(ctx, hardCtx)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, agent.ErrAborted):
		return ExitAborted
	case errors.Is(err, agent.ErrStorage):
		logger.Error("storage unavailable", "error", err)
		return ExitStorageError
	default:
		logger.Error("radar downloader failed", "error", err)
		return ExitGeneralError
	}
}
