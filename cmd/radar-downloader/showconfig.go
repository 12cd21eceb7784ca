package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func runConfig(args []string) int {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	flags := addConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: radar-downloader config [options]

Validate the layered configuration and print it as YAML. The output can be
used as a --config file.

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

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	if err := enc.Close(); err != nil {
		return ExitGeneralError
	}
	return ExitSuccess
}
