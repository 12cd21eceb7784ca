// radar-downloader listens to the DPC radar event feed and downloads every
// newly published product of the configured types.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitInvalidConfig = 3
	ExitStorageError  = 4
	ExitFetchFailed   = 5
	ExitAborted       = 130
)

func main() {
	// A .env file next to the binary is optional.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") && args[0] != "-h" && args[0] != "--help" {
		return runDaemon(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runDaemon(cmdArgs)
	case "fetch":
		return runFetch(cmdArgs)
	case "config":
		return runConfig(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: radar-downloader [command] [options]

Commands:
  run       Listen to the event feed and download new products (default)
  fetch     Resolve and download a single product, then exit
  config    Print the effective configuration as YAML

Configuration is layered: built-in defaults, then --config FILE, then
RADAR_* environment variables (a .env file is loaded if present), then
command-line flags.

Run 'radar-downloader <command> -h' for command-specific help.`)
}
