// Package config defines configuration structures for the radar downloader.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (RADAR_ prefix)
//   - YAML configuration file
//
// Sources are layered: Default, then the YAML file, then the environment,
// then flags through Merge. The result is validated once at startup and is
// not modified afterwards.
//
// # Example
//
//	feed:
//	  url: wss://radar-wss.protezionecivile.it
//	  headers:
//	    - "X-Client: radar-downloader"
//	products: [VMI, SRI, TEMP]
//	output_dir: /srv/radar
//	workers: 4
//	chunk_size: 1MiB
//	timeouts:
//	  lookup: 15s
//	  read: 2m
//	retry:
//	  attempts: 2
package config
