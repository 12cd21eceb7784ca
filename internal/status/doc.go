// Package status serves a small read-only HTTP API about the running
// downloader: GET /healthz for liveness and GET /status for a JSON view of
// the feed connection, the job queue, the dedup cache and the progress
// counters.
package status
