// Package agent assembles the downloader from its parts and runs it.
//
// The feed listener hands every event to the router, which filters and
// deduplicates it and places a job on the bounded queue. A pool of workers
// drains the queue through the fetcher. Around them run the dedup sweeper,
// the periodic progress log and, when configured, the status server and
// the blob mirror.
//
// # Shutdown
//
// Run takes two contexts. Cancelling the first stops the listener and
// closes the queue; the workers then finish every job already queued.
// Cancelling the second aborts in-flight transfers and returns at once.
package agent
