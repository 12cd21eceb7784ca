// Package feed maintains the websocket session to the radar event feed.
//
// A Listener dials the feed, optionally sends a subscribe message, and keeps
// the connection alive with pings. Every text or binary frame is decoded by
// DecodeFrame: newline-delimited JSON is split, the {"data": {...}} envelope
// is unwrapped, and arrays yield one event per object element. Malformed
// fragments are logged and skipped.
//
// When the connection drops the Listener reconnects after Backoff, which
// doubles from one second up to thirty seconds and resets once a session
// has delivered frames.
package feed
