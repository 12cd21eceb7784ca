// Package fetcher turns a queued job into a file under the output root.
//
// Fetch resolves the job through the lookup endpoint, which answers with a
// storage key and a time-limited source URL. The key is normalized into a
// relative path and checked to stay inside the output root before anything
// is written. Existing non-empty files are skipped. Otherwise the source is
// streamed into a ".part" sibling and renamed into place once the transfer
// completes, so the final name never holds partial content. A failed
// transfer leaves the ".part" file behind for inspection.
//
// When a mirror is configured the finished file is also uploaded to a blob
// bucket under the same relative key. Mirror failures are logged and
// counted but never fail the job.
package fetcher
