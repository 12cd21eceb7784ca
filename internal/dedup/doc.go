// Package dedup provides the time-windowed set of identity keys that keeps
// a product from being enqueued more than once.
//
// Keys live only in memory. A key expires once it is older than the
// retention window (three hours by default); after that the same product
// may be enqueued again, which is harmless because the fetcher skips files
// that already exist on disk.
package dedup
