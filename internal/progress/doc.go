// Package progress tracks what the downloader has seen and done.
//
// A single Reporter is shared by the router and the worker pool. Counters
// are atomic so the hot paths never take a lock, and a nil *Reporter is a
// valid no-op so components can run without one in tests.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Logger:         logger,
//	    UpdateInterval: time.Minute,
//	})
//	go reporter.Run(ctx)
//
//	reporter.DownloadStarted()
//	reporter.DownloadCompleted(n)
//
// # Output Format
//
//	level=INFO msg=progress uptime="1h 2m 3s" events=812 accepted=204 duplicates=590
//	  dropped=0 active=1 completed=198 skipped=4 failed=1 written="1.21 GB"
package progress
