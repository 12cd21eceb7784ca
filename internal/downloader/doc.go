// Package downloader runs the worker pool that drains the job queue.
//
// Each worker takes the next job from the queue, hands it to a Fetcher and
// acknowledges it with queue.Done, whatever the outcome. Failures and
// panics are logged and counted; they never stop a worker.
//
// # Usage
//
//	pool := downloader.New(downloader.Options{
//	    Workers:  3,
//	    Queue:    jobs,
//	    Fetcher:  f,
//	    Progress: progressReporter,
//	})
//	pool.Run(ctx)
//
// # Graceful Shutdown
//
// Closing the queue lets the workers finish everything already queued and
// then return. Cancelling the context passed to Run aborts in-flight
// transfers and returns as soon as the workers notice.
package downloader
