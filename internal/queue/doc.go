// Package queue is the hand-off point between the feed router and the
// download workers.
//
// The router sheds load instead of blocking: TryEnqueue returns ErrFull
// when the queue is at capacity. Workers block in Dequeue and acknowledge
// each job with Done. On shutdown the owner calls Close so no new jobs are
// accepted, then Join to wait until every queued and in-flight job has
// finished.
//
//	q := queue.New(1000)
//	if err := q.TryEnqueue(queue.NewJob("VMI", ts)); err != nil {
//	    // ErrFull or ErrClosed
//	}
//
//	for {
//	    job, ok := q.Dequeue(ctx)
//	    if !ok {
//	        return
//	    }
//	    process(job)
//	    q.Done()
//	}
package queue
