// Package router validates feed events and turns the accepted ones into
// download jobs.
//
// For each event the router:
//   - reads the product type from "productType" (or "type"), trimmed and
//     upper-cased
//   - reads a millisecond timestamp from "time", "productDate" or
//     "timestamp", whichever is present first; only JSON numbers count
//   - drops the event if the product is not in the allowlist
//   - records the identity key "PRODUCT:millis" in the dedup cache and
//     stops if it was already there
//   - offers the job to the queue without blocking; a full queue sheds
//     the job with a warning
//
// The dedup entry is recorded before the enqueue attempt, so a job shed
// under overload is not retried when the same event is announced again
// within the retention window.
package router
