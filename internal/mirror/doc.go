// Package mirror copies downloaded artifacts to a gocloud blob bucket.
//
// The bucket is opened from a URL, so any driver linked into the binary
// works: s3:// (including MinIO via endpoint parameters), gs://, file://
// and mem://. Objects that already exist are left alone, which keeps the
// mirror idempotent across restarts.
package mirror
