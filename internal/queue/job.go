package queue

import (
	"strconv"

	"github.com/google/uuid"
)

// Job is one accepted, deduplicated feed event awaiting download.
type Job struct {
	// ID correlates log lines of a single job. It is not part of the
	// job's identity.
	ID uuid.UUID

	ProductType     string
	TimestampMillis int64
}

// NewJob creates a job with a fresh correlation ID.
func NewJob(productType string, timestampMillis int64) Job {
	return Job{
		ID:              uuid.New(),
		ProductType:     productType,
		TimestampMillis: timestampMillis,
	}
}

// Key returns the job's identity key, "PRODUCT:millis".
func (j Job) Key() string {
	return IdentityKey(j.ProductType, j.TimestampMillis)
}

// IdentityKey builds the deduplication key for a product and timestamp.
func IdentityKey(productType string, timestampMillis int64) string {
	return productType + ":" + strconv.FormatInt(timestampMillis, 10)
}
