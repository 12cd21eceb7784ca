package feed

import "time"

// Reconnect backoff bounds.
const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 30 * time.Second
)

// Backoff returns the wait after the given number of consecutive
// connection failures: min * 2^(failures-1), capped at max. Zero or
// negative failures yield min.
func Backoff(failures int, min, max time.Duration) time.Duration {
	if failures <= 1 {
		return min
	}
	d := min
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
