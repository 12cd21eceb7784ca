// Package http provides the HTTP client used for product lookups and
// artifact transfers.
//
// # Features
//
//   - Separate connect and read timeouts; the read timeout applies between
//     body reads, so slow but steady transfers are never cut off
//   - Optional retry of network errors and 5xx responses with exponential
//     backoff and jitter (disabled by default)
//   - Non-2xx responses surface as *StatusError, which unwraps to
//     ErrNotFound, ErrForbidden, ErrUnauthorized or ErrServerError
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout: 15 * time.Second,
//	})
//	err := client.PostJSON(ctx, endpoint, request, &response)
//
//	body, err := client.Get(ctx, presignedURL)
//	defer body.Close()
package http
