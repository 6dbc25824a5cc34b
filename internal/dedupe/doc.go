// Package dedupe remembers results by idempotency key for a bounded time so
// a retried request can be answered with the original result.
package dedupe
