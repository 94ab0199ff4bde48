// Package notifier delivers report messages and artifacts to chat targets.
//
// Delivery is synchronous from the caller's point of view. Each send is
// throttled by a token bucket and retried with exponential backoff. While the
// circuit breaker is open, sends fail immediately with gobreaker.ErrOpenState.
//
// For operator visibility the service keeps a small in-memory history of
// recent deliveries.
package notifier
