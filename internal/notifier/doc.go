// Package notifier delivers price-change notifications to subscribers.
//
// Each Send renders the change as an HTML message and pushes it through a
// transport.Sender under a shared token-bucket rate limit, retrying
// transient failures with jittered exponential backoff. A small in-memory
// history of recent deliveries backs the status endpoint.
package notifier
