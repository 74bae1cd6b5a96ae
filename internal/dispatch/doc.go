// Package dispatch turns rule action intents into outbound adapter
// commands.
//
// # Ordering
//
// The dispatcher keeps one queue and one worker per target entity. Two
// intents addressed to the same device execute in submission order and
// never concurrently, so a single device is never commanded from two
// directions at once. Intents for different devices run concurrently
// with no ordering between them.
//
// # Reliability
//
// Each adapter call runs under a deadline. On timeout, intents marked
// idempotent are retried a configured number of times with doubling
// backoff before Failed is surfaced; non-idempotent intents surface
// TimedOut after the first deadline rather than risk double execution.
// An explicit adapter rejection is Failed immediately, no retry.
//
// # Cancellation
//
// Cancellation is cooperative: Cancel aborts the in-flight adapter call
// via context, and a queued intent is skipped. Acknowledgements are
// matched by intent ID upstream, so a stale ack from a command that
// could not be aborted is discarded, never misapplied.
package dispatch
