// Package history records accepted state transitions to a time-series
// store. The recorder is a lossy bus subscriber: under sustained
// overload it drops its own oldest backlog rather than slowing the
// registry, and a write failure never affects state handling.
package history
