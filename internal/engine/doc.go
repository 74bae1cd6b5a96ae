// Package engine evaluates automation rules against state-transition
// events and emits action intents to the command dispatcher.
//
// # Rule State Machine
//
// Each rule moves through idle → triggered → evaluating → (firing |
// suppressed) → idle. A trigger match re-reads every condition against
// the registry's current state, not the triggering event's snapshot, so
// races with concurrently applied updates resolve in favor of the
// freshest data. Conditions short-circuit: the first failure suppresses
// the firing and no actions are emitted.
//
// # Re-entrancy and Debounce
//
// A non-reentrant rule triggered while still firing is debounced: the
// new trigger is recorded (once, however many arrive) and the rule
// re-evaluates a single time after the current firing completes. The
// in-flight execution's intents are cancelled as obsoleted. Rules
// marked reentrant fire concurrently with themselves.
//
// # Failure Containment
//
// A condition or action error degrades only its own rule back to idle,
// with a logged recoverable error. Other rules, the registry, and the
// bus are never affected.
//
// # Time and Sun Triggers
//
// Rules triggered by wall-clock time or sun events have no originating
// event; an internal scheduler detects occurrences by window crossing
// and feeds them into the same trigger path.
package engine
