package dispatch

import (
	"time"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// IntentKind discriminates what an intent asks the adapter to do.
type IntentKind string

const (
	// KindSetValue commands the target entity to a desired value.
	KindSetValue IntentKind = "set_value"

	// KindInvoke requests a named adapter-side invocation.
	KindInvoke IntentKind = "invoke"
)

// Intent is one pending command produced by a rule firing (or an API
// call) and consumed exactly once by the dispatcher.
type Intent struct {
	// ID uniquely identifies this intent. Acknowledgements are matched
	// by ID, so a stale ack for a superseded intent is discarded, never
	// misapplied.
	ID string `json:"id"`

	// Target is the entity the command addresses.
	Target string `json:"target"`

	// AdapterID is the integration adapter that owns the target.
	// Resolved by the dispatcher from the registry at submission.
	AdapterID string `json:"adapter_id"`

	// RuleID and ExecutionID tie the intent back to the rule firing that
	// produced it. Empty for operator-initiated commands.
	RuleID      string `json:"rule_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`

	Kind IntentKind `json:"kind"`

	// Value is the desired value for set_value intents.
	Value *entity.Value `json:"value,omitempty"`

	// Service and Params describe invoke intents.
	Service string         `json:"service,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	// Idempotent marks the intent safe to retry on timeout.
	Idempotent bool `json:"idempotent"`

	// Timeout is the per-attempt adapter deadline. Zero means the
	// dispatcher default.
	Timeout time.Duration `json:"-"`

	// SubmittedAt is set by the dispatcher.
	SubmittedAt time.Time `json:"submitted_at"`
}

// Status is the terminal outcome of an intent.
type Status string

const (
	// StatusAcked means the adapter acknowledged execution.
	StatusAcked Status = "acked"

	// StatusFailed means the adapter rejected the command, or retries
	// were exhausted.
	StatusFailed Status = "failed"

	// StatusTimedOut means the deadline passed with no acknowledgement
	// and the intent was not eligible for retry.
	StatusTimedOut Status = "timed_out"

	// StatusCancelled means the intent was cancelled before completion,
	// typically because its rule execution was obsoleted.
	StatusCancelled Status = "cancelled"
)

// Result is the single, final outcome delivered for each submitted
// intent.
type Result struct {
	IntentID string        `json:"intent_id"`
	Target   string        `json:"target"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Acked     uint64 `json:"acked"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
	Cancelled uint64 `json:"cancelled"`
	Retries   uint64 `json:"retries"`
	Pending   int    `json:"pending"`
}
