package rule

import (
	"time"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// TriggerType discriminates trigger specifications.
type TriggerType string

const (
	// TriggerState fires on a matching entity state transition.
	TriggerState TriggerType = "state"

	// TriggerTime fires daily at a fixed local time, with no event.
	TriggerTime TriggerType = "time"

	// TriggerSun fires at sunrise or sunset, optionally offset.
	TriggerSun TriggerType = "sun"
)

// Transition predicates for state triggers.
const (
	// TransitionChanged matches any value change.
	TransitionChanged = "changed"

	// TransitionBecameTrue matches a bool flipping to true.
	TransitionBecameTrue = "became_true"

	// TransitionBecameFalse matches a bool flipping to false.
	TransitionBecameFalse = "became_false"

	// TransitionBecameEqual matches the value becoming equal to To.
	TransitionBecameEqual = "became_equal"

	// TransitionCrossedAbove matches a number crossing Threshold upward.
	TransitionCrossedAbove = "crossed_above"

	// TransitionCrossedBelow matches a number crossing Threshold downward.
	TransitionCrossedBelow = "crossed_below"

	// TransitionBecameUnavailable matches the entity going unavailable.
	TransitionBecameUnavailable = "became_unavailable"

	// TransitionBecameAvailable matches the entity coming back.
	TransitionBecameAvailable = "became_available"
)

// Sun event names for sun triggers and conditions.
const (
	SunEventSunrise = "sunrise"
	SunEventSunset  = "sunset"
)

// Lunar quarter names for moon conditions. Each covers a quarter of the
// synodic cycle.
const (
	MoonPhaseNew          = "new_moon"
	MoonPhaseFirstQuarter = "first_quarter"
	MoonPhaseFull         = "full_moon"
	MoonPhaseLastQuarter  = "last_quarter"
)

// TriggerSpec is the tagged-variant trigger definition. Exactly the
// fields for the selected Type are meaningful.
type TriggerSpec struct {
	Type TriggerType `json:"type" yaml:"type"`

	// State trigger fields.
	Entity     string        `json:"entity,omitempty" yaml:"entity,omitempty"`
	Transition string        `json:"transition,omitempty" yaml:"transition,omitempty"`
	To         *entity.Value `json:"to,omitempty" yaml:"to,omitempty"`
	Threshold  *float64      `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// Time trigger fields. At is "HH:MM" in the site's local time.
	At string `json:"at,omitempty" yaml:"at,omitempty"`

	// Sun trigger fields.
	SunEvent      string `json:"sun_event,omitempty" yaml:"sun_event,omitempty"`
	OffsetMinutes int    `json:"offset_minutes,omitempty" yaml:"offset_minutes,omitempty"`
}

// ConditionType discriminates condition specifications.
type ConditionType string

const (
	// ConditionState compares an entity's current value.
	ConditionState ConditionType = "state"

	// ConditionTime holds within a daily local-time window.
	ConditionTime ConditionType = "time"

	// ConditionSun holds relative to sunrise/sunset.
	ConditionSun ConditionType = "sun"

	// ConditionMoon holds during a named lunar quarter.
	ConditionMoon ConditionType = "moon"

	// ConditionAvailability checks an entity's availability flag.
	ConditionAvailability ConditionType = "availability"

	// ConditionAnd holds when all nested conditions hold.
	ConditionAnd ConditionType = "and"

	// ConditionOr holds when any nested condition holds.
	ConditionOr ConditionType = "or"

	// ConditionNot holds when the nested condition does not.
	ConditionNot ConditionType = "not"
)

// Comparison operators for state conditions.
const (
	OpEqual        = "eq"
	OpNotEqual     = "neq"
	OpLessThan     = "lt"
	OpLessEqual    = "lte"
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
)

// ConditionSpec is the tagged-variant condition definition. Conditions
// are evaluated against the registry's current state at trigger time,
// never against the triggering event's snapshot.
type ConditionSpec struct {
	Type ConditionType `json:"type" yaml:"type"`

	// State condition fields.
	Entity string        `json:"entity,omitempty" yaml:"entity,omitempty"`
	Op     string        `json:"op,omitempty" yaml:"op,omitempty"`
	Value  *entity.Value `json:"value,omitempty" yaml:"value,omitempty"`

	// ForMinutes, on state and availability conditions, additionally
	// requires the checked state to have held for at least this long,
	// judged by the entity's transition timestamps.
	ForMinutes int `json:"for_minutes,omitempty" yaml:"for_minutes,omitempty"`

	// Time condition fields, "HH:MM" local. A window that wraps midnight
	// (after 22:00, before 06:00) is valid.
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`

	// Sun condition fields. AfterSun/BeforeSun name a sun event.
	AfterSun      string `json:"after_sun,omitempty" yaml:"after_sun,omitempty"`
	BeforeSun     string `json:"before_sun,omitempty" yaml:"before_sun,omitempty"`
	OffsetMinutes int    `json:"offset_minutes,omitempty" yaml:"offset_minutes,omitempty"`

	// Moon condition field: the lunar quarter that must be current.
	Phase string `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Availability condition field.
	Available *bool `json:"available,omitempty" yaml:"available,omitempty"`

	// Composite condition fields.
	Of   []ConditionSpec `json:"of,omitempty" yaml:"of,omitempty"`
	Cond *ConditionSpec  `json:"cond,omitempty" yaml:"cond,omitempty"`
}

// ActionType discriminates action specifications.
type ActionType string

const (
	// ActionSetValue commands a target entity to a desired value.
	ActionSetValue ActionType = "set_value"

	// ActionInvoke requests a named adapter-side invocation with
	// arbitrary parameters (scene recall, device refresh, ...).
	ActionInvoke ActionType = "invoke"
)

// ActionSpec is the tagged-variant action definition. Actions run in
// declared order within one rule firing.
type ActionSpec struct {
	Type ActionType `json:"type" yaml:"type"`

	// Entity is the target entity ID.
	Entity string `json:"entity" yaml:"entity"`

	// Value is the desired value for set_value actions.
	Value *entity.Value `json:"value,omitempty" yaml:"value,omitempty"`

	// Invoke fields.
	Service string         `json:"service,omitempty" yaml:"service,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Idempotent marks the action safe to retry on dispatch timeout.
	// Non-idempotent actions fail fast rather than risk double execution.
	Idempotent bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty"`

	// TimeoutSeconds overrides the dispatcher's default per-attempt
	// deadline when positive.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Rule is one trigger+conditions+actions automation definition. Rules
// are read-mostly configuration; execution bookkeeping (in-flight flag,
// last fired) lives in the engine, never here.
type Rule struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Slug       string          `json:"slug" yaml:"slug"`
	Enabled    bool            `json:"enabled" yaml:"enabled"`
	Reentrant  bool            `json:"reentrant" yaml:"reentrant"`
	CooldownMS int             `json:"cooldown_ms" yaml:"cooldown_ms"`
	Trigger    TriggerSpec     `json:"trigger" yaml:"trigger"`
	Conditions []ConditionSpec `json:"conditions" yaml:"conditions"`
	Actions    []ActionSpec    `json:"actions" yaml:"actions"`
	CreatedAt  time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time       `json:"updated_at" yaml:"-"`
}

// Cooldown returns the minimum spacing between firings.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMS) * time.Millisecond
}

// DeepCopy returns a fully independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = deepCopyConditions(r.Conditions)
	out.Actions = make([]ActionSpec, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a.deepCopy()
	}
	if r.Trigger.To != nil {
		to := r.Trigger.To.DeepCopy()
		out.Trigger.To = &to
	}
	if r.Trigger.Threshold != nil {
		th := *r.Trigger.Threshold
		out.Trigger.Threshold = &th
	}
	return &out
}

func deepCopyConditions(conds []ConditionSpec) []ConditionSpec {
	if conds == nil {
		return nil
	}
	out := make([]ConditionSpec, len(conds))
	for i, c := range conds {
		out[i] = c.deepCopy()
	}
	return out
}

func (c ConditionSpec) deepCopy() ConditionSpec {
	out := c
	if c.Value != nil {
		v := c.Value.DeepCopy()
		out.Value = &v
	}
	if c.Available != nil {
		a := *c.Available
		out.Available = &a
	}
	out.Of = deepCopyConditions(c.Of)
	if c.Cond != nil {
		nested := c.Cond.deepCopy()
		out.Cond = &nested
	}
	return out
}

func (a ActionSpec) deepCopy() ActionSpec {
	out := a
	if a.Value != nil {
		v := a.Value.DeepCopy()
		out.Value = &v
	}
	if a.Params != nil {
		params := make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			params[k] = v
		}
		out.Params = params
	}
	return out
}
