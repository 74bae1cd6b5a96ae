package rule

import (
	"fmt"
	"regexp"
	"time"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// maxConditionDepth bounds composite condition nesting to keep
// evaluation stack-safe against pathological definitions.
const maxConditionDepth = 8

// Validate checks a rule definition for structural errors. It does not
// check entity references against the registry; missing entities are a
// runtime concern handled at evaluation time.
func Validate(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Slug == "" || !slugPattern.MatchString(r.Slug) {
		return fmt.Errorf("%w: slug %q must be lowercase alphanumeric with - or _", ErrInvalidRule, r.Slug)
	}
	if r.CooldownMS < 0 {
		return fmt.Errorf("%w: cooldown_ms must not be negative", ErrInvalidRule)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}

	if err := validateTrigger(r.Trigger); err != nil {
		return err
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c, 0); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}

func validateTrigger(t TriggerSpec) error {
	switch t.Type {
	case TriggerState:
		if t.Entity == "" {
			return fmt.Errorf("%w: state trigger needs an entity pattern", ErrInvalidRule)
		}
		switch t.Transition {
		case TransitionChanged, TransitionBecameTrue, TransitionBecameFalse,
			TransitionBecameUnavailable, TransitionBecameAvailable:
		case TransitionBecameEqual:
			if t.To == nil {
				return fmt.Errorf("%w: became_equal trigger needs a 'to' value", ErrInvalidRule)
			}
		case TransitionCrossedAbove, TransitionCrossedBelow:
			if t.Threshold == nil {
				return fmt.Errorf("%w: %s trigger needs a threshold", ErrInvalidRule, t.Transition)
			}
		default:
			return fmt.Errorf("%w: unknown transition %q", ErrInvalidRule, t.Transition)
		}
	case TriggerTime:
		if _, err := ParseClock(t.At); err != nil {
			return fmt.Errorf("%w: time trigger: %v", ErrInvalidRule, err)
		}
	case TriggerSun:
		if t.SunEvent != SunEventSunrise && t.SunEvent != SunEventSunset {
			return fmt.Errorf("%w: sun trigger event must be sunrise or sunset", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, t.Type)
	}
	return nil
}

func validateCondition(c ConditionSpec, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: condition nesting exceeds depth %d", ErrInvalidRule, maxConditionDepth)
	}

	if c.ForMinutes < 0 {
		return fmt.Errorf("%w: for_minutes must not be negative", ErrInvalidRule)
	}
	if c.ForMinutes > 0 && c.Type != ConditionState && c.Type != ConditionAvailability {
		return fmt.Errorf("%w: for_minutes applies only to state and availability conditions", ErrInvalidRule)
	}

	switch c.Type {
	case ConditionState:
		if c.Entity == "" {
			return fmt.Errorf("%w: state condition needs an entity", ErrInvalidRule)
		}
		switch c.Op {
		case OpEqual, OpNotEqual, OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual:
		default:
			return fmt.Errorf("%w: unknown comparison op %q", ErrInvalidRule, c.Op)
		}
		if c.Value == nil {
			return fmt.Errorf("%w: state condition needs a value", ErrInvalidRule)
		}
	case ConditionTime:
		if c.After == "" && c.Before == "" {
			return fmt.Errorf("%w: time condition needs 'after' and/or 'before'", ErrInvalidRule)
		}
		if c.After != "" {
			if _, err := ParseClock(c.After); err != nil {
				return fmt.Errorf("%w: time condition 'after': %v", ErrInvalidRule, err)
			}
		}
		if c.Before != "" {
			if _, err := ParseClock(c.Before); err != nil {
				return fmt.Errorf("%w: time condition 'before': %v", ErrInvalidRule, err)
			}
		}
	case ConditionSun:
		if c.AfterSun == "" && c.BeforeSun == "" {
			return fmt.Errorf("%w: sun condition needs 'after_sun' and/or 'before_sun'", ErrInvalidRule)
		}
		for _, ev := range []string{c.AfterSun, c.BeforeSun} {
			if ev != "" && ev != SunEventSunrise && ev != SunEventSunset {
				return fmt.Errorf("%w: unknown sun event %q", ErrInvalidRule, ev)
			}
		}
	case ConditionMoon:
		switch c.Phase {
		case MoonPhaseNew, MoonPhaseFirstQuarter, MoonPhaseFull, MoonPhaseLastQuarter:
		default:
			return fmt.Errorf("%w: unknown moon phase %q", ErrInvalidRule, c.Phase)
		}
	case ConditionAvailability:
		if c.Entity == "" {
			return fmt.Errorf("%w: availability condition needs an entity", ErrInvalidRule)
		}
		if c.Available == nil {
			return fmt.Errorf("%w: availability condition needs 'available'", ErrInvalidRule)
		}
	case ConditionAnd, ConditionOr:
		if len(c.Of) == 0 {
			return fmt.Errorf("%w: %s condition needs nested conditions", ErrInvalidRule, c.Type)
		}
		for i, nested := range c.Of {
			if err := validateCondition(nested, depth+1); err != nil {
				return fmt.Errorf("nested %d: %w", i, err)
			}
		}
	case ConditionNot:
		if c.Cond == nil {
			return fmt.Errorf("%w: not condition needs a nested condition", ErrInvalidRule)
		}
		if err := validateCondition(*c.Cond, depth+1); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown condition type %q", ErrInvalidRule, c.Type)
	}

	return nil
}

func validateAction(a ActionSpec) error {
	switch a.Type {
	case ActionSetValue:
		if a.Entity == "" {
			return fmt.Errorf("%w: set_value action needs a target entity", ErrInvalidRule)
		}
		if a.Value == nil {
			return fmt.Errorf("%w: set_value action needs a value", ErrInvalidRule)
		}
	case ActionInvoke:
		if a.Entity == "" {
			return fmt.Errorf("%w: invoke action needs a target entity", ErrInvalidRule)
		}
		if a.Service == "" {
			return fmt.Errorf("%w: invoke action needs a service name", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, a.Type)
	}
	if a.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must not be negative", ErrInvalidRule)
	}
	return nil
}

// Clock is a minute-of-day, used for daily time triggers and windows.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MinuteOfDay returns the clock as minutes since midnight.
func (c Clock) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

// At anchors the clock to a calendar day in the given location.
func (c Clock) At(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}
