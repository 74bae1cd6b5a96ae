package engine

import (
	"fmt"
	"time"

	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/moon"
	"github.com/cosmo-home/cosmocore/internal/rule"
	"github.com/cosmo-home/cosmocore/internal/sun"
)

// evalContext carries what condition evaluation needs: current registry
// state, the wall clock, and the site's coordinates for sun math.
type evalContext struct {
	reader    EntityReader
	now       time.Time
	latitude  float64
	longitude float64
}

// conditionsHold evaluates a rule's conditions against current registry
// state. All must hold; evaluation short-circuits on the first failure.
// An error means the rule cannot be evaluated (missing entity, type
// mismatch) and is handled at the rule boundary.
func conditionsHold(ec evalContext, conds []rule.ConditionSpec) (bool, error) {
	for i, c := range conds {
		ok, err := evalCondition(ec, c)
		if err != nil {
			return false, fmt.Errorf("condition %d: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCondition(ec evalContext, c rule.ConditionSpec) (bool, error) {
	switch c.Type {
	case rule.ConditionState:
		return evalStateCondition(ec, c)
	case rule.ConditionTime:
		return evalTimeCondition(ec, c)
	case rule.ConditionSun:
		return evalSunCondition(ec, c)
	case rule.ConditionMoon:
		return moon.PhaseName(ec.now) == c.Phase, nil
	case rule.ConditionAvailability:
		return evalAvailabilityCondition(ec, c)
	case rule.ConditionAnd:
		for _, nested := range c.Of {
			ok, err := evalCondition(ec, nested)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case rule.ConditionOr:
		for _, nested := range c.Of {
			ok, err := evalCondition(ec, nested)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case rule.ConditionNot:
		ok, err := evalCondition(ec, *c.Cond)
		return !ok, err
	default:
		return false, fmt.Errorf("%w: unknown condition type %q", ErrEvaluation, c.Type)
	}
}

func evalStateCondition(ec evalContext, c rule.ConditionSpec) (bool, error) {
	ent, err := ec.reader.Get(c.Entity)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	ok, err := compareValues(ent.Value, c.Op, *c.Value)
	if err != nil || !ok {
		return ok, err
	}
	// A duration qualifier also requires the value to have held that
	// long; LastChanged marks when it last transitioned.
	if c.ForMinutes > 0 && ec.now.Sub(ent.LastChanged) < time.Duration(c.ForMinutes)*time.Minute {
		return false, nil
	}
	return true, nil
}

func evalAvailabilityCondition(ec evalContext, c rule.ConditionSpec) (bool, error) {
	ent, err := ec.reader.Get(c.Entity)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	if ent.Available != *c.Available {
		return false, nil
	}
	// Availability flips advance LastUpdated, so that is the duration
	// anchor here.
	if c.ForMinutes > 0 && ec.now.Sub(ent.LastUpdated) < time.Duration(c.ForMinutes)*time.Minute {
		return false, nil
	}
	return true, nil
}

func compareValues(current entity.Value, op string, want entity.Value) (bool, error) {
	switch op {
	case rule.OpEqual:
		return current.Equal(want), nil
	case rule.OpNotEqual:
		return !current.Equal(want), nil
	}

	// Ordered comparisons are numeric only.
	if current.Kind != entity.KindNumber || want.Kind != entity.KindNumber {
		return false, fmt.Errorf("%w: %s comparison requires numbers, got %s vs %s",
			ErrEvaluation, op, current.Kind, want.Kind)
	}

	switch op {
	case rule.OpLessThan:
		return current.Number < want.Number, nil
	case rule.OpLessEqual:
		return current.Number <= want.Number, nil
	case rule.OpGreaterThan:
		return current.Number > want.Number, nil
	case rule.OpGreaterEqual:
		return current.Number >= want.Number, nil
	default:
		return false, fmt.Errorf("%w: unknown comparison op %q", ErrEvaluation, op)
	}
}

// evalTimeCondition checks a daily local-time window. A window whose
// "after" is later than its "before" wraps midnight.
func evalTimeCondition(ec evalContext, c rule.ConditionSpec) (bool, error) {
	nowMin := ec.now.Hour()*60 + ec.now.Minute()

	afterMin, beforeMin := -1, -1
	if c.After != "" {
		clock, err := rule.ParseClock(c.After)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		afterMin = clock.MinuteOfDay()
	}
	if c.Before != "" {
		clock, err := rule.ParseClock(c.Before)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		beforeMin = clock.MinuteOfDay()
	}

	switch {
	case afterMin >= 0 && beforeMin >= 0:
		if afterMin <= beforeMin {
			return nowMin >= afterMin && nowMin < beforeMin, nil
		}
		// Wraps midnight: "after 22:00 before 06:00".
		return nowMin >= afterMin || nowMin < beforeMin, nil
	case afterMin >= 0:
		return nowMin >= afterMin, nil
	default:
		return nowMin < beforeMin, nil
	}
}

func evalSunCondition(ec evalContext, c rule.ConditionSpec) (bool, error) {
	offset := time.Duration(c.OffsetMinutes) * time.Minute

	if c.AfterSun != "" {
		at, err := sun.EventTime(ec.now, ec.latitude, ec.longitude, c.AfterSun, offset)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		if ec.now.Before(at) {
			return false, nil
		}
	}
	if c.BeforeSun != "" {
		at, err := sun.EventTime(ec.now, ec.latitude, ec.longitude, c.BeforeSun, offset)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		if !ec.now.Before(at) {
			return false, nil
		}
	}
	return true, nil
}
