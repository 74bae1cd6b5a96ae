package engine

import (
	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// matchesTrigger reports whether an event satisfies a state trigger.
// Time and sun triggers never match events; they fire from the scheduler.
func matchesTrigger(t rule.TriggerSpec, ev entity.Event) bool {
	if t.Type != rule.TriggerState {
		return false
	}
	if !bus.MatchPattern(t.Entity, ev.EntityID) {
		return false
	}

	switch t.Transition {
	case rule.TransitionChanged:
		return ev.Cause == entity.CauseReport || ev.Cause == entity.CauseCommandEcho

	case rule.TransitionBecameTrue:
		return isValueChange(ev) &&
			ev.Current.Kind == entity.KindBool && ev.Current.Bool &&
			!(ev.Previous.Kind == entity.KindBool && ev.Previous.Bool)

	case rule.TransitionBecameFalse:
		return isValueChange(ev) &&
			ev.Current.Kind == entity.KindBool && !ev.Current.Bool &&
			ev.Previous.Kind == entity.KindBool && ev.Previous.Bool

	case rule.TransitionBecameEqual:
		if t.To == nil || !isValueChange(ev) {
			return false
		}
		return ev.Current.Equal(*t.To) && !ev.Previous.Equal(*t.To)

	case rule.TransitionCrossedAbove:
		if t.Threshold == nil || !isValueChange(ev) {
			return false
		}
		return ev.Previous.Kind == entity.KindNumber && ev.Current.Kind == entity.KindNumber &&
			ev.Previous.Number < *t.Threshold && ev.Current.Number >= *t.Threshold

	case rule.TransitionCrossedBelow:
		if t.Threshold == nil || !isValueChange(ev) {
			return false
		}
		return ev.Previous.Kind == entity.KindNumber && ev.Current.Kind == entity.KindNumber &&
			ev.Previous.Number > *t.Threshold && ev.Current.Number <= *t.Threshold

	case rule.TransitionBecameUnavailable:
		return ev.Cause == entity.CauseAvailability && !ev.Available

	case rule.TransitionBecameAvailable:
		return ev.Cause == entity.CauseAvailability && ev.Available

	default:
		return false
	}
}

// isValueChange reports whether the event represents a value transition
// (as opposed to availability or lifecycle changes).
func isValueChange(ev entity.Event) bool {
	return ev.Cause == entity.CauseReport || ev.Cause == entity.CauseCommandEcho
}

// triggerIndex accelerates event-to-rule matching. Rules with exact
// entity triggers index by entity ID; rules with glob patterns are
// checked linearly. Rebuilt whenever the rule set changes.
type triggerIndex struct {
	exact map[string][]*rule.Rule
	globs []*rule.Rule
}

func buildTriggerIndex(rules []*rule.Rule) *triggerIndex {
	idx := &triggerIndex{exact: make(map[string][]*rule.Rule)}
	for _, rl := range rules {
		if rl.Trigger.Type != rule.TriggerState {
			continue
		}
		if isGlob(rl.Trigger.Entity) {
			idx.globs = append(idx.globs, rl)
		} else {
			idx.exact[rl.Trigger.Entity] = append(idx.exact[rl.Trigger.Entity], rl)
		}
	}
	return idx
}

// candidates returns the rules whose trigger could match an event for
// this entity. Callers still run matchesTrigger on each.
func (idx *triggerIndex) candidates(entityID string) []*rule.Rule {
	out := idx.exact[entityID]
	if len(idx.globs) == 0 {
		return out
	}
	merged := make([]*rule.Rule, 0, len(out)+len(idx.globs))
	merged = append(merged, out...)
	for _, rl := range idx.globs {
		if bus.MatchPattern(rl.Trigger.Entity, entityID) {
			merged = append(merged, rl)
		}
	}
	return merged
}

func isGlob(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
