package engine

import (
	"context"
	"time"

	"github.com/cosmo-home/cosmocore/internal/rule"
	"github.com/cosmo-home/cosmocore/internal/sun"
)

// schedulerInterval is how often the scheduler checks for due time/sun
// triggers. Occurrences are detected by window crossing, so the
// interval bounds latency, not correctness.
const schedulerInterval = 20 * time.Second

// runScheduler fires time- and sun-triggered rules. These triggers have
// no originating event; the rule enters evaluation directly.
func (e *Engine) runScheduler(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	last := e.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			e.fireScheduled(last, now)
			last = now
		}
	}
}

// fireScheduled triggers every enabled time/sun rule whose occurrence
// falls within (from, to].
func (e *Engine) fireScheduled(from, to time.Time) {
	for _, rl := range e.rules.Enabled() {
		if rl.Trigger.Type != rule.TriggerTime && rl.Trigger.Type != rule.TriggerSun {
			continue
		}
		for _, at := range e.occurrences(rl.Trigger, from, to) {
			if at.After(from) && !at.After(to) {
				e.trigger(rl)
				break
			}
		}
	}
}

// occurrences returns the trigger's occurrence on each calendar day the
// window touches. The window is at most one tick wide, so two days is
// enough even across midnight.
func (e *Engine) occurrences(t rule.TriggerSpec, from, to time.Time) []time.Time {
	fromLocal := from.In(e.cfg.Location)
	toLocal := to.In(e.cfg.Location)

	days := []time.Time{toLocal}
	if fromLocal.Day() != toLocal.Day() {
		days = append(days, fromLocal)
	}

	var out []time.Time
	for _, day := range days {
		at, ok := e.occurrenceOn(t, day)
		if ok {
			out = append(out, at)
		}
	}
	return out
}

func (e *Engine) occurrenceOn(t rule.TriggerSpec, day time.Time) (time.Time, bool) {
	switch t.Type {
	case rule.TriggerTime:
		clock, err := rule.ParseClock(t.At)
		if err != nil {
			return time.Time{}, false
		}
		return clock.At(day, e.cfg.Location), true

	case rule.TriggerSun:
		offset := time.Duration(t.OffsetMinutes) * time.Minute
		at, err := sun.EventTime(day, e.cfg.Latitude, e.cfg.Longitude, t.SunEvent, offset)
		if err != nil {
			// Polar day/night: the event does not occur today.
			return time.Time{}, false
		}
		return at, true

	default:
		return time.Time{}, false
	}
}
