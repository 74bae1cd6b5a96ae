package rule

import (
	"errors"
	"testing"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

func validRule() *Rule {
	open := entity.EnumValue("open")
	on := entity.BoolValue(true)
	return &Rule{
		Name: "Hall light on door open",
		Slug: "hall-light-on-door-open",
		Trigger: TriggerSpec{
			Type:       TriggerState,
			Entity:     "sensor.door",
			Transition: TransitionBecameEqual,
			To:         &open,
		},
		Conditions: []ConditionSpec{
			{Type: ConditionTime, After: "18:00"},
		},
		Actions: []ActionSpec{
			{Type: ActionSetValue, Entity: "light.hall", Value: &on, Idempotent: true},
		},
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestValidateAcceptsWellFormedRule(t *testing.T) {
	if err := Validate(validRule()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	on := entity.BoolValue(true)

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"missing name", func(r *Rule) { r.Name = "" }},
		{"bad slug", func(r *Rule) { r.Slug = "Not A Slug!" }},
		{"negative cooldown", func(r *Rule) { r.CooldownMS = -1 }},
		{"no actions", func(r *Rule) { r.Actions = nil }},
		{"unknown trigger type", func(r *Rule) { r.Trigger.Type = "psychic" }},
		{"state trigger without entity", func(r *Rule) { r.Trigger.Entity = "" }},
		{"became_equal without to", func(r *Rule) { r.Trigger.To = nil }},
		{"unknown transition", func(r *Rule) { r.Trigger.Transition = "wobbled" }},
		{"crossed_above without threshold", func(r *Rule) {
			r.Trigger.Transition = TransitionCrossedAbove
			r.Trigger.Threshold = nil
		}},
		{"time trigger bad clock", func(r *Rule) {
			r.Trigger = TriggerSpec{Type: TriggerTime, At: "25:99"}
		}},
		{"sun trigger bad event", func(r *Rule) {
			r.Trigger = TriggerSpec{Type: TriggerSun, SunEvent: "moonrise"}
		}},
		{"state condition bad op", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionState, Entity: "x", Op: "like", Value: &on}}
		}},
		{"state condition without value", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionState, Entity: "x", Op: OpEqual}}
		}},
		{"empty time condition", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionTime}}
		}},
		{"negative for_minutes", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionState, Entity: "x", Op: OpEqual, Value: &on, ForMinutes: -5}}
		}},
		{"for_minutes on time condition", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionTime, After: "18:00", ForMinutes: 10}}
		}},
		{"moon condition bad phase", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionMoon, Phase: "waxing_gibbous"}}
		}},
		{"empty and condition", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionAnd}}
		}},
		{"not without nested", func(r *Rule) {
			r.Conditions = []ConditionSpec{{Type: ConditionNot}}
		}},
		{"set_value without value", func(r *Rule) {
			r.Actions = []ActionSpec{{Type: ActionSetValue, Entity: "light.hall"}}
		}},
		{"invoke without service", func(r *Rule) {
			r.Actions = []ActionSpec{{Type: ActionInvoke, Entity: "light.hall"}}
		}},
		{"unknown action type", func(r *Rule) {
			r.Actions = []ActionSpec{{Type: "teleport", Entity: "light.hall"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			if err := Validate(r); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("err = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestValidateThresholdTrigger(t *testing.T) {
	threshold := 30.0
	r := validRule()
	r.Trigger = TriggerSpec{
		Type:       TriggerState,
		Entity:     "sensor.temperature",
		Transition: TransitionCrossedAbove,
		Threshold:  &threshold,
	}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCompositeConditions(t *testing.T) {
	on := entity.BoolValue(true)
	r := validRule()
	r.Conditions = []ConditionSpec{
		{
			Type: ConditionOr,
			Of: []ConditionSpec{
				{Type: ConditionTime, After: "22:00", Before: "06:00"},
				{
					Type: ConditionNot,
					Cond: &ConditionSpec{
						Type: ConditionState, Entity: "switch.holiday_mode", Op: OpEqual, Value: &on,
					},
				},
			},
		},
	}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate composite: %v", err)
	}
}

func TestValidateDurationAndMoonConditions(t *testing.T) {
	on := entity.BoolValue(true)
	avail := true
	r := validRule()
	r.Conditions = []ConditionSpec{
		{Type: ConditionState, Entity: "switch.heating", Op: OpEqual, Value: &on, ForMinutes: 15},
		{Type: ConditionAvailability, Entity: "climate.living", Available: &avail, ForMinutes: 5},
		{Type: ConditionMoon, Phase: MoonPhaseFull},
	}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateConditionDepthLimit(t *testing.T) {
	nested := ConditionSpec{Type: ConditionTime, After: "18:00"}
	for i := 0; i < maxConditionDepth+1; i++ {
		inner := nested
		nested = ConditionSpec{Type: ConditionNot, Cond: &inner}
	}

	r := validRule()
	r.Conditions = []ConditionSpec{nested}
	if err := Validate(r); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("err = %v, want ErrInvalidRule for excessive nesting", err)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"00:00", Clock{0, 0}, false},
		{"18:30", Clock{18, 30}, false},
		{"23:59", Clock{23, 59}, false},
		{"24:00", Clock{}, true},
		{"7pm", Clock{}, true},
		{"", Clock{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseClock(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
