package rule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

const sampleRulesYAML = `
rules:
  - name: Hall light on door open
    slug: hall-light-on-door-open
    trigger:
      type: state
      entity: sensor.door
      transition: became_equal
      to: open
    conditions:
      - type: time
        after: "18:00"
    actions:
      - type: set_value
        entity: light.hall
        value: true
        idempotent: true

  - name: Night heating boost
    slug: night-heating-boost
    reentrant: true
    cooldown_ms: 60000
    trigger:
      type: state
      entity: sensor.living_temp
      transition: crossed_below
      threshold: 18.5
    conditions:
      - type: or
        of:
          - type: time
            after: "22:00"
            before: "06:00"
          - type: sun
            after_sun: sunset
    actions:
      - type: set_value
        entity: climate.living_setpoint
        value: 21.5
        idempotent: true
      - type: invoke
        entity: climate.living
        service: boost
        params:
          minutes: 30

  - name: Disabled example
    slug: disabled-example
    enabled: false
    trigger:
      type: time
      at: "03:00"
    actions:
      - type: invoke
        entity: vacuum.ground_floor
        service: start
`

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing rules file: %v", err)
	}
	return path
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestLoadFile(t *testing.T) {
	rules, err := LoadFile(writeRulesFile(t, sampleRulesYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("loaded %d rules, want 3", len(rules))
	}

	first := rules[0]
	if first.Trigger.Type != TriggerState || first.Trigger.Transition != TransitionBecameEqual {
		t.Errorf("trigger = %+v", first.Trigger)
	}
	if first.Trigger.To == nil || !first.Trigger.To.Equal(entity.EnumValue("open")) {
		t.Errorf("trigger.to = %v, want enum open", first.Trigger.To)
	}
	if !first.Enabled {
		t.Error("enabled should default to true")
	}
	if first.Actions[0].Value == nil || !first.Actions[0].Value.Equal(entity.BoolValue(true)) {
		t.Errorf("action value = %v, want bool true", first.Actions[0].Value)
	}

	second := rules[1]
	if second.Trigger.Threshold == nil || *second.Trigger.Threshold != 18.5 {
		t.Errorf("threshold = %v, want 18.5", second.Trigger.Threshold)
	}
	if len(second.Conditions) != 1 || second.Conditions[0].Type != ConditionOr {
		t.Errorf("conditions = %+v", second.Conditions)
	}
	if second.Actions[1].Params["minutes"] != 30 {
		t.Errorf("invoke params = %v", second.Actions[1].Params)
	}

	if rules[2].Enabled {
		t.Error("explicitly disabled rule loaded as enabled")
	}
}

func TestLoadFileRejectsInvalidRule(t *testing.T) {
	bad := `
rules:
  - name: Broken
    slug: broken
    trigger:
      type: state
      entity: sensor.door
      transition: wobbled
    actions:
      - type: set_value
        entity: light.hall
        value: true
`
	if _, err := LoadFile(writeRulesFile(t, bad)); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("err = %v, want ErrInvalidRule", err)
	}
}

func TestLoadFileRejectsDuplicateSlugs(t *testing.T) {
	dup := `
rules:
  - name: One
    slug: same-slug
    trigger: {type: time, at: "01:00"}
    actions:
      - {type: invoke, entity: vacuum.x, service: start}
  - name: Two
    slug: same-slug
    trigger: {type: time, at: "02:00"}
    actions:
      - {type: invoke, entity: vacuum.y, service: start}
`
	if _, err := LoadFile(writeRulesFile(t, dup)); !errors.Is(err, ErrDuplicateSlug) {
		t.Errorf("err = %v, want ErrDuplicateSlug", err)
	}
}

func TestSeedUpsertsBySlug(t *testing.T) {
	reg, _ := setupRuleRegistry(t)

	path := writeRulesFile(t, sampleRulesYAML)
	if err := Seed(context.Background(), reg, path); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if reg.Count() != 3 {
		t.Fatalf("count after seed = %d, want 3", reg.Count())
	}

	before, _ := reg.GetBySlug("hall-light-on-door-open")

	// Seeding again updates in place rather than duplicating.
	if err := Seed(context.Background(), reg, path); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if reg.Count() != 3 {
		t.Errorf("count after reseed = %d, want 3", reg.Count())
	}

	after, _ := reg.GetBySlug("hall-light-on-door-open")
	if after.ID != before.ID {
		t.Errorf("reseed changed rule ID %s -> %s", before.ID, after.ID)
	}
}
