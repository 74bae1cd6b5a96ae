package rule

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the top-level structure of a YAML rule-definition file.
type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

// fileRule mirrors Rule for file authoring: enabled defaults to true
// when omitted.
type fileRule struct {
	Name       string          `yaml:"name"`
	Slug       string          `yaml:"slug"`
	Enabled    *bool           `yaml:"enabled"`
	Reentrant  bool            `yaml:"reentrant"`
	CooldownMS int             `yaml:"cooldown_ms"`
	Trigger    TriggerSpec     `yaml:"trigger"`
	Conditions []ConditionSpec `yaml:"conditions"`
	Actions    []ActionSpec    `yaml:"actions"`
}

// LoadFile parses a YAML rule-definition file and validates every rule.
//
//	rules:
//	  - name: Hall light on door open
//	    slug: hall-light-on-door-open
//	    trigger:
//	      type: state
//	      entity: sensor.door
//	      transition: became_equal
//	      to: open
//	    conditions:
//	      - type: time
//	        after: "18:00"
//	    actions:
//	      - type: set_value
//	        entity: light.hall
//	        value: true
//	        idempotent: true
func LoadFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	out := make([]*Rule, 0, len(file.Rules))
	seen := make(map[string]struct{}, len(file.Rules))
	for i, fr := range file.Rules {
		rl := &Rule{
			Name:       fr.Name,
			Slug:       fr.Slug,
			Enabled:    fr.Enabled == nil || *fr.Enabled,
			Reentrant:  fr.Reentrant,
			CooldownMS: fr.CooldownMS,
			Trigger:    fr.Trigger,
			Conditions: fr.Conditions,
			Actions:    fr.Actions,
		}
		if err := Validate(rl); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, fr.Slug, err)
		}
		if _, dup := seen[rl.Slug]; dup {
			return nil, fmt.Errorf("%w: %s appears twice in %s", ErrDuplicateSlug, rl.Slug, path)
		}
		seen[rl.Slug] = struct{}{}
		out = append(out, rl)
	}

	return out, nil
}

// Seed loads a rule file and upserts its rules into the registry by
// slug: new slugs are created, existing ones updated in place. Rules
// that exist only in the database are left alone.
func Seed(ctx context.Context, reg *Registry, path string) error {
	rules, err := LoadFile(path)
	if err != nil {
		return err
	}

	for _, rl := range rules {
		existing, err := reg.GetBySlug(rl.Slug)
		switch {
		case err == nil:
			rl.ID = existing.ID
			rl.CreatedAt = existing.CreatedAt
			if err := reg.Update(ctx, rl); err != nil {
				return fmt.Errorf("updating seeded rule %s: %w", rl.Slug, err)
			}
		case errors.Is(err, ErrNotFound):
			if err := reg.Create(ctx, rl); err != nil {
				return fmt.Errorf("creating seeded rule %s: %w", rl.Slug, err)
			}
		default:
			return err
		}
	}

	return nil
}
