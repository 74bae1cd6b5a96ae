package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// ─── Mocks ───────────────────────────────────────────────────────────────────

// mockReader serves entity snapshots from a fixed map.
type mockReader struct {
	mu       sync.Mutex
	entities map[string]*entity.Entity
}

func (m *mockReader) Get(entityID string) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownEntity, entityID)
	}
	return ent.DeepCopy(), nil
}

// mockSubmitter records submitted intents and acks them, optionally
// holding results until released.
type mockSubmitter struct {
	mu        sync.Mutex
	intents   []dispatch.Intent
	cancelled []string

	submitErr map[string]error // per-target submission error

	// hold, when non-nil, delays every result until the channel closes.
	hold chan struct{}
}

func (m *mockSubmitter) Submit(intent dispatch.Intent) (<-chan dispatch.Result, error) {
	m.mu.Lock()
	if err, ok := m.submitErr[intent.Target]; ok {
		m.mu.Unlock()
		return nil, err
	}
	m.intents = append(m.intents, intent)
	hold := m.hold
	m.mu.Unlock()

	ch := make(chan dispatch.Result, 1)
	result := dispatch.Result{IntentID: intent.ID, Target: intent.Target, Status: dispatch.StatusAcked, Attempts: 1}
	if hold != nil {
		go func() {
			<-hold
			ch <- result
		}()
	} else {
		ch <- result
	}
	return ch, nil
}

func (m *mockSubmitter) CancelExecution(executionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, executionID)
	return 1
}

func (m *mockSubmitter) submitted() []dispatch.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.Intent, len(m.intents))
	copy(out, m.intents)
	return out
}

// mockRuleSource serves a fixed rule set.
type mockRuleSource struct {
	mu    sync.Mutex
	rules []*rule.Rule
}

func (m *mockRuleSource) Enabled() []*rule.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rule.Rule, 0, len(m.rules))
	for _, rl := range m.rules {
		if rl.Enabled {
			out = append(out, rl)
		}
	}
	return out
}

func (m *mockRuleSource) OnChange(func()) {}

func setupEngine(t *testing.T, rules ...*rule.Rule) (*Engine, *mockReader, *mockSubmitter) {
	t.Helper()
	reader := &mockReader{entities: map[string]*entity.Entity{
		"sensor.door": {
			ID: "sensor.door", Domain: "sensor", AdapterID: "zigbee",
			Value: entity.EnumValue("closed"),
			Spec:  entity.ValueSpec{Kind: entity.KindEnum, EnumValues: []string{"open", "closed"}},
			Available: true,
		},
		"light.hall": {
			ID: "light.hall", Domain: "light", AdapterID: "zigbee",
			Value: entity.BoolValue(false),
			Spec:  entity.ValueSpec{Kind: entity.KindBool},
			Available: true,
		},
	}}
	submitter := &mockSubmitter{}
	source := &mockRuleSource{rules: rules}
	eng := New(Config{MaxFiringTime: 2 * time.Second, Location: time.UTC}, bus.New(16, nil), reader, submitter, source, nil)
	return eng, reader, submitter
}

// doorRule triggers on sensor.door becoming "open" and turns light.hall on.
func doorRule(reentrant bool) *rule.Rule {
	open := entity.EnumValue("open")
	on := entity.BoolValue(true)
	return &rule.Rule{
		ID:        "rule-door",
		Name:      "Hall light on door open",
		Slug:      "hall-light-on-door-open",
		Enabled:   true,
		Reentrant: reentrant,
		Trigger: rule.TriggerSpec{
			Type:       rule.TriggerState,
			Entity:     "sensor.door",
			Transition: rule.TransitionBecameEqual,
			To:         &open,
		},
		Actions: []rule.ActionSpec{
			{Type: rule.ActionSetValue, Entity: "light.hall", Value: &on, Idempotent: true},
		},
	}
}

func doorOpenEvent(seq uint64) entity.Event {
	return entity.Event{
		EntityID:  "sensor.door",
		Seq:       seq,
		Previous:  entity.EnumValue("closed"),
		Current:   entity.EnumValue("open"),
		Available: true,
		Timestamp: time.Now(),
		Cause:     entity.CauseReport,
	}
}

// waitFor polls until the predicate holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestDoorOpenFiresLight(t *testing.T) {
	rl := doorRule(false)
	rl.Conditions = []rule.ConditionSpec{
		{Type: rule.ConditionTime, After: "00:00"}, // always holds
	}
	eng, _, submitter := setupEngine(t, rl)

	eng.handleEvent(doorOpenEvent(2))

	waitFor(t, time.Second, "one intent", func() bool {
		return len(submitter.submitted()) == 1
	})

	intents := submitter.submitted()
	if intents[0].Target != "light.hall" {
		t.Errorf("intent target = %s, want light.hall", intents[0].Target)
	}
	if intents[0].Kind != dispatch.KindSetValue {
		t.Errorf("intent kind = %s, want set_value", intents[0].Kind)
	}
	if intents[0].Value == nil || !intents[0].Value.Equal(entity.BoolValue(true)) {
		t.Errorf("intent value = %v, want bool true", intents[0].Value)
	}
	if intents[0].RuleID != "rule-door" {
		t.Errorf("intent rule = %s", intents[0].RuleID)
	}

	waitFor(t, time.Second, "fired counter", func() bool {
		return eng.Stats().Fired == 1
	})
}

func TestFailingConditionSuppresses(t *testing.T) {
	rl := doorRule(false)
	rl.Conditions = []rule.ConditionSpec{
		{Type: rule.ConditionTime, Before: "00:00"}, // never holds
	}
	eng, _, submitter := setupEngine(t, rl)

	eng.handleEvent(doorOpenEvent(2))

	waitFor(t, time.Second, "suppressed counter", func() bool {
		return eng.Stats().Suppressed == 1
	})
	if got := len(submitter.submitted()); got != 0 {
		t.Errorf("suppressed rule emitted %d intents, want 0", got)
	}
}

func TestDebounceCollapsesBurst(t *testing.T) {
	eng, _, submitter := setupEngine(t, doorRule(false))

	submitter.mu.Lock()
	submitter.hold = make(chan struct{})
	hold := submitter.hold
	submitter.mu.Unlock()

	// First trigger starts a firing that blocks on its result.
	eng.handleEvent(doorOpenEvent(2))
	waitFor(t, time.Second, "first firing to start", func() bool {
		return len(submitter.submitted()) == 1
	})

	// A burst of further triggers while firing.
	for seq := uint64(3); seq <= 7; seq++ {
		eng.handleEvent(doorOpenEvent(seq))
	}

	// Burst obsoletes the in-flight execution.
	waitFor(t, time.Second, "cancellation of in-flight execution", func() bool {
		submitter.mu.Lock()
		defer submitter.mu.Unlock()
		return len(submitter.cancelled) > 0
	})

	// Nothing new fires while the first firing is still in flight.
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 1 {
		t.Fatalf("%d intents while firing, want 1", got)
	}

	// Completing the firing releases exactly one deferred re-evaluation,
	// not one per missed trigger.
	close(hold)
	waitFor(t, time.Second, "single deferred re-evaluation", func() bool {
		return len(submitter.submitted()) == 2
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 2 {
		t.Errorf("burst of 5 yielded %d firings total, want 2", got)
	}
}

func TestReentrantRuleFiresPerTrigger(t *testing.T) {
	eng, _, submitter := setupEngine(t, doorRule(true))

	for seq := uint64(2); seq <= 4; seq++ {
		eng.handleEvent(doorOpenEvent(seq))
	}

	waitFor(t, time.Second, "three firings", func() bool {
		return len(submitter.submitted()) == 3
	})
}

func TestCooldownSkipsTrigger(t *testing.T) {
	rl := doorRule(false)
	rl.CooldownMS = 60_000
	eng, _, submitter := setupEngine(t, rl)

	eng.handleEvent(doorOpenEvent(2))
	waitFor(t, time.Second, "first firing", func() bool {
		return len(submitter.submitted()) == 1
	})

	// Second trigger within the cooldown window is skipped outright.
	eng.handleEvent(doorOpenEvent(3))
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 1 {
		t.Errorf("cooldown violated: %d firings", got)
	}

	// Move the clock past the cooldown; the next trigger fires.
	eng.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	eng.handleEvent(doorOpenEvent(4))
	waitFor(t, time.Second, "post-cooldown firing", func() bool {
		return len(submitter.submitted()) == 2
	})
}

func TestEvaluationErrorIsolatedToRule(t *testing.T) {
	broken := doorRule(false)
	broken.ID = "rule-broken"
	broken.Slug = "broken-rule"
	on := entity.BoolValue(true)
	broken.Conditions = []rule.ConditionSpec{
		{Type: rule.ConditionState, Entity: "sensor.missing", Op: rule.OpEqual, Value: &on},
	}

	healthy := doorRule(false)

	eng, _, submitter := setupEngine(t, broken, healthy)

	eng.handleEvent(doorOpenEvent(2))

	// The healthy rule still fires; the broken one logs and idles.
	waitFor(t, time.Second, "healthy rule firing", func() bool {
		return len(submitter.submitted()) == 1
	})
	waitFor(t, time.Second, "error counter", func() bool {
		return eng.Stats().Errors == 1
	})
	if got := submitter.submitted()[0].RuleID; got != "rule-door" {
		t.Errorf("fired rule = %s, want rule-door", got)
	}
}

func TestActionSubmissionFailureAbortsFiring(t *testing.T) {
	rl := doorRule(false)
	on := entity.BoolValue(true)
	rl.Actions = []rule.ActionSpec{
		{Type: rule.ActionSetValue, Entity: "light.ghost", Value: &on},
		{Type: rule.ActionSetValue, Entity: "light.hall", Value: &on},
	}
	eng, _, submitter := setupEngine(t, rl)
	submitter.submitErr = map[string]error{"light.ghost": dispatch.ErrUnknownTarget}

	eng.handleEvent(doorOpenEvent(2))

	waitFor(t, time.Second, "error counter", func() bool {
		return eng.Stats().Errors == 1
	})
	// Remaining actions are not submitted after the failure.
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 0 {
		t.Errorf("aborted firing submitted %d intents, want 0", got)
	}
}

func TestActionsEmittedInDeclaredOrder(t *testing.T) {
	rl := doorRule(false)
	on := entity.BoolValue(true)
	rl.Actions = []rule.ActionSpec{
		{Type: rule.ActionSetValue, Entity: "light.hall", Value: &on},
		{Type: rule.ActionInvoke, Entity: "light.hall", Service: "flash", Params: map[string]any{"times": 2}},
	}
	eng, _, submitter := setupEngine(t, rl)

	eng.handleEvent(doorOpenEvent(2))

	waitFor(t, time.Second, "two intents", func() bool {
		return len(submitter.submitted()) == 2
	})

	intents := submitter.submitted()
	if intents[0].Kind != dispatch.KindSetValue || intents[1].Kind != dispatch.KindInvoke {
		t.Errorf("order: got %s then %s", intents[0].Kind, intents[1].Kind)
	}
	if intents[0].ExecutionID == "" || intents[0].ExecutionID != intents[1].ExecutionID {
		t.Error("intents of one firing should share an execution ID")
	}
}

func TestSuspendResume(t *testing.T) {
	eng, _, submitter := setupEngine(t, doorRule(false))

	if err := eng.Suspend("rule-door"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if !eng.Suspended("rule-door") {
		t.Error("Suspended() = false after Suspend")
	}

	eng.handleEvent(doorOpenEvent(2))
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 0 {
		t.Errorf("suspended rule fired %d times", got)
	}

	if err := eng.Resume("rule-door"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	eng.handleEvent(doorOpenEvent(3))
	waitFor(t, time.Second, "firing after resume", func() bool {
		return len(submitter.submitted()) == 1
	})
}

func TestTriggeredCounterSkipsGatedTriggers(t *testing.T) {
	rl := doorRule(false)
	rl.CooldownMS = 60_000
	eng, _, _ := setupEngine(t, rl)

	// A trigger while suspended leaves every counter untouched.
	if err := eng.Suspend("rule-door"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	eng.handleEvent(doorOpenEvent(2))
	time.Sleep(50 * time.Millisecond)
	if got := eng.Stats().Triggered; got != 0 {
		t.Errorf("triggered = %d after suspended trigger, want 0", got)
	}

	if err := eng.Resume("rule-door"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	eng.handleEvent(doorOpenEvent(3))
	waitFor(t, time.Second, "firing to complete", func() bool {
		st := eng.state("rule-door")
		st.mu.Lock()
		defer st.mu.Unlock()
		return !st.firing && !st.lastFired.IsZero()
	})

	// A trigger inside the cooldown window is not counted either, so
	// Triggered still reconciles with Fired + Suppressed + Debounced.
	eng.handleEvent(doorOpenEvent(4))
	time.Sleep(50 * time.Millisecond)

	stats := eng.Stats()
	if stats.Triggered != 1 {
		t.Errorf("triggered = %d, want 1", stats.Triggered)
	}
	if stats.Triggered != stats.Fired+stats.Suppressed+stats.Debounced+stats.Errors {
		t.Errorf("counters do not reconcile: %+v", stats)
	}
}

func TestSuspendUnknownRule(t *testing.T) {
	eng, _, _ := setupEngine(t, doorRule(false))
	if err := eng.Suspend("rule-ghost"); err == nil {
		t.Error("Suspend of unknown rule should error")
	}
}

func TestSchedulerFiresTimeTrigger(t *testing.T) {
	rl := &rule.Rule{
		ID:      "rule-nightly",
		Name:    "Nightly vacuum",
		Slug:    "nightly-vacuum",
		Enabled: true,
		Trigger: rule.TriggerSpec{Type: rule.TriggerTime, At: "03:00"},
		Actions: []rule.ActionSpec{
			{Type: rule.ActionInvoke, Entity: "light.hall", Service: "start"},
		},
	}
	eng, _, submitter := setupEngine(t, rl)

	day := time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC)

	// Window not containing 03:00: nothing fires.
	eng.fireScheduled(day.Add(2*time.Hour), day.Add(2*time.Hour+20*time.Second))
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 0 {
		t.Fatalf("fired outside window: %d intents", got)
	}

	// Window crossing 03:00 fires exactly once.
	eng.fireScheduled(day.Add(3*time.Hour-10*time.Second), day.Add(3*time.Hour+10*time.Second))
	waitFor(t, time.Second, "scheduled firing", func() bool {
		return len(submitter.submitted()) == 1
	})

	// The next window does not re-fire the same occurrence.
	eng.fireScheduled(day.Add(3*time.Hour+10*time.Second), day.Add(3*time.Hour+30*time.Second))
	time.Sleep(50 * time.Millisecond)
	if got := len(submitter.submitted()); got != 1 {
		t.Errorf("occurrence fired %d times, want 1", got)
	}
}

func TestSchedulerWindowAcrossMidnight(t *testing.T) {
	rl := &rule.Rule{
		ID:      "rule-midnight",
		Name:    "Midnight check",
		Slug:    "midnight-check",
		Enabled: true,
		Trigger: rule.TriggerSpec{Type: rule.TriggerTime, At: "23:59"},
		Actions: []rule.ActionSpec{
			{Type: rule.ActionInvoke, Entity: "light.hall", Service: "ping"},
		},
	}
	eng, _, submitter := setupEngine(t, rl)

	day := time.Date(2026, time.August, 31, 23, 58, 50, 0, time.UTC)
	eng.fireScheduled(day, day.Add(80*time.Second)) // crosses into Sept 1

	waitFor(t, time.Second, "midnight-adjacent firing", func() bool {
		return len(submitter.submitted()) == 1
	})
}
