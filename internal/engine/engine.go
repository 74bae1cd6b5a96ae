package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// EntityReader is the registry seam for condition and action evaluation.
type EntityReader interface {
	Get(entityID string) (*entity.Entity, error)
}

// IntentSubmitter is the dispatcher seam for emitting action intents.
type IntentSubmitter interface {
	Submit(intent dispatch.Intent) (<-chan dispatch.Result, error)
	CancelExecution(executionID string) int
}

// RuleSource supplies the enabled rule set and change notifications.
// *rule.Registry satisfies it.
type RuleSource interface {
	Enabled() []*rule.Rule
	OnChange(fn func())
}

// Logger interface for engine logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes engine behavior.
type Config struct {
	// MaxFiringTime is the hard limit for one rule firing, covering
	// condition evaluation and waiting for dispatch results.
	MaxFiringTime time.Duration

	// Latitude and Longitude locate the site for sun-based rules.
	Latitude  float64
	Longitude float64

	// Location is the site timezone for time-based rules.
	// Defaults to time.Local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.MaxFiringTime <= 0 {
		c.MaxFiringTime = 60 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// ruleState is the engine's per-rule execution bookkeeping: the part of
// a rule that mutates. The rule definition itself never changes here.
//
// State machine: idle → triggered → evaluating → (firing | suppressed)
// → idle. A non-reentrant rule triggered while firing records a single
// pending retrigger; when the firing completes it re-evaluates once
// against the latest state, collapsing bursts.
type ruleState struct {
	mu          sync.Mutex
	firing      bool
	pending     bool
	suspended   bool
	lastFired   time.Time
	executionID string
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Triggered  uint64 `json:"triggered"`
	Fired      uint64 `json:"fired"`
	Suppressed uint64 `json:"suppressed"`
	Debounced  uint64 `json:"debounced"`
	Errors     uint64 `json:"errors"`
}

// Engine evaluates trigger/condition/action rules against events from
// the bus and emits action intents to the dispatcher.
type Engine struct {
	cfg        Config
	reader     EntityReader
	submitter  IntentSubmitter
	rules      RuleSource
	eventBus   *bus.Bus
	logger     Logger

	stateMu sync.Mutex
	states  map[string]*ruleState

	indexMu sync.RWMutex
	index   *triggerIndex

	triggered  atomic.Uint64
	fired      atomic.Uint64
	suppressed atomic.Uint64
	debounced  atomic.Uint64
	errCount   atomic.Uint64

	// now is swappable for tests.
	now func() time.Time

	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates an Engine. Call Start to begin consuming events.
func New(cfg Config, eventBus *bus.Bus, reader EntityReader, submitter IntentSubmitter, rules RuleSource, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	e := &Engine{
		cfg:       cfg.withDefaults(),
		reader:    reader,
		submitter: submitter,
		rules:     rules,
		eventBus:  eventBus,
		logger:    logger,
		states:    make(map[string]*ruleState),
		now:       time.Now,
	}
	e.rebuildIndex()
	rules.OnChange(e.rebuildIndex)
	return e
}

// Start launches the event loop and the time/sun scheduler. It returns
// immediately; Stop shuts both down.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.stopped = make(chan struct{})

	// The engine must not miss triggers, so it opts into the bus's
	// blocking mode with a deep buffer rather than the lossy default.
	sub := e.eventBus.Subscribe(bus.MatchAll(), bus.WithBlocking(), bus.WithBufferSize(1024))

	e.wg.Add(2)
	go e.eventLoop(ctx, sub)
	go e.runScheduler(ctx)

	go func() {
		e.wg.Wait()
		close(e.stopped)
	}()

	e.logger.Info("automation engine started")
}

// Stop shuts the engine down and waits for in-flight firings to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.stopped
	}
	e.logger.Info("automation engine stopped")
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Triggered:  e.triggered.Load(),
		Fired:      e.fired.Load(),
		Suppressed: e.suppressed.Load(),
		Debounced:  e.debounced.Load(),
		Errors:     e.errCount.Load(),
	}
}

// Suspend stops a rule from triggering until Resume. In-flight firings
// run to completion; pending retriggers are discarded.
func (e *Engine) Suspend(ruleID string) error {
	if !e.ruleExists(ruleID) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	st := e.state(ruleID)
	st.mu.Lock()
	st.suspended = true
	st.pending = false
	st.mu.Unlock()
	e.logger.Info("rule suspended", "rule_id", ruleID)
	return nil
}

// Resume lifts a suspension.
func (e *Engine) Resume(ruleID string) error {
	if !e.ruleExists(ruleID) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	st := e.state(ruleID)
	st.mu.Lock()
	st.suspended = false
	st.mu.Unlock()
	e.logger.Info("rule resumed", "rule_id", ruleID)
	return nil
}

// Suspended reports whether a rule is currently suspended.
func (e *Engine) Suspended(ruleID string) bool {
	st := e.state(ruleID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.suspended
}

// eventLoop consumes bus events and triggers matching rules.
func (e *Engine) eventLoop(ctx context.Context, sub *bus.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			e.handleEvent(ev)
		case <-sub.Done():
			return
		}
	}
}

func (e *Engine) handleEvent(ev entity.Event) {
	e.indexMu.RLock()
	candidates := e.index.candidates(ev.EntityID)
	e.indexMu.RUnlock()

	for _, rl := range candidates {
		if matchesTrigger(rl.Trigger, ev) {
			e.trigger(rl)
		}
	}
}

// trigger moves a rule from idle toward evaluation, honoring
// suspension, cooldown, and the re-entrancy/debounce policy.
func (e *Engine) trigger(rl *rule.Rule) {
	st := e.state(rl.ID)

	st.mu.Lock()
	if st.suspended {
		st.mu.Unlock()
		return
	}
	if cd := rl.Cooldown(); cd > 0 && !st.lastFired.IsZero() && e.now().Sub(st.lastFired) < cd {
		st.mu.Unlock()
		return
	}
	// Counted only past the suspension and cooldown gates, so Triggered
	// accounts for Fired + Suppressed + Debounced + evaluation errors.
	e.triggered.Add(1)
	if st.firing && !rl.Reentrant {
		// Debounce: record at most one pending re-evaluation and
		// obsolete the in-flight execution's intents.
		st.pending = true
		execID := st.executionID
		st.mu.Unlock()

		e.debounced.Add(1)
		if execID != "" {
			e.submitter.CancelExecution(execID)
		}
		return
	}

	execID := uuid.New().String()
	if !rl.Reentrant {
		st.firing = true
		st.executionID = execID
	}
	st.mu.Unlock()

	e.wg.Add(1)
	go e.fire(rl, st, execID)
}

// fire runs one rule execution: evaluate conditions against current
// registry state, then emit action intents in declared order and wait
// for their results. Any failure is contained to this rule.
func (e *Engine) fire(rl *rule.Rule, st *ruleState, execID string) {
	defer e.wg.Done()
	defer e.finishFiring(rl, st)

	ec := evalContext{
		reader:    e.reader,
		now:       e.now().In(e.cfg.Location),
		latitude:  e.cfg.Latitude,
		longitude: e.cfg.Longitude,
	}

	hold, err := conditionsHold(ec, rl.Conditions)
	if err != nil {
		e.errCount.Add(1)
		e.logger.Warn("rule evaluation failed",
			"rule_id", rl.ID,
			"slug", rl.Slug,
			"error", err,
		)
		return
	}
	if !hold {
		e.suppressed.Add(1)
		e.logger.Debug("rule suppressed", "rule_id", rl.ID, "slug", rl.Slug)
		return
	}

	results := make([]<-chan dispatch.Result, 0, len(rl.Actions))
	for i, action := range rl.Actions {
		intent := buildIntent(rl, action, execID)
		ch, err := e.submitter.Submit(intent)
		if err != nil {
			// Recoverable: abort this firing, leave other rules alone.
			e.errCount.Add(1)
			e.logger.Warn("action submission failed",
				"rule_id", rl.ID,
				"slug", rl.Slug,
				"action", i,
				"target", action.Entity,
				"error", err,
			)
			break
		}
		results = append(results, ch)
	}

	if len(results) > 0 {
		e.fired.Add(1)
		e.awaitResults(rl, results)
	}

	st.mu.Lock()
	st.lastFired = e.now()
	st.mu.Unlock()
}

// awaitResults waits for every emitted intent to reach a terminal state,
// bounded by MaxFiringTime. The firing is not considered complete (and
// a debounced retrigger not released) until then.
func (e *Engine) awaitResults(rl *rule.Rule, results []<-chan dispatch.Result) {
	deadline := time.After(e.cfg.MaxFiringTime)
	for _, ch := range results {
		select {
		case result := <-ch:
			if result.Status != dispatch.StatusAcked {
				e.logger.Warn("action not acknowledged",
					"rule_id", rl.ID,
					"slug", rl.Slug,
					"intent_id", result.IntentID,
					"status", string(result.Status),
					"reason", result.Reason,
				)
			}
		case <-deadline:
			e.errCount.Add(1)
			e.logger.Error("rule firing exceeded max firing time",
				"rule_id", rl.ID,
				"slug", rl.Slug,
				"limit", e.cfg.MaxFiringTime,
			)
			return
		}
	}
}

// finishFiring returns the rule to idle and, if a trigger arrived during
// the firing, re-evaluates exactly once against the latest state.
func (e *Engine) finishFiring(rl *rule.Rule, st *ruleState) {
	st.mu.Lock()
	st.firing = false
	st.executionID = ""
	pending := st.pending
	st.pending = false
	st.mu.Unlock()

	if pending {
		e.trigger(rl)
	}
}

func buildIntent(rl *rule.Rule, action rule.ActionSpec, execID string) dispatch.Intent {
	intent := dispatch.Intent{
		Target:      action.Entity,
		RuleID:      rl.ID,
		ExecutionID: execID,
		Idempotent:  action.Idempotent,
		Timeout:     time.Duration(action.TimeoutSeconds) * time.Second,
	}
	switch action.Type {
	case rule.ActionSetValue:
		intent.Kind = dispatch.KindSetValue
		if action.Value != nil {
			v := action.Value.DeepCopy()
			intent.Value = &v
		}
	case rule.ActionInvoke:
		intent.Kind = dispatch.KindInvoke
		intent.Service = action.Service
		intent.Params = action.Params
	}
	return intent
}

func (e *Engine) state(ruleID string) *ruleState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.states[ruleID]
	if !ok {
		st = &ruleState{}
		e.states[ruleID] = st
	}
	return st
}

func (e *Engine) ruleExists(ruleID string) bool {
	for _, rl := range e.rules.Enabled() {
		if rl.ID == ruleID {
			return true
		}
	}
	return false
}

func (e *Engine) rebuildIndex() {
	idx := buildTriggerIndex(e.rules.Enabled())
	e.indexMu.Lock()
	e.index = idx
	e.indexMu.Unlock()
}
