package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// Adapter executes commands against real devices. Implementations block
// until the device acknowledges, the command is rejected, or ctx
// expires. The MQTT bridge is the production implementation; tests use
// mocks.
type Adapter interface {
	ExecuteCommand(ctx context.Context, intent Intent) error
}

// EntityResolver is the registry seam the dispatcher uses to validate
// targets and resolve their owning adapter.
type EntityResolver interface {
	Get(entityID string) (*entity.Entity, error)
}

// Logger interface for dispatcher logging.
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

// Config tunes dispatcher behavior.
type Config struct {
	// DefaultTimeout is the per-attempt adapter deadline.
	DefaultTimeout time.Duration

	// RetryCount is the number of additional attempts after a timeout,
	// applied only to idempotent intents.
	RetryCount int

	// RetryBackoff is the wait before the first retry; it doubles on
	// each subsequent retry.
	RetryBackoff time.Duration

	// QueueDepth bounds each target's pending queue.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	return c
}

// pending tracks one submitted intent through its lifecycle.
type pending struct {
	intent    Intent
	result    chan Result
	cancelled atomic.Bool

	// cancelExec aborts the in-flight adapter call, if any.
	mu         sync.Mutex
	cancelExec context.CancelFunc
}

func (p *pending) markCancelled() {
	p.cancelled.Store(true)
	p.mu.Lock()
	if p.cancelExec != nil {
		p.cancelExec()
	}
	p.mu.Unlock()
}

// targetQueue serializes execution for one target entity.
type targetQueue struct {
	ch chan *pending
}

// Dispatcher turns action intents into adapter commands, enforcing
// per-target ordering and timeout/retry policy.
//
// One worker goroutine per target drains that target's queue, so two
// intents for the same device never execute concurrently and execute in
// submission order. Intents for different targets run concurrently.
type Dispatcher struct {
	cfg      Config
	resolver EntityResolver
	logger   Logger

	adapterMu      sync.RWMutex
	adapters       map[string]Adapter
	defaultAdapter Adapter

	targetMu sync.Mutex
	targets  map[string]*targetQueue

	pendingMu sync.Mutex
	inFlight  map[string]*pending

	submitted atomic.Uint64
	acked     atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	cancelled atomic.Uint64
	retries   atomic.Uint64

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup
}

// New creates a Dispatcher. Adapters register separately via
// RegisterAdapter as their transports come up.
func New(cfg Config, resolver EntityResolver, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:            cfg.withDefaults(),
		resolver:       resolver,
		logger:         logger,
		adapters:       make(map[string]Adapter),
		targets:        make(map[string]*targetQueue),
		inFlight:       make(map[string]*pending),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// RegisterAdapter makes an adapter available for command execution.
// Re-registering an ID replaces the previous adapter.
func (d *Dispatcher) RegisterAdapter(adapterID string, adapter Adapter) {
	d.adapterMu.Lock()
	d.adapters[adapterID] = adapter
	d.adapterMu.Unlock()
	d.logger.Info("adapter registered", "adapter_id", adapterID)
}

// SetDefaultAdapter installs a fallback used for any adapter ID without
// an explicit registration. The MQTT bridge serves every MQTT-connected
// adapter through this path.
func (d *Dispatcher) SetDefaultAdapter(adapter Adapter) {
	d.adapterMu.Lock()
	d.defaultAdapter = adapter
	d.adapterMu.Unlock()
}

// DeregisterAdapter removes an adapter. In-flight commands to it run to
// their deadline.
func (d *Dispatcher) DeregisterAdapter(adapterID string) {
	d.adapterMu.Lock()
	delete(d.adapters, adapterID)
	d.adapterMu.Unlock()
	d.logger.Info("adapter deregistered", "adapter_id", adapterID)
}

// Submit validates and enqueues an intent on its target's queue.
//
// The returned channel delivers exactly one Result when the intent
// reaches a terminal state. Submission errors (unknown target, no
// adapter, full queue, closed dispatcher) are returned immediately and
// mean the intent was never enqueued — an intent is never silently
// dropped.
func (d *Dispatcher) Submit(intent Intent) (<-chan Result, error) {
	select {
	case <-d.shutdownCtx.Done():
		return nil, ErrClosed
	default:
	}

	ent, err := d.resolver.Get(intent.Target)
	if err != nil {
		if errors.Is(err, entity.ErrUnknownEntity) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, intent.Target)
		}
		return nil, err
	}

	if intent.AdapterID == "" {
		intent.AdapterID = ent.AdapterID
	}
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.Timeout <= 0 {
		intent.Timeout = d.cfg.DefaultTimeout
	}
	intent.SubmittedAt = time.Now()

	if _, ok := d.adapterFor(intent.AdapterID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, intent.AdapterID)
	}

	p := &pending{
		intent: intent,
		result: make(chan Result, 1),
	}

	// The intent must be in inFlight before the worker can see it, or a
	// fast finish would delete a key that is not there yet and leave the
	// entry behind forever.
	d.pendingMu.Lock()
	d.inFlight[intent.ID] = p
	d.pendingMu.Unlock()

	q := d.queueFor(intent.Target)
	select {
	case q.ch <- p:
	default:
		d.pendingMu.Lock()
		delete(d.inFlight, intent.ID)
		d.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, intent.Target)
	}

	d.submitted.Add(1)
	d.logger.Debug("intent submitted",
		"intent_id", intent.ID,
		"target", intent.Target,
		"adapter_id", intent.AdapterID,
		"kind", string(intent.Kind),
	)

	return p.result, nil
}

// Cancel requests cooperative cancellation of a pending intent. A queued
// intent is skipped; an executing intent has its adapter call aborted.
// If the adapter cannot abort, its eventual stale acknowledgement is
// discarded by intent-ID match.
func (d *Dispatcher) Cancel(intentID string) error {
	d.pendingMu.Lock()
	p, ok := d.inFlight[intentID]
	d.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, intentID)
	}
	p.markCancelled()
	return nil
}

// CancelExecution cancels every pending intent belonging to a rule
// execution. Used when a newer trigger obsoletes an in-flight firing of
// a non-reentrant rule. Returns how many intents were cancelled.
func (d *Dispatcher) CancelExecution(executionID string) int {
	if executionID == "" {
		return 0
	}

	d.pendingMu.Lock()
	var matched []*pending
	for _, p := range d.inFlight {
		if p.intent.ExecutionID == executionID {
			matched = append(matched, p)
		}
	}
	d.pendingMu.Unlock()

	for _, p := range matched {
		p.markCancelled()
	}
	return len(matched)
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.pendingMu.Lock()
	pendingCount := len(d.inFlight)
	d.pendingMu.Unlock()

	return Stats{
		Submitted: d.submitted.Load(),
		Acked:     d.acked.Load(),
		Failed:    d.failed.Load(),
		TimedOut:  d.timedOut.Load(),
		Cancelled: d.cancelled.Load(),
		Retries:   d.retries.Load(),
		Pending:   pendingCount,
	}
}

// Close stops accepting submissions, cancels in-flight work, and waits
// for workers to drain.
func (d *Dispatcher) Close() {
	d.shutdownCancel()
	d.wg.Wait()
}

// adapterFor resolves an adapter ID to its registered adapter, falling
// back to the default adapter when set.
func (d *Dispatcher) adapterFor(adapterID string) (Adapter, bool) {
	d.adapterMu.RLock()
	defer d.adapterMu.RUnlock()

	if adapter, ok := d.adapters[adapterID]; ok {
		return adapter, true
	}
	if d.defaultAdapter != nil {
		return d.defaultAdapter, true
	}
	return nil, false
}

// queueFor returns the target's queue, starting its worker on first use.
func (d *Dispatcher) queueFor(target string) *targetQueue {
	d.targetMu.Lock()
	defer d.targetMu.Unlock()

	q, ok := d.targets[target]
	if !ok {
		q = &targetQueue{ch: make(chan *pending, d.cfg.QueueDepth)}
		d.targets[target] = q
		d.wg.Add(1)
		go d.worker(target, q)
	}
	return q
}

// worker drains one target's queue serially.
func (d *Dispatcher) worker(target string, q *targetQueue) {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdownCtx.Done():
			d.drainQueue(q)
			return
		case p := <-q.ch:
			d.execute(p)
		}
	}
}

// drainQueue fails everything still queued at shutdown.
func (d *Dispatcher) drainQueue(q *targetQueue) {
	for {
		select {
		case p := <-q.ch:
			d.finish(p, Result{
				IntentID: p.intent.ID,
				Target:   p.intent.Target,
				Status:   StatusCancelled,
				Reason:   "dispatcher shutdown",
			})
		default:
			return
		}
	}
}

// execute runs one intent to a terminal state, applying the deadline and
// retry policy.
func (d *Dispatcher) execute(p *pending) {
	start := time.Now()
	intent := p.intent

	if p.cancelled.Load() {
		d.finish(p, Result{
			IntentID: intent.ID,
			Target:   intent.Target,
			Status:   StatusCancelled,
			Reason:   "cancelled before execution",
			Elapsed:  time.Since(start),
		})
		return
	}

	adapter, ok := d.adapterFor(intent.AdapterID)
	if !ok {
		d.finish(p, Result{
			IntentID: intent.ID,
			Target:   intent.Target,
			Status:   StatusFailed,
			Reason:   fmt.Sprintf("adapter %s no longer registered", intent.AdapterID),
			Elapsed:  time.Since(start),
		})
		return
	}

	maxAttempts := 1
	if intent.Idempotent {
		maxAttempts += d.cfg.RetryCount
	}

	backoff := d.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.retries.Add(1)
			select {
			case <-time.After(backoff):
			case <-d.shutdownCtx.Done():
				d.finish(p, Result{
					IntentID: intent.ID,
					Target:   intent.Target,
					Status:   StatusCancelled,
					Reason:   "dispatcher shutdown",
					Attempts: attempt - 1,
					Elapsed:  time.Since(start),
				})
				return
			}
			backoff *= 2
		}

		err := d.attempt(p, adapter, intent)

		if p.cancelled.Load() {
			d.finish(p, Result{
				IntentID: intent.ID,
				Target:   intent.Target,
				Status:   StatusCancelled,
				Reason:   "cancelled during execution",
				Attempts: attempt,
				Elapsed:  time.Since(start),
			})
			return
		}

		if err == nil {
			d.finish(p, Result{
				IntentID: intent.ID,
				Target:   intent.Target,
				Status:   StatusAcked,
				Attempts: attempt,
				Elapsed:  time.Since(start),
			})
			return
		}
		lastErr = err

		if !errors.Is(err, context.DeadlineExceeded) {
			// Explicit rejection from the adapter: no retry.
			d.finish(p, Result{
				IntentID: intent.ID,
				Target:   intent.Target,
				Status:   StatusFailed,
				Reason:   err.Error(),
				Attempts: attempt,
				Elapsed:  time.Since(start),
			})
			return
		}

		d.logger.Warn("command attempt timed out",
			"intent_id", intent.ID,
			"target", intent.Target,
			"attempt", attempt,
			"of", maxAttempts,
		)
	}

	// Deadline exceeded on every attempt.
	status := StatusTimedOut
	reason := "deadline exceeded"
	if intent.Idempotent && d.cfg.RetryCount > 0 {
		// Retries were attempted and exhausted.
		status = StatusFailed
		reason = fmt.Sprintf("retries exhausted after %d attempts: %v", maxAttempts, lastErr)
	}
	d.finish(p, Result{
		IntentID: intent.ID,
		Target:   intent.Target,
		Status:   status,
		Reason:   reason,
		Attempts: maxAttempts,
		Elapsed:  time.Since(start),
	})
}

// attempt runs a single adapter call under the intent's deadline.
func (d *Dispatcher) attempt(p *pending, adapter Adapter, intent Intent) error {
	ctx, cancel := context.WithTimeout(d.shutdownCtx, intent.Timeout)
	defer cancel()

	p.mu.Lock()
	if p.cancelled.Load() {
		p.mu.Unlock()
		return context.Canceled
	}
	p.cancelExec = cancel
	p.mu.Unlock()

	err := adapter.ExecuteCommand(ctx, intent)

	p.mu.Lock()
	p.cancelExec = nil
	p.mu.Unlock()

	// Normalize a context deadline surfaced by the adapter.
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return context.DeadlineExceeded
	}
	return err
}

// finish records the terminal result and releases the pending slot.
func (d *Dispatcher) finish(p *pending, result Result) {
	switch result.Status {
	case StatusAcked:
		d.acked.Add(1)
	case StatusFailed:
		d.failed.Add(1)
	case StatusTimedOut:
		d.timedOut.Add(1)
	case StatusCancelled:
		d.cancelled.Add(1)
	}

	d.pendingMu.Lock()
	delete(d.inFlight, p.intent.ID)
	d.pendingMu.Unlock()

	p.result <- result

	if result.Status != StatusAcked {
		d.logger.Info("intent finished",
			"intent_id", result.IntentID,
			"target", result.Target,
			"status", string(result.Status),
			"reason", result.Reason,
			"attempts", result.Attempts,
		)
	}
}
