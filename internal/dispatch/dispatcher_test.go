package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// ─── Mocks ───────────────────────────────────────────────────────────────────

// mockResolver serves entity lookups from a fixed map.
type mockResolver struct {
	entities map[string]*entity.Entity
}

func (m *mockResolver) Get(entityID string) (*entity.Entity, error) {
	ent, ok := m.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownEntity, entityID)
	}
	return ent, nil
}

// mockAdapter records executions and behaves per its configuration.
type mockAdapter struct {
	mu       sync.Mutex
	executed []Intent

	// hang makes every call block until ctx expires.
	hang bool

	// nackErr, when set, is returned immediately.
	nackErr error

	// delay holds each call for the duration before acking.
	delay time.Duration

	// concurrent tracks overlapping calls for serialization checks.
	active        int
	maxConcurrent int
}

func (m *mockAdapter) ExecuteCommand(ctx context.Context, intent Intent) error {
	m.mu.Lock()
	m.executed = append(m.executed, intent)
	m.active++
	if m.active > m.maxConcurrent {
		m.maxConcurrent = m.active
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.nackErr != nil {
		return m.nackErr
	}
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *mockAdapter) attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

func (m *mockAdapter) executedIntents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, len(m.executed))
	copy(out, m.executed)
	return out
}

func testEntities() map[string]*entity.Entity {
	return map[string]*entity.Entity{
		"light.hall": {
			ID: "light.hall", Domain: "light", AdapterID: "zigbee",
			Spec: entity.ValueSpec{Kind: entity.KindBool}, Available: true,
		},
		"light.kitchen": {
			ID: "light.kitchen", Domain: "light", AdapterID: "zigbee",
			Spec: entity.ValueSpec{Kind: entity.KindBool}, Available: true,
		},
	}
}

func setupDispatcher(t *testing.T, cfg Config) (*Dispatcher, *mockAdapter) {
	t.Helper()
	adapter := &mockAdapter{}
	d := New(cfg, &mockResolver{entities: testEntities()}, nil)
	d.RegisterAdapter("zigbee", adapter)
	t.Cleanup(d.Close)
	return d, adapter
}

func setIntent(target string, on bool) Intent {
	v := entity.BoolValue(on)
	return Intent{
		Target:     target,
		Kind:       KindSetValue,
		Value:      &v,
		Idempotent: true,
	}
}

func awaitResult(t *testing.T, ch <-chan Result, timeout time.Duration) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("no result before timeout")
		return Result{}
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSubmitAcked(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{})

	ch, err := d.Submit(setIntent("light.hall", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result := awaitResult(t, ch, time.Second)
	if result.Status != StatusAcked {
		t.Errorf("status = %s, want acked (%s)", result.Status, result.Reason)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
	if adapter.attempts() != 1 {
		t.Errorf("adapter saw %d calls, want 1", adapter.attempts())
	}
}

func TestSubmitUnknownTarget(t *testing.T) {
	d, _ := setupDispatcher(t, Config{})

	_, err := d.Submit(setIntent("light.ghost", true))
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("err = %v, want ErrUnknownTarget", err)
	}
}

func TestSubmitNoAdapter(t *testing.T) {
	d := New(Config{}, &mockResolver{entities: testEntities()}, nil)
	t.Cleanup(d.Close)

	_, err := d.Submit(setIntent("light.hall", true))
	if !errors.Is(err, ErrNoAdapter) {
		t.Errorf("err = %v, want ErrNoAdapter", err)
	}
}

func TestPerTargetSerialization(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{QueueDepth: 32})
	adapter.delay = 20 * time.Millisecond

	var channels []<-chan Result
	for i := 0; i < 5; i++ {
		ch, err := d.Submit(setIntent("light.hall", i%2 == 0))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		channels = append(channels, ch)
	}

	for i, ch := range channels {
		r := awaitResult(t, ch, 2*time.Second)
		if r.Status != StatusAcked {
			t.Errorf("intent %d: status = %s", i, r.Status)
		}
	}

	adapter.mu.Lock()
	maxConcurrent := adapter.maxConcurrent
	adapter.mu.Unlock()
	if maxConcurrent > 1 {
		t.Errorf("same-target intents overlapped: max concurrency %d", maxConcurrent)
	}

	// Submission order preserved.
	executed := adapter.executedIntents()
	for i := 1; i < len(executed); i++ {
		if executed[i].SubmittedAt.Before(executed[i-1].SubmittedAt) {
			t.Error("same-target intents executed out of submission order")
		}
	}
}

func TestDifferentTargetsRunConcurrently(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{})
	adapter.delay = 100 * time.Millisecond

	start := time.Now()
	chA, err := d.Submit(setIntent("light.hall", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	chB, err := d.Submit(setIntent("light.kitchen", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	awaitResult(t, chA, time.Second)
	awaitResult(t, chB, time.Second)

	if elapsed := time.Since(start); elapsed > 180*time.Millisecond {
		t.Errorf("two targets took %v, expected concurrent execution (~100ms)", elapsed)
	}
}

func TestIdempotentRetryPolicy(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{
		DefaultTimeout: 30 * time.Millisecond,
		RetryCount:     2,
		RetryBackoff:   10 * time.Millisecond,
	})
	adapter.hang = true

	intent := setIntent("light.hall", true)
	intent.Idempotent = true

	ch, err := d.Submit(intent)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result := awaitResult(t, ch, 3*time.Second)
	if result.Status != StatusFailed {
		t.Errorf("status = %s, want failed after exhausted retries", result.Status)
	}
	// Initial attempt plus exactly RetryCount retries.
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if adapter.attempts() != 3 {
		t.Errorf("adapter saw %d calls, want 3", adapter.attempts())
	}
}

func TestNonIdempotentFailsFast(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{
		DefaultTimeout: 30 * time.Millisecond,
		RetryCount:     2,
		RetryBackoff:   10 * time.Millisecond,
	})
	adapter.hang = true

	intent := setIntent("light.hall", true)
	intent.Idempotent = false

	ch, err := d.Submit(intent)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result := awaitResult(t, ch, time.Second)
	if result.Status != StatusTimedOut {
		t.Errorf("status = %s, want timed_out", result.Status)
	}
	if adapter.attempts() != 1 {
		t.Errorf("non-idempotent intent retried: %d calls", adapter.attempts())
	}
}

func TestNackFailsWithoutRetry(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{RetryCount: 2})
	adapter.nackErr = errors.New("device rejected command")

	ch, err := d.Submit(setIntent("light.hall", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result := awaitResult(t, ch, time.Second)
	if result.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (rejection is not retried)", result.Attempts)
	}
}

func TestQueueFull(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{QueueDepth: 1, DefaultTimeout: time.Second})
	adapter.delay = 200 * time.Millisecond

	// First occupies the worker, second fills the queue.
	if _, err := d.Submit(setIntent("light.hall", true)); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	var err error
	// The worker may drain the first intent before or after our next
	// submits; keep pushing until the queue is genuinely full.
	for i := 0; i < 10; i++ {
		if _, err = d.Submit(setIntent("light.hall", true)); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueueFullLeavesNoPendingEntry(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{QueueDepth: 1, DefaultTimeout: time.Second})
	adapter.hang = true

	accepted := 0
	var err error
	for i := 0; i < 10; i++ {
		if _, err = d.Submit(setIntent("light.hall", true)); err != nil {
			break
		}
		accepted++
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	// Rejected submissions must not linger in the pending set.
	if got := d.Stats().Pending; got != accepted {
		t.Errorf("pending = %d, want %d accepted submissions", got, accepted)
	}
}

func TestCancelQueuedIntent(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{QueueDepth: 8, DefaultTimeout: time.Second})
	adapter.delay = 150 * time.Millisecond

	// First intent occupies the worker.
	chFirst, err := d.Submit(setIntent("light.hall", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Second sits in the queue; cancel it there.
	queued := setIntent("light.hall", false)
	queued.ID = "queued-intent"
	chQueued, err := d.Submit(queued)
	if err != nil {
		t.Fatalf("Submit queued: %v", err)
	}
	if err := d.Cancel("queued-intent"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if r := awaitResult(t, chQueued, time.Second); r.Status != StatusCancelled {
		t.Errorf("queued intent status = %s, want cancelled", r.Status)
	}
	if r := awaitResult(t, chFirst, time.Second); r.Status != StatusAcked {
		t.Errorf("first intent status = %s, want acked", r.Status)
	}
}

func TestCancelInFlightIntent(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{DefaultTimeout: 5 * time.Second})
	adapter.hang = true

	intent := setIntent("light.hall", true)
	intent.ID = "in-flight"
	ch, err := d.Submit(intent)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Give the worker time to start executing, then cancel.
	time.Sleep(30 * time.Millisecond)
	if err := d.Cancel("in-flight"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	result := awaitResult(t, ch, time.Second)
	if result.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
}

func TestCancelExecution(t *testing.T) {
	d, adapter := setupDispatcher(t, Config{QueueDepth: 8, DefaultTimeout: 5 * time.Second})
	adapter.hang = true

	for i, target := range []string{"light.hall", "light.kitchen"} {
		intent := setIntent(target, true)
		intent.ID = fmt.Sprintf("exec-intent-%d", i)
		intent.ExecutionID = "execution-1"
		if _, err := d.Submit(intent); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	time.Sleep(30 * time.Millisecond)
	if n := d.CancelExecution("execution-1"); n != 2 {
		t.Errorf("CancelExecution cancelled %d intents, want 2", n)
	}
}

func TestCancelUnknownIntent(t *testing.T) {
	d, _ := setupDispatcher(t, Config{})
	if err := d.Cancel("nope"); !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestStats(t *testing.T) {
	d, _ := setupDispatcher(t, Config{})

	ch, err := d.Submit(setIntent("light.hall", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	awaitResult(t, ch, time.Second)

	stats := d.Stats()
	if stats.Submitted != 1 || stats.Acked != 1 {
		t.Errorf("stats = %+v, want 1 submitted, 1 acked", stats)
	}
	if stats.Pending != 0 {
		t.Errorf("pending = %d, want 0", stats.Pending)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	d, _ := setupDispatcher(t, Config{})
	d.Close()

	if _, err := d.Submit(setIntent("light.hall", true)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestDefaultAdapterFallback(t *testing.T) {
	adapter := &mockAdapter{}
	d := New(Config{}, &mockResolver{entities: map[string]*entity.Entity{
		"light.porch": {
			ID: "light.porch", Domain: "light", AdapterID: "zwave",
			Spec: entity.ValueSpec{Kind: entity.KindBool}, Available: true,
		},
	}}, nil)
	t.Cleanup(d.Close)

	// No adapter registered at all: submission fails.
	if _, err := d.Submit(setIntent("light.porch", true)); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v, want ErrNoAdapter", err)
	}

	// A default adapter serves IDs with no explicit registration.
	d.SetDefaultAdapter(adapter)
	ch, err := d.Submit(setIntent("light.porch", true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := awaitResult(t, ch, time.Second)
	if res.Status != StatusAcked {
		t.Errorf("status = %s, want acked", res.Status)
	}
	if adapter.attempts() != 1 {
		t.Errorf("attempts = %d, want 1", adapter.attempts())
	}

	// An explicit registration still wins over the default.
	specific := &mockAdapter{}
	d.RegisterAdapter("zwave", specific)
	ch, err = d.Submit(setIntent("light.porch", false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	awaitResult(t, ch, time.Second)
	if specific.attempts() != 1 {
		t.Errorf("specific attempts = %d, want 1", specific.attempts())
	}
}
