package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/mqtt"
)

// ─── Mocks ───────────────────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockBroker struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newMockBroker() *mockBroker {
	return &mockBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{topic, payload, qos, retained})
	return nil
}

func (m *mockBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// deliver simulates an inbound message through the handler registered
// for the given subscription pattern.
func (m *mockBroker) deliver(t *testing.T, pattern, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed for %s", pattern)
	}
	return handler(topic, payload)
}

func (m *mockBroker) publishedTo(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type appliedCall struct {
	entityID string
	value    entity.Value
	cause    entity.Cause
}

type mockStates struct {
	mu            sync.Mutex
	applied       []appliedCall
	applyErr      error
	registered    []entity.Definition
	registerErr   error
	deregistered  []string
	deregisterErr error
	online        []string
	offline       []string
}

func (m *mockStates) Register(def entity.Definition) (*entity.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	m.registered = append(m.registered, def)
	return &entity.Event{EntityID: def.ID, Cause: entity.CauseRegistration}, nil
}

func (m *mockStates) Deregister(entityID string) (*entity.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deregisterErr != nil {
		return nil, m.deregisterErr
	}
	m.deregistered = append(m.deregistered, entityID)
	return &entity.Event{EntityID: entityID, Cause: entity.CauseDeregistration}, nil
}

func (m *mockStates) Apply(entityID string, value entity.Value, cause entity.Cause) (*entity.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	m.applied = append(m.applied, appliedCall{entityID, value, cause})
	return &entity.Event{EntityID: entityID, Current: value, Cause: cause}, nil
}

func (m *mockStates) MarkAdapterOnline(adapterID string) []*entity.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, adapterID)
	return nil
}

func (m *mockStates) MarkAdapterOffline(adapterID string) []*entity.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, adapterID)
	return nil
}

func setupBridge(t *testing.T) (*Bridge, *mockBroker, *mockStates) {
	t.Helper()
	broker := newMockBroker()
	states := &mockStates{}
	bridge := New(broker, states, nil)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return bridge, broker, states
}

func testIntent(id string) dispatch.Intent {
	v := entity.BoolValue(true)
	return dispatch.Intent{
		ID:        id,
		Target:    "light.hall",
		AdapterID: "zigbee",
		Kind:      dispatch.KindSetValue,
		Value:     &v,
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestEntityAnnouncementRegistered(t *testing.T) {
	_, broker, states := setupBridge(t)

	payload, _ := json.Marshal(registerMessage{
		Domain:  "sensor",
		Spec:    entity.ValueSpec{Kind: entity.KindEnum, EnumValues: []string{"open", "closed"}},
		Initial: entity.EnumValue("closed"),
	})
	err := broker.deliver(t, "cosmo/register/+/+", "cosmo/register/zigbee/sensor.door", payload)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(states.registered) != 1 {
		t.Fatalf("registered %d entities, want 1", len(states.registered))
	}
	def := states.registered[0]
	if def.ID != "sensor.door" || def.Domain != "sensor" || def.AdapterID != "zigbee" {
		t.Errorf("definition = %+v", def)
	}
	if !def.Initial.Equal(entity.EnumValue("closed")) {
		t.Errorf("initial = %v", def.Initial)
	}
}

func TestReAnnouncementIgnored(t *testing.T) {
	_, broker, states := setupBridge(t)
	states.registerErr = entity.ErrAlreadyRegistered

	payload, _ := json.Marshal(registerMessage{
		Domain: "sensor", Spec: entity.ValueSpec{Kind: entity.KindBool},
	})
	err := broker.deliver(t, "cosmo/register/+/+", "cosmo/register/zigbee/sensor.door", payload)
	if err != nil {
		t.Errorf("re-announcement should be dropped silently, got %v", err)
	}
}

func TestInvalidAnnouncementSurfacesError(t *testing.T) {
	_, broker, states := setupBridge(t)
	states.registerErr = fmt.Errorf("%w: domain is required", entity.ErrInvalidDefinition)

	payload, _ := json.Marshal(registerMessage{Spec: entity.ValueSpec{Kind: entity.KindBool}})
	err := broker.deliver(t, "cosmo/register/+/+", "cosmo/register/zigbee/sensor.door", payload)
	if !errors.Is(err, entity.ErrInvalidDefinition) {
		t.Errorf("err = %v, want ErrInvalidDefinition", err)
	}
}

func TestMalformedAnnouncementPayload(t *testing.T) {
	_, broker, _ := setupBridge(t)

	err := broker.deliver(t, "cosmo/register/+/+", "cosmo/register/zigbee/sensor.door", []byte("{not json"))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("err = %v, want ErrBadPayload", err)
	}
}

func TestEntityWithdrawal(t *testing.T) {
	_, broker, states := setupBridge(t)

	err := broker.deliver(t, "cosmo/deregister/+/+", "cosmo/deregister/zigbee/sensor.door", nil)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(states.deregistered) != 1 || states.deregistered[0] != "sensor.door" {
		t.Errorf("deregistered = %v", states.deregistered)
	}
}

func TestUnmanagedWithdrawalDropped(t *testing.T) {
	_, broker, states := setupBridge(t)
	states.deregisterErr = entity.ErrUnknownEntity

	err := broker.deliver(t, "cosmo/deregister/+/+", "cosmo/deregister/zigbee/sensor.ghost", nil)
	if err != nil {
		t.Errorf("unmanaged withdrawal should be dropped silently, got %v", err)
	}
}

// An adapter joining at runtime announces an entity and immediately
// reports state for it; both must land in a real registry.
func TestAnnouncementEnablesStateReports(t *testing.T) {
	broker := newMockBroker()
	registry := entity.NewRegistry(nil, nil)
	bridge := New(broker, registry, nil)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg, _ := json.Marshal(registerMessage{
		Domain:  "sensor",
		Spec:    entity.ValueSpec{Kind: entity.KindEnum, EnumValues: []string{"open", "closed"}},
		Initial: entity.EnumValue("closed"),
	})
	if err := broker.deliver(t, "cosmo/register/+/+", "cosmo/register/zigbee/sensor.door", reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", registry.Count())
	}

	report, _ := json.Marshal(stateMessage{Value: entity.EnumValue("open")})
	if err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/sensor.door", report); err != nil {
		t.Fatalf("state report: %v", err)
	}

	ent, err := registry.Get("sensor.door")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ent.Value.Equal(entity.EnumValue("open")) {
		t.Errorf("value = %v, want enum open", ent.Value)
	}
}

func TestStateReportApplied(t *testing.T) {
	_, broker, states := setupBridge(t)

	payload, _ := json.Marshal(stateMessage{Value: entity.NumberValue(21.5)})
	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/sensor.temp", payload)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(states.applied) != 1 {
		t.Fatalf("applied %d reports, want 1", len(states.applied))
	}
	got := states.applied[0]
	if got.entityID != "sensor.temp" {
		t.Errorf("entityID = %q", got.entityID)
	}
	if !got.value.Equal(entity.NumberValue(21.5)) {
		t.Errorf("value = %v", got.value)
	}
	if got.cause != entity.CauseReport {
		t.Errorf("cause = %q, want %q", got.cause, entity.CauseReport)
	}
}

func TestEchoReportAppliedWithEchoCause(t *testing.T) {
	_, broker, states := setupBridge(t)

	payload, _ := json.Marshal(stateMessage{
		Value:     entity.BoolValue(true),
		CommandID: "cmd-123",
	})
	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/light.hall", payload)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(states.applied) != 1 {
		t.Fatalf("applied %d reports, want 1", len(states.applied))
	}
	if states.applied[0].cause != entity.CauseCommandEcho {
		t.Errorf("cause = %q, want %q", states.applied[0].cause, entity.CauseCommandEcho)
	}
}

func TestUnmanagedEntityReportDropped(t *testing.T) {
	_, broker, states := setupBridge(t)
	states.applyErr = entity.ErrUnknownEntity

	payload, _ := json.Marshal(stateMessage{Value: entity.BoolValue(true)})
	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/light.mystery", payload)
	if err != nil {
		t.Errorf("unmanaged entity should be dropped silently, got %v", err)
	}
}

func TestRejectedReportSurfacesError(t *testing.T) {
	_, broker, states := setupBridge(t)
	states.applyErr = fmt.Errorf("%w: out of range", entity.ErrValidation)

	payload, _ := json.Marshal(stateMessage{Value: entity.NumberValue(9999)})
	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/sensor.temp", payload)
	if !errors.Is(err, entity.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestMalformedStatePayload(t *testing.T) {
	_, broker, _ := setupBridge(t)

	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee/sensor.temp", []byte("{not json"))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("err = %v, want ErrBadPayload", err)
	}
}

func TestAvailabilityTransitions(t *testing.T) {
	_, broker, states := setupBridge(t)

	if err := broker.deliver(t, "cosmo/availability/+", "cosmo/availability/zigbee", []byte("offline")); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if err := broker.deliver(t, "cosmo/availability/+", "cosmo/availability/zigbee", []byte("online")); err != nil {
		t.Fatalf("online: %v", err)
	}

	if len(states.offline) != 1 || states.offline[0] != "zigbee" {
		t.Errorf("offline = %v", states.offline)
	}
	if len(states.online) != 1 || states.online[0] != "zigbee" {
		t.Errorf("online = %v", states.online)
	}
}

func TestAvailabilityUnknownStatus(t *testing.T) {
	_, broker, _ := setupBridge(t)

	err := broker.deliver(t, "cosmo/availability/+", "cosmo/availability/zigbee", []byte("wobbly"))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("err = %v, want ErrBadPayload", err)
	}
}

func TestExecuteCommandAcked(t *testing.T) {
	bridge, broker, _ := setupBridge(t)

	done := make(chan error, 1)
	go func() {
		done <- bridge.ExecuteCommand(context.Background(), testIntent("intent-1"))
	}()

	// Wait for the command to hit the wire, then ack it.
	topic := "cosmo/command/zigbee/light.hall"
	waitForPublish(t, broker, topic)

	cmds := broker.publishedTo(topic)
	var cmd commandMessage
	if err := json.Unmarshal(cmds[0].payload, &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.ID != "intent-1" || cmd.EntityID != "light.hall" || cmd.Kind != "set_value" {
		t.Errorf("command = %+v", cmd)
	}
	if cmds[0].qos != qosAtLeastOnce {
		t.Errorf("qos = %d, want %d", cmds[0].qos, qosAtLeastOnce)
	}

	ack, _ := json.Marshal(ackMessage{ID: "intent-1", Success: true})
	if err := broker.deliver(t, "cosmo/ack/+", "cosmo/ack/zigbee", ack); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if err := <-done; err != nil {
		t.Errorf("ExecuteCommand: %v", err)
	}
}

func TestExecuteCommandNack(t *testing.T) {
	bridge, broker, _ := setupBridge(t)

	done := make(chan error, 1)
	go func() {
		done <- bridge.ExecuteCommand(context.Background(), testIntent("intent-2"))
	}()

	waitForPublish(t, broker, "cosmo/command/zigbee/light.hall")

	ack, _ := json.Marshal(ackMessage{ID: "intent-2", Success: false, Reason: "bulb unreachable"})
	if err := broker.deliver(t, "cosmo/ack/+", "cosmo/ack/zigbee", ack); err != nil {
		t.Fatalf("ack: %v", err)
	}

	err := <-done
	if !errors.Is(err, ErrCommandRejected) {
		t.Errorf("err = %v, want ErrCommandRejected", err)
	}
}

func TestExecuteCommandDeadline(t *testing.T) {
	bridge, _, _ := setupBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := bridge.ExecuteCommand(ctx, testIntent("intent-3"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestExecuteCommandPublishFailure(t *testing.T) {
	bridge, broker, _ := setupBridge(t)
	broker.publishErr = errors.New("broker down")

	err := bridge.ExecuteCommand(context.Background(), testIntent("intent-4"))
	if err == nil {
		t.Error("expected publish failure to surface")
	}
}

func TestStaleAckDiscarded(t *testing.T) {
	_, broker, _ := setupBridge(t)

	ack, _ := json.Marshal(ackMessage{ID: "long-gone", Success: true})
	if err := broker.deliver(t, "cosmo/ack/+", "cosmo/ack/zigbee", ack); err != nil {
		t.Errorf("stale ack should be discarded silently, got %v", err)
	}
}

func TestAckWithoutID(t *testing.T) {
	_, broker, _ := setupBridge(t)

	err := broker.deliver(t, "cosmo/ack/+", "cosmo/ack/zigbee", []byte(`{"success":true}`))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("err = %v, want ErrBadPayload", err)
	}
}

func TestMalformedTopic(t *testing.T) {
	_, broker, _ := setupBridge(t)

	payload, _ := json.Marshal(stateMessage{Value: entity.BoolValue(true)})
	err := broker.deliver(t, "cosmo/state/+/+", "cosmo/state/zigbee", payload)
	if !errors.Is(err, ErrBadTopic) {
		t.Errorf("err = %v, want ErrBadTopic", err)
	}
}

func waitForPublish(t *testing.T, broker *mockBroker, topic string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(broker.publishedTo(topic)) > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no publish to %s within deadline", topic)
}
