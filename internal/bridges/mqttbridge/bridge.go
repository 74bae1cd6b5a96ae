package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/mqtt"
)

// qosAtLeastOnce is used for every adapter-facing message. Commands and
// acks must survive a flaky link; duplicates are handled by intent-ID
// correlation and the registry's no-op law.
const qosAtLeastOnce byte = 1

// Broker is the slice of the MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StateStore is the slice of the entity registry the bridge writes to.
type StateStore interface {
	Register(def entity.Definition) (*entity.Event, error)
	Deregister(entityID string) (*entity.Event, error)
	Apply(entityID string, value entity.Value, cause entity.Cause) (*entity.Event, error)
	MarkAdapterOnline(adapterID string) []*entity.Event
	MarkAdapterOffline(adapterID string) []*entity.Event
}

// Logger matches the subset of slog used by the bridge.
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

// Bridge relays adapter traffic between MQTT and the core. It is the
// dispatch.Adapter for every MQTT-connected integration adapter.
type Bridge struct {
	broker Broker
	states StateStore
	topics mqtt.Topics
	logger Logger

	mu      sync.Mutex
	waiters map[string]chan ackMessage
}

// New creates a Bridge. Call Start to attach the inbound subscriptions.
func New(broker Broker, states StateStore, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		broker:  broker,
		states:  states,
		logger:  logger,
		waiters: make(map[string]chan ackMessage),
	}
}

// Start subscribes to the adapter topics. Subscriptions are tracked by
// the MQTT client and restored automatically on reconnect.
func (b *Bridge) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllAdapterRegistrations(), b.handleRegister},
		{b.topics.AllAdapterDeregistrations(), b.handleDeregister},
		{b.topics.AllAdapterStates(), b.handleState},
		{b.topics.AllAdapterAvailability(), b.handleAvailability},
		{b.topics.AllAdapterAcks(), b.handleAck},
	}

	for _, s := range subs {
		if err := b.broker.Subscribe(s.topic, qosAtLeastOnce, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}

	b.logger.Info("mqtt bridge started")
	return nil
}

// ExecuteCommand implements dispatch.Adapter. It publishes the intent as
// a command message and blocks until the adapter acknowledges it or ctx
// expires. The dispatcher owns the deadline and retry policy.
func (b *Bridge) ExecuteCommand(ctx context.Context, intent dispatch.Intent) error {
	ack := make(chan ackMessage, 1)

	b.mu.Lock()
	b.waiters[intent.ID] = ack
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, intent.ID)
		b.mu.Unlock()
	}()

	msg := commandMessage{
		ID:         intent.ID,
		EntityID:   intent.Target,
		Kind:       string(intent.Kind),
		Value:      intent.Value,
		Service:    intent.Service,
		Params:     intent.Params,
		Idempotent: intent.Idempotent,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := b.topics.AdapterCommand(intent.AdapterID, intent.Target)
	if err := b.broker.Publish(topic, payload, qosAtLeastOnce, false); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}

	select {
	case resp := <-ack:
		if !resp.Success {
			return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleRegister adds an announced entity to the registry. Adapters
// re-announce their whole inventory on every reconnect, so an
// already-registered entity is not an error.
func (b *Bridge) handleRegister(topic string, payload []byte) error {
	adapterID, entityID, err := splitAdapterTopic(topic)
	if err != nil {
		return err
	}

	var msg registerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: registration on %s: %v", ErrBadPayload, topic, err)
	}

	_, err = b.states.Register(entity.Definition{
		ID:        entityID,
		Domain:    msg.Domain,
		AdapterID: adapterID,
		Spec:      msg.Spec,
		Initial:   msg.Initial,
	})
	switch {
	case errors.Is(err, entity.ErrAlreadyRegistered):
		b.logger.Debug("entity re-announced", "entity_id", entityID, "adapter_id", adapterID)
		return nil
	case err != nil:
		return fmt.Errorf("register %s: %w", entityID, err)
	}
	return nil
}

// handleDeregister removes a withdrawn entity. Withdrawal of an entity
// the core never managed is discarded.
func (b *Bridge) handleDeregister(topic string, _ []byte) error {
	_, entityID, err := splitAdapterTopic(topic)
	if err != nil {
		return err
	}

	if _, err := b.states.Deregister(entityID); err != nil {
		if errors.Is(err, entity.ErrUnknownEntity) {
			b.logger.Debug("dropping withdrawal of unmanaged entity", "entity_id", entityID)
			return nil
		}
		return fmt.Errorf("deregister %s: %w", entityID, err)
	}
	return nil
}

// handleState applies an adapter's state report to the registry.
func (b *Bridge) handleState(topic string, payload []byte) error {
	_, entityID, err := splitAdapterTopic(topic)
	if err != nil {
		return err
	}

	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: state report on %s: %v", ErrBadPayload, topic, err)
	}

	cause := entity.CauseReport
	if msg.CommandID != "" {
		cause = entity.CauseCommandEcho
	}

	_, err = b.states.Apply(entityID, msg.Value, cause)
	switch {
	case errors.Is(err, entity.ErrUnknownEntity):
		// Adapters may report devices the core does not manage.
		b.logger.Debug("dropping report for unmanaged entity", "entity_id", entityID)
		return nil
	case err != nil:
		return fmt.Errorf("apply report for %s: %w", entityID, err)
	}
	return nil
}

// handleAvailability flips every entity owned by an adapter when its
// presence topic changes, including the retained LWT published by the
// broker on ungraceful disconnect.
func (b *Bridge) handleAvailability(topic string, payload []byte) error {
	adapterID, err := lastSegment(topic)
	if err != nil {
		return err
	}

	switch status := strings.TrimSpace(string(payload)); status {
	case AvailabilityOnline:
		events := b.states.MarkAdapterOnline(adapterID)
		b.logger.Info("adapter online", "adapter_id", adapterID, "entities", len(events))
	case AvailabilityOffline:
		events := b.states.MarkAdapterOffline(adapterID)
		b.logger.Warn("adapter offline", "adapter_id", adapterID, "entities", len(events))
	default:
		return fmt.Errorf("%w: availability %q on %s", ErrBadPayload, status, topic)
	}
	return nil
}

// handleAck routes an acknowledgement to the waiting command, if any.
// An ack no one is waiting on belonged to a superseded or timed-out
// intent and is discarded.
func (b *Bridge) handleAck(topic string, payload []byte) error {
	var msg ackMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: ack on %s: %v", ErrBadPayload, topic, err)
	}
	if msg.ID == "" {
		return fmt.Errorf("%w: ack without id on %s", ErrBadPayload, topic)
	}

	b.mu.Lock()
	waiter, ok := b.waiters[msg.ID]
	if ok {
		delete(b.waiters, msg.ID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("discarding stale ack", "intent_id", msg.ID)
		return nil
	}

	waiter <- msg
	return nil
}

// splitAdapterTopic parses cosmo/{category}/{adapter}/{entity}.
func splitAdapterTopic(topic string) (adapterID, entityID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	return parts[2], parts[3], nil
}

// lastSegment parses cosmo/{category}/{adapter}.
func lastSegment(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	return parts[2], nil
}
