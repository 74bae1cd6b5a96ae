package mqttbridge

import (
	"context"
	"encoding/json"

	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/mqtt"
)

// Mirror republishes accepted state transitions to
// cosmo/event/state/{entity} for external observers. It is a lossy
// consumer: if the broker cannot keep up, old events are dropped rather
// than backpressuring the registry.
type Mirror struct {
	broker Broker
	events *bus.Bus
	topics mqtt.Topics
	logger Logger
}

// NewMirror creates a Mirror over the given event bus.
func NewMirror(broker Broker, events *bus.Bus, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{broker: broker, events: events, logger: logger}
}

// Run consumes bus events until ctx is cancelled. Blocks; run it in its
// own goroutine.
func (m *Mirror) Run(ctx context.Context) {
	sub := m.events.Subscribe(bus.Filter{})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			m.publish(ev)
		}
	}
}

func (m *Mirror) publish(ev entity.Event) {
	payload, err := json.Marshal(eventMessage{
		EntityID:  ev.EntityID,
		Seq:       ev.Seq,
		Previous:  ev.Previous,
		Current:   ev.Current,
		Available: ev.Available,
		Timestamp: ev.Timestamp,
		Cause:     ev.Cause,
	})
	if err != nil {
		m.logger.Error("encode mirrored event", "entity_id", ev.EntityID, "error", err)
		return
	}

	topic := m.topics.EventStateChanged(ev.EntityID)
	// QoS 0: mirrored events are advisory; the canonical record lives in
	// the registry and history store.
	if err := m.broker.Publish(topic, payload, 0, false); err != nil {
		m.logger.Warn("mirror publish failed", "topic", topic, "error", err)
	}
}
