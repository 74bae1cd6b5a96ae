package mqttbridge

import (
	"time"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// Adapter presence payloads, published to cosmo/availability/{adapter}.
// AvailabilityOffline is the retained LWT payload adapters configure at
// connect time, so an ungraceful drop still flips the adapter offline.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// registerMessage announces an entity on cosmo/register/{adapter}/{entity}.
// Adapters publish one per managed entity at connect time; the entity ID
// and owning adapter come from the topic.
type registerMessage struct {
	Domain  string           `json:"domain"`
	Spec    entity.ValueSpec `json:"spec"`
	Initial entity.Value     `json:"initial"`
}

// stateMessage is an adapter's state report for one entity.
//
// CommandID ties an echo report back to the command that caused it.
// Unsolicited reports leave it empty.
type stateMessage struct {
	Value     entity.Value `json:"value"`
	CommandID string       `json:"command_id,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
}

// commandMessage is what the bridge publishes to
// cosmo/command/{adapter}/{entity}.
type commandMessage struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id"`
	Kind       string         `json:"kind"`
	Value      *entity.Value  `json:"value,omitempty"`
	Service    string         `json:"service,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Idempotent bool           `json:"idempotent"`
}

// ackMessage is an adapter's acknowledgement of a command, published to
// cosmo/ack/{adapter}. ID matches the commandMessage ID.
type ackMessage struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// eventMessage mirrors one accepted state transition to external
// observers on cosmo/event/state/{entity}.
type eventMessage struct {
	EntityID  string       `json:"entity_id"`
	Seq       uint64       `json:"seq"`
	Previous  entity.Value `json:"previous"`
	Current   entity.Value `json:"current"`
	Available bool         `json:"available"`
	Timestamp time.Time    `json:"timestamp"`
	Cause     entity.Cause `json:"cause"`
}
