package entity

import "time"

// Cause tags why a state transition happened. Rules and observers can
// distinguish an adapter's unsolicited report from the echo of a command
// the core itself dispatched.
type Cause string

const (
	// CauseReport is an unsolicited state report from an adapter.
	CauseReport Cause = "report"

	// CauseCommandEcho is a state report confirming a dispatched command.
	CauseCommandEcho Cause = "command_echo"

	// CauseRegistration marks an entity joining the registry.
	CauseRegistration Cause = "registration"

	// CauseDeregistration marks an entity leaving the registry.
	CauseDeregistration Cause = "deregistration"

	// CauseAvailability marks an availability flip without a value change.
	CauseAvailability Cause = "availability"
)

// Entity is one addressable device or sensor facet. Snapshots handed out
// by the Registry are immutable copies; mutation happens only through
// Registry.Apply and friends.
type Entity struct {
	// ID is the stable identifier, conventionally "{domain}.{name}"
	// (e.g. "sensor.door", "light.hall").
	ID string `json:"id"`

	// Domain is the kind tag ("light", "sensor", "climate", ...).
	Domain string `json:"domain"`

	// AdapterID names the integration adapter that owns this entity.
	// Commands for the entity route to this adapter.
	AdapterID string `json:"adapter_id"`

	// Value is the current state.
	Value Value `json:"value"`

	// Spec declares the domain of admissible values.
	Spec ValueSpec `json:"spec"`

	// Available is false while the owning adapter is disconnected or has
	// reported the entity unreachable.
	Available bool `json:"available"`

	// LastChanged is when the value last changed to something different.
	LastChanged time.Time `json:"last_changed"`

	// LastUpdated is when the value was last written, including forced
	// same-value refreshes.
	LastUpdated time.Time `json:"last_updated"`
}

// DeepCopy returns a fully independent copy of the entity.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Value = e.Value.DeepCopy()
	out.Spec = e.Spec.DeepCopy()
	return &out
}

// Definition describes an entity at registration time.
type Definition struct {
	ID        string    `json:"id" yaml:"id"`
	Domain    string    `json:"domain" yaml:"domain"`
	AdapterID string    `json:"adapter_id" yaml:"adapter_id"`
	Spec      ValueSpec `json:"spec" yaml:"spec"`

	// Initial is the starting value. Must satisfy Spec.
	Initial Value `json:"initial" yaml:"initial"`
}

// Event is the immutable record of one accepted state transition.
// Published exactly once per transition; never mutated afterwards.
type Event struct {
	// EntityID identifies the entity that transitioned.
	EntityID string `json:"entity_id"`

	// Seq is the per-entity sequence number, strictly increasing in the
	// order transitions were applied. Events for different entities have
	// unrelated sequences.
	Seq uint64 `json:"seq"`

	// Previous is the value immediately before this transition.
	// Zero (KindNone) for registration events.
	Previous Value `json:"previous"`

	// Current is the value after this transition.
	// Zero (KindNone) for deregistration events.
	Current Value `json:"current"`

	// Available is the entity's availability after this transition.
	Available bool `json:"available"`

	// Timestamp is when the transition was applied.
	Timestamp time.Time `json:"timestamp"`

	// Cause tags why the transition happened.
	Cause Cause `json:"cause"`
}

// Snapshot is one row of a full registry dump, used by the persistence
// layer for crash recovery. Snapshots carry enough to recreate the entity
// on restore.
type Snapshot struct {
	EntityID    string    `json:"entity_id"`
	Domain      string    `json:"domain"`
	AdapterID   string    `json:"adapter_id"`
	Value       Value     `json:"value"`
	Spec        ValueSpec `json:"spec"`
	Available   bool      `json:"available"`
	LastChanged time.Time `json:"last_changed"`
	LastUpdated time.Time `json:"last_updated"`
}
