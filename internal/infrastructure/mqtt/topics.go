package mqtt

import "fmt"

// Topic prefixes for the Cosmo MQTT contract.
//
// Adapter topics use the flat scheme: cosmo/{category}/{adapter}/{entity_id}.
// The adapter segment names the integration adapter that owns the entity,
// not a device vendor protocol.
const (
	// TopicPrefix is the base for all Cosmo topics.
	TopicPrefix = "cosmo"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "cosmo/system"
)

// Topics provides builders for Cosmo MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.AdapterState("zigbee", "sensor.door")
//	// Returns: "cosmo/state/zigbee/sensor.door"
type Topics struct{}

// AdapterState returns the topic an adapter publishes entity state reports to.
//
// Example: cosmo/state/zigbee/sensor.door
func (Topics) AdapterState(adapterID, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, adapterID, entityID)
}

// AdapterRegister returns the topic an adapter announces a managed
// entity on. The payload carries the entity's definition.
//
// Example: cosmo/register/zigbee/sensor.door
func (Topics) AdapterRegister(adapterID, entityID string) string {
	return fmt.Sprintf("%s/register/%s/%s", TopicPrefix, adapterID, entityID)
}

// AdapterDeregister returns the topic an adapter withdraws an entity on.
//
// Example: cosmo/deregister/zigbee/sensor.door
func (Topics) AdapterDeregister(adapterID, entityID string) string {
	return fmt.Sprintf("%s/deregister/%s/%s", TopicPrefix, adapterID, entityID)
}

// AdapterCommand returns the topic the dispatcher publishes commands to.
//
// Example: cosmo/command/zigbee/light.hall
func (Topics) AdapterCommand(adapterID, entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, adapterID, entityID)
}

// AdapterAck returns the topic an adapter publishes command acknowledgements to.
//
// Example: cosmo/ack/zigbee
func (Topics) AdapterAck(adapterID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, adapterID)
}

// AdapterAvailability returns the adapter presence topic (LWT target).
//
// Example: cosmo/availability/zigbee
func (Topics) AdapterAvailability(adapterID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, adapterID)
}

// SystemStatus returns the core status topic.
//
// Example: cosmo/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// EventStateChanged returns the topic canonical state-change events are
// mirrored to, for external observers.
//
// Example: cosmo/event/state/sensor.door
func (Topics) EventStateChanged(entityID string) string {
	return fmt.Sprintf("%s/event/state/%s", TopicPrefix, entityID)
}

// AllAdapterStates returns a pattern matching all adapter state reports.
//
// Pattern: cosmo/state/+/+
func (Topics) AllAdapterStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllAdapterRegistrations returns a pattern matching all entity
// announcements.
//
// Pattern: cosmo/register/+/+
func (Topics) AllAdapterRegistrations() string {
	return fmt.Sprintf("%s/register/+/+", TopicPrefix)
}

// AllAdapterDeregistrations returns a pattern matching all entity
// withdrawals.
//
// Pattern: cosmo/deregister/+/+
func (Topics) AllAdapterDeregistrations() string {
	return fmt.Sprintf("%s/deregister/+/+", TopicPrefix)
}

// AllAdapterAcks returns a pattern matching all adapter acknowledgements.
//
// Pattern: cosmo/ack/+
func (Topics) AllAdapterAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefix)
}

// AllAdapterAvailability returns a pattern matching all adapter presence topics.
//
// Pattern: cosmo/availability/+
func (Topics) AllAdapterAvailability() string {
	return fmt.Sprintf("%s/availability/+", TopicPrefix)
}
