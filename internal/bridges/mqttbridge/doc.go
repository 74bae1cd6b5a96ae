// Package mqttbridge connects the core to integration adapters over
// MQTT. It is the single seam between canonical entity state and the
// outside world.
//
// Inbound, the bridge subscribes to the adapter topics:
//
//	cosmo/register/{adapter}/{entity}    entity announcements → Registry.Register
//	cosmo/deregister/{adapter}/{entity}  entity withdrawals   → Registry.Deregister
//	cosmo/state/{adapter}/{entity}       state reports        → Registry.Apply
//	cosmo/availability/{adapter}         presence (LWT)       → adapter online/offline
//	cosmo/ack/{adapter}                  command acknowledgements
//
// Adapters announce their managed entities at connect time and may
// re-announce freely; a registration for an entity the core already
// manages is a no-op.
//
// Outbound, the bridge implements dispatch.Adapter: ExecuteCommand
// publishes a command message to cosmo/command/{adapter}/{entity} and
// blocks until the matching acknowledgement arrives or the attempt
// context expires. Acks correlate strictly by intent ID; an ack for an
// intent no one is waiting on is discarded.
//
// State reports that confirm a dispatched command carry the command ID
// and are applied with the command-echo cause, so rules can distinguish
// echoes from unsolicited reports.
package mqttbridge
