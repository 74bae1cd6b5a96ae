// Package bus is the publish/subscribe channel between the state
// registry and everything downstream of it.
//
// # Delivery Model
//
// Each subscription owns a bounded backlog. The default mode is lossy:
// when a slow subscriber's backlog fills, the bus drops that
// subscriber's oldest buffered event and increments its dropped counter,
// so one stalled consumer can never wedge the registry's apply path.
// Subscribers that cannot tolerate gaps use WithBlocking, trading
// publisher backpressure for completeness.
//
// # Ordering
//
// Events for one entity reach every subscriber in the order they were
// applied to the registry. Events for different entities have no
// relative order. Both follow from the registry publishing each entity's
// events under its per-entity lock and the bus delivering synchronously
// into per-subscriber channels.
//
// The bus itself never fails: it only carries already-validated events.
package bus
