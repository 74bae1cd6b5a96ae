// Package entity implements the state registry: the authoritative record
// of every tracked device and sensor facet.
//
// # Architecture
//
// The Registry owns all entity state. Integration adapters report state
// in through Apply; everything downstream (rules, history, API) observes
// state either by reading snapshots via Get/List or by subscribing to the
// event bus, which the Registry publishes every accepted transition to.
//
//	adapter ──report──▶ Registry.Apply ──Event──▶ bus ──▶ engine, history, API
//
// # Concurrency Model
//
// Each entity has its own write lock, so updates to different entities
// never contend. The current snapshot is held behind an atomic pointer:
// reads never block, never see a torn value, and always observe a state
// that was valid at some real instant. The event publish happens inside
// the per-entity write lock, which is what guarantees subscribers see one
// entity's events in exactly the order they were applied.
//
// # Lifecycle
//
// Registration and deregistration are themselves transitions and publish
// events, so adapters can join and leave at runtime and rules can react.
// An adapter disconnect marks its entities unavailable rather than
// removing them, preserving rule continuity across reconnects.
//
// # Persistence
//
// DumpState/LoadState plus SnapshotStore give the process crash recovery:
// state is dumped to SQLite on shutdown and restored (silently, marked
// unavailable) on boot.
package entity
