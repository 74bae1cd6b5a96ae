package entity

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher receives every accepted state transition. The event bus
// implements this; tests substitute a capture mock.
type Publisher interface {
	Publish(Event)
}

// Logger interface for registry logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// noopPublisher discards events. Used when no publisher is provided.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// slot holds one entity's live state.
//
// current is an atomic pointer to an immutable Entity snapshot, so reads
// never take the write lock and never observe a torn value. mu serializes
// all writes to this entity; the publish call happens inside mu so
// subscribers see this entity's events in applied order.
type slot struct {
	mu      sync.Mutex
	current atomic.Pointer[Entity]
	seq     uint64
	removed bool
}

// Registry is the authoritative record of every entity's current state.
//
// All mutation funnels through Apply / Register / Deregister /
// SetAvailable; concurrent writes to different entities proceed
// independently, concurrent writes to the same entity are serialized.
// Reads are lock-free against writers.
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]*slot
	publisher Publisher
	logger    Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates a Registry publishing accepted transitions to the
// given publisher. Both arguments tolerate nil.
func NewRegistry(publisher Publisher, logger Logger) *Registry {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		entities:  make(map[string]*slot),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a new entity. Registration is itself a state transition:
// an Event with CauseRegistration is published so subscribers can react
// to entities joining at runtime.
func (r *Registry) Register(def Definition) (*Event, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}
	if err := def.Spec.Validate(def.Initial); err != nil {
		return nil, fmt.Errorf("initial value for %s: %w", def.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[def.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.ID)
	}

	now := r.now()
	ent := &Entity{
		ID:          def.ID,
		Domain:      def.Domain,
		AdapterID:   def.AdapterID,
		Value:       def.Initial.DeepCopy(),
		Spec:        def.Spec.DeepCopy(),
		Available:   true,
		LastChanged: now,
		LastUpdated: now,
	}

	s := &slot{seq: 1}
	s.current.Store(ent)
	r.entities[def.ID] = s

	event := Event{
		EntityID:  def.ID,
		Seq:       1,
		Previous:  Value{},
		Current:   ent.Value.DeepCopy(),
		Available: true,
		Timestamp: now,
		Cause:     CauseRegistration,
	}
	r.publisher.Publish(event)

	r.logger.Info("entity registered",
		"entity_id", def.ID,
		"domain", def.Domain,
		"adapter_id", def.AdapterID,
	)

	return &event, nil
}

// Deregister removes an entity. A final Event with CauseDeregistration is
// published; subsequent applies and reads return ErrUnknownEntity.
func (r *Registry) Deregister(entityID string) (*Event, error) {
	r.mu.Lock()
	s, ok := r.entities[entityID]
	if ok {
		delete(r.entities, entityID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	s.removed = true

	ent := s.current.Load()
	s.seq++
	event := Event{
		EntityID:  entityID,
		Seq:       s.seq,
		Previous:  ent.Value.DeepCopy(),
		Current:   Value{},
		Available: false,
		Timestamp: r.now(),
		Cause:     CauseDeregistration,
	}
	r.publisher.Publish(event)

	r.logger.Info("entity deregistered", "entity_id", entityID)

	return &event, nil
}

// Apply validates and applies a state update, returning the resulting
// Event. A value equal to the current value is a no-op: no Event is
// published, no timestamp moves, and (nil, nil) is returned.
func (r *Registry) Apply(entityID string, value Value, cause Cause) (*Event, error) {
	return r.apply(entityID, value, cause, false)
}

// Refresh is Apply with a forced timestamp refresh: when the value equals
// the current value, LastUpdated still advances. No Event is published
// for the equal-value case either way.
func (r *Registry) Refresh(entityID string, value Value, cause Cause) (*Event, error) {
	return r.apply(entityID, value, cause, true)
}

func (r *Registry) apply(entityID string, value Value, cause Cause, force bool) (*Event, error) {
	s, err := r.slot(entityID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}

	cur := s.current.Load()
	if err := cur.Spec.Validate(value); err != nil {
		return nil, fmt.Errorf("apply %s: %w", entityID, err)
	}

	now := r.now()
	if cur.Value.Equal(value) {
		if force {
			refreshed := cur.DeepCopy()
			refreshed.LastUpdated = now
			s.current.Store(refreshed)
		}
		return nil, nil
	}

	next := cur.DeepCopy()
	next.Value = value.DeepCopy()
	next.Available = true
	next.LastChanged = now
	next.LastUpdated = now
	s.current.Store(next)

	s.seq++
	event := Event{
		EntityID:  entityID,
		Seq:       s.seq,
		Previous:  cur.Value.DeepCopy(),
		Current:   value.DeepCopy(),
		Available: true,
		Timestamp: now,
		Cause:     cause,
	}

	// Publish inside the slot lock so this entity's events reach the bus
	// in applied order. The bus never blocks the publisher.
	r.publisher.Publish(event)

	return &event, nil
}

// Get returns an independent snapshot of the entity's current state.
// Never blocks on writers.
func (r *Registry) Get(entityID string) (*Entity, error) {
	s, err := r.slot(entityID)
	if err != nil {
		return nil, err
	}
	ent := s.current.Load()
	if ent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return ent.DeepCopy(), nil
}

// Exists reports whether an entity is currently registered.
func (r *Registry) Exists(entityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[entityID]
	return ok
}

// List returns snapshots of all registered entities, sorted by ID.
func (r *Registry) List() []*Entity {
	r.mu.RLock()
	out := make([]*Entity, 0, len(r.entities))
	for _, s := range r.entities {
		if ent := s.current.Load(); ent != nil {
			out = append(out, ent.DeepCopy())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// SetAvailable flips an entity's availability flag. A change publishes an
// Event with CauseAvailability and the entity's value unchanged, so rules
// can react to presence and absence. Setting the current state is a no-op.
func (r *Registry) SetAvailable(entityID string, available bool) (*Event, error) {
	s, err := r.slot(entityID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}

	cur := s.current.Load()
	if cur.Available == available {
		return nil, nil
	}

	now := r.now()
	next := cur.DeepCopy()
	next.Available = available
	next.LastUpdated = now
	s.current.Store(next)

	s.seq++
	event := Event{
		EntityID:  entityID,
		Seq:       s.seq,
		Previous:  cur.Value.DeepCopy(),
		Current:   cur.Value.DeepCopy(),
		Available: available,
		Timestamp: now,
		Cause:     CauseAvailability,
	}
	r.publisher.Publish(event)

	return &event, nil
}

// MarkAdapterOffline marks every entity owned by the adapter unavailable.
// Entities are not removed, so rule continuity survives reconnects.
// Returns the events published.
func (r *Registry) MarkAdapterOffline(adapterID string) []*Event {
	return r.setAdapterAvailability(adapterID, false)
}

// MarkAdapterOnline marks every entity owned by the adapter available again.
func (r *Registry) MarkAdapterOnline(adapterID string) []*Event {
	return r.setAdapterAvailability(adapterID, true)
}

func (r *Registry) setAdapterAvailability(adapterID string, available bool) []*Event {
	r.mu.RLock()
	ids := make([]string, 0)
	for id, s := range r.entities {
		if ent := s.current.Load(); ent != nil && ent.AdapterID == adapterID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	var events []*Event
	for _, id := range ids {
		event, err := r.SetAvailable(id, available)
		if err != nil || event == nil {
			continue
		}
		events = append(events, event)
	}

	if len(events) > 0 {
		r.logger.Info("adapter availability changed",
			"adapter_id", adapterID,
			"available", available,
			"entities", len(events),
		)
	}

	return events
}

// DumpState returns a full snapshot of the registry, ordered by entity
// ID, for the persistence layer.
func (r *Registry) DumpState() []Snapshot {
	entities := r.List()
	out := make([]Snapshot, 0, len(entities))
	for _, ent := range entities {
		out = append(out, Snapshot{
			EntityID:    ent.ID,
			Domain:      ent.Domain,
			AdapterID:   ent.AdapterID,
			Value:       ent.Value,
			Spec:        ent.Spec,
			Available:   ent.Available,
			LastChanged: ent.LastChanged,
			LastUpdated: ent.LastUpdated,
		})
	}
	return out
}

// LoadState restores entities from a previous dump. Restored entities are
// marked unavailable until their adapter reconnects and reports state.
// Restoration is silent: no Events are published, so rules do not fire on
// stale boot-time values. Snapshots for already-registered IDs are skipped.
func (r *Registry) LoadState(snapshots []Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, snap := range snapshots {
		if snap.EntityID == "" {
			return fmt.Errorf("%w: snapshot with empty entity id", ErrInvalidDefinition)
		}
		if _, exists := r.entities[snap.EntityID]; exists {
			continue
		}

		ent := &Entity{
			ID:          snap.EntityID,
			Domain:      snap.Domain,
			AdapterID:   snap.AdapterID,
			Value:       snap.Value.DeepCopy(),
			Spec:        snap.Spec.DeepCopy(),
			Available:   false,
			LastChanged: snap.LastChanged,
			LastUpdated: snap.LastUpdated,
		}
		s := &slot{seq: 1}
		s.current.Store(ent)
		r.entities[snap.EntityID] = s
		restored++
	}

	r.logger.Info("registry state restored", "entities", restored)
	return nil
}

// slot fetches the live slot for an entity.
func (r *Registry) slot(entityID string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.entities[entityID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return s, nil
}

func validateDefinition(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if def.Domain == "" {
		return fmt.Errorf("%w: domain is required for %s", ErrInvalidDefinition, def.ID)
	}
	if def.AdapterID == "" {
		return fmt.Errorf("%w: adapter_id is required for %s", ErrInvalidDefinition, def.ID)
	}
	switch def.Spec.Kind {
	case KindBool, KindNumber, KindEnum, KindAttrs:
	default:
		return fmt.Errorf("%w: unsupported value kind %q for %s", ErrInvalidDefinition, def.Spec.Kind, def.ID)
	}
	return nil
}
