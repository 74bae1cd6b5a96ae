package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger interface for rule registry logging.
// Compatible with logging.Logger and slog.Logger.
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

// store is the persistence seam for the registry. *Repository satisfies
// it; tests substitute an in-memory mock.
type store interface {
	Create(ctx context.Context, rl *Rule) error
	Update(ctx context.Context, rl *Rule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Rule, error)
}

// Registry caches all rules in memory in front of the repository.
// Reads are served from cache; writes go through the repository first
// and update the cache on success. The engine reads the rule set on
// every trigger, so lookups must never touch the database.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Rule
	bySlug map[string]*Rule
	repo   store
	logger Logger

	// onChange, when set, is called after every successful mutation so
	// the engine can rebuild its trigger index. Called without the
	// registry lock held.
	onChange func()
}

// NewRegistry creates a rule registry over the given repository.
func NewRegistry(repo store, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		byID:   make(map[string]*Rule),
		bySlug: make(map[string]*Rule),
		repo:   repo,
		logger: logger,
	}
}

// OnChange registers a callback invoked after every rule mutation.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Load populates the cache from the repository. Call once at startup and
// again to pick up out-of-band database changes.
func (r *Registry) Load(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.mu.Lock()
	r.byID = make(map[string]*Rule, len(rules))
	r.bySlug = make(map[string]*Rule, len(rules))
	for _, rl := range rules {
		r.byID[rl.ID] = rl
		r.bySlug[rl.Slug] = rl
	}
	r.mu.Unlock()

	r.logger.Info("rules loaded", "count", len(rules))
	r.notify()
	return nil
}

// Create persists and caches a new rule.
func (r *Registry) Create(ctx context.Context, rl *Rule) error {
	if err := r.repo.Create(ctx, rl); err != nil {
		return err
	}

	r.mu.Lock()
	cached := rl.DeepCopy()
	r.byID[cached.ID] = cached
	r.bySlug[cached.Slug] = cached
	r.mu.Unlock()

	r.logger.Info("rule created", "rule_id", rl.ID, "slug", rl.Slug)
	r.notify()
	return nil
}

// Update persists and re-caches an existing rule.
func (r *Registry) Update(ctx context.Context, rl *Rule) error {
	if err := r.repo.Update(ctx, rl); err != nil {
		return err
	}

	r.mu.Lock()
	if old, ok := r.byID[rl.ID]; ok && old.Slug != rl.Slug {
		delete(r.bySlug, old.Slug)
	}
	cached := rl.DeepCopy()
	r.byID[cached.ID] = cached
	r.bySlug[cached.Slug] = cached
	r.mu.Unlock()

	r.logger.Info("rule updated", "rule_id", rl.ID, "slug", rl.Slug)
	r.notify()
	return nil
}

// Delete removes a rule from the repository and cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if old, ok := r.byID[id]; ok {
		delete(r.bySlug, old.Slug)
		delete(r.byID, id)
	}
	r.mu.Unlock()

	r.logger.Info("rule deleted", "rule_id", id)
	r.notify()
	return nil
}

// Get returns a copy of the rule with the given ID.
func (r *Registry) Get(id string) (*Rule, error) {
	r.mu.RLock()
	rl, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rl.DeepCopy(), nil
}

// GetBySlug returns a copy of the rule with the given slug.
func (r *Registry) GetBySlug(slug string) (*Rule, error) {
	r.mu.RLock()
	rl, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return rl.DeepCopy(), nil
}

// List returns copies of all cached rules, sorted by slug.
func (r *Registry) List() []*Rule {
	r.mu.RLock()
	out := make([]*Rule, 0, len(r.byID))
	for _, rl := range r.byID {
		out = append(out, rl.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Enabled returns copies of all enabled rules, sorted by slug.
func (r *Registry) Enabled() []*Rule {
	all := r.List()
	out := all[:0]
	for _, rl := range all {
		if rl.Enabled {
			out = append(out, rl)
		}
	}
	return out
}

// Count returns the number of cached rules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
