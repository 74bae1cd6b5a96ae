package bus

import (
	"path"

	"github.com/cosmo-home/cosmocore/internal/entity"
)

// Filter selects which events a subscription receives. The zero Filter
// matches everything.
type Filter struct {
	// Entities is a list of entity ID glob patterns ("sensor.door",
	// "light.*", "*"). Empty matches all entities.
	Entities []string

	// Causes restricts matching to the listed causes. Empty matches all.
	Causes []entity.Cause
}

// MatchAll returns a filter that matches every event.
func MatchAll() Filter {
	return Filter{}
}

// MatchEntities returns a filter matching the given entity ID patterns.
func MatchEntities(patterns ...string) Filter {
	return Filter{Entities: patterns}
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(event entity.Event) bool {
	if len(f.Causes) > 0 {
		found := false
		for _, c := range f.Causes {
			if event.Cause == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Entities) == 0 {
		return true
	}
	for _, pattern := range f.Entities {
		if MatchPattern(pattern, event.EntityID) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether an entity ID matches a glob pattern.
// Patterns use shell-style globbing: "light.*" matches "light.hall",
// "*" matches everything. A malformed pattern matches nothing.
func MatchPattern(pattern, entityID string) bool {
	if pattern == "*" || pattern == entityID {
		return true
	}
	ok, err := path.Match(pattern, entityID)
	return err == nil && ok
}
