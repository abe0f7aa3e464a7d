package engine

import (
	"sort"
	"sync"
)

// ActiveSets tracks which scenes are active, twice: once as computed from
// live shade positions and once as reported by the hub itself.
//
// The two are never reconciled automatically; Agrees exposes the
// comparison so callers can log divergence.
//
// Thread Safety: All methods are safe for concurrent use.
type ActiveSets struct {
	mu       sync.RWMutex
	computed map[int]struct{}
	hub      map[int]struct{}
	hubKnown bool
}

// NewActiveSets creates empty sets. The hub set stays unknown until the
// first SetHub or ReplaceHub.
func NewActiveSets() *ActiveSets {
	return &ActiveSets{
		computed: make(map[int]struct{}),
		hub:      make(map[int]struct{}),
	}
}

// SetComputed records the computed state of a scene and reports whether it
// changed.
func (a *ActiveSets) SetComputed(id int, active bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return setMember(a.computed, id, active)
}

// Computed reports whether the scene is in the computed set.
func (a *ActiveSets) Computed(id int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.computed[id]
	return ok
}

// SetHub records a hub activation or deactivation event.
func (a *ActiveSets) SetHub(id int, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hubKnown = true
	setMember(a.hub, id, active)
}

// ReplaceHub replaces the hub set with the hub's own active list.
func (a *ActiveSets) ReplaceHub(ids []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hubKnown = true
	a.hub = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		a.hub[id] = struct{}{}
	}
}

// Hub reports the hub's view of a scene. known is false until the hub has
// reported at least once.
func (a *ActiveSets) Hub(id int) (active, known bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, active = a.hub[id]
	return active, a.hubKnown
}

// Agrees reports whether the computed and hub views of a scene match.
// An unknown hub set always agrees.
func (a *ActiveSets) Agrees(id int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hubKnown {
		return true
	}
	_, c := a.computed[id]
	_, h := a.hub[id]
	return c == h
}

// ComputedIDs returns the computed set in ascending order.
func (a *ActiveSets) ComputedIDs() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedSet(a.computed)
}

// HubIDs returns the hub set in ascending order.
func (a *ActiveSets) HubIDs() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedSet(a.hub)
}

func setMember(set map[int]struct{}, id int, member bool) bool {
	_, had := set[id]
	if member {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
	return had != member
}

func sortedSet(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
