package engine

import (
	"sort"
	"sync"

	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Store holds the engine's view of hub shades, scenes and rooms.
//
// Records are copied in and out, so callers can modify what they get back.
//
// Thread Safety: All methods are safe for concurrent use. The lock is only
// held for the duration of a single read or write.
type Store struct {
	mu     sync.RWMutex
	shades map[int]powerview.Shade
	scenes map[int]powerview.Scene
	rooms  map[int]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		shades: make(map[int]powerview.Shade),
		scenes: make(map[int]powerview.Scene),
		rooms:  make(map[int]string),
	}
}

// ReplaceHome merges a full snapshot into the store.
//
// Shades and scenes missing from the snapshot are dropped. Shade motion
// state survives the merge since snapshots do not carry it.
func (s *Store) ReplaceHome(home *powerview.Home) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make(map[int]string, len(home.Rooms))
	for _, r := range home.Rooms {
		rooms[r.ID] = r.Name
	}

	shades := make(map[int]powerview.Shade, len(home.Shades))
	for _, sh := range home.Shades {
		sh = sh.Clone()
		if prev, ok := s.shades[sh.ID]; ok {
			sh.InMotion = prev.InMotion
		}
		if sh.RoomName == "" {
			sh.RoomName = rooms[sh.RoomID]
		}
		shades[sh.ID] = sh
	}

	scenes := make(map[int]powerview.Scene, len(home.Scenes))
	for _, sc := range home.Scenes {
		scenes[sc.ID] = sc.Clone()
	}

	s.rooms = rooms
	s.shades = shades
	s.scenes = scenes
}

// Shade returns the shade with the given id.
func (s *Store) Shade(id int) (powerview.Shade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shades[id]
	if !ok {
		return powerview.Shade{}, false
	}
	return sh.Clone(), true
}

// PutShade inserts or replaces a shade.
func (s *Store) PutShade(sh powerview.Shade) {
	s.mu.Lock()
	s.shades[sh.ID] = sh.Clone()
	s.mu.Unlock()
}

// UpdateShade applies fn to the stored shade and returns the result.
// Returns false if the shade is unknown.
func (s *Store) UpdateShade(id int, fn func(*powerview.Shade)) (powerview.Shade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shades[id]
	if !ok {
		return powerview.Shade{}, false
	}
	sh = sh.Clone()
	fn(&sh)
	s.shades[id] = sh
	return sh.Clone(), true
}

// Shades returns every shade ordered by id.
func (s *Store) Shades() []powerview.Shade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]powerview.Shade, 0, len(s.shades))
	for _, sh := range s.shades {
		out = append(out, sh.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShadeIDs returns every shade id in ascending order.
func (s *Store) ShadeIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.shades)
}

// Scene returns the scene with the given id.
func (s *Store) Scene(id int) (powerview.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[id]
	if !ok {
		return powerview.Scene{}, false
	}
	return sc.Clone(), true
}

// PutScene inserts or replaces a scene.
func (s *Store) PutScene(sc powerview.Scene) {
	s.mu.Lock()
	s.scenes[sc.ID] = sc.Clone()
	s.mu.Unlock()
}

// Scenes returns every scene ordered by id.
func (s *Store) Scenes() []powerview.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]powerview.Scene, 0, len(s.scenes))
	for _, sc := range s.scenes {
		out = append(out, sc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SceneIDs returns every scene id in ascending order.
func (s *Store) SceneIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.scenes)
}

// SceneName returns the host display name of a scene: the room name (or
// "Multi-Room") followed by the hub scene name.
func (s *Store) SceneName(sc powerview.Scene) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return powerview.SceneDisplayName(s.rooms, sc.RoomIDs, sc.Name)
}

func sortedKeys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
