// internal/lobby/room_store.go
package lobby

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// RoomStore manages the active rooms in memory, keyed by normalized code.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRoomStore initializes an empty RoomStore.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for code, creating it on first contact.
// The capacity hint is honored only at creation; later joiners always see
// the stored value. The second return reports whether the room was created
// by this call, i.e. whether the caller is the room's creator.
func (s *RoomStore) GetOrCreate(code string, maxPlayersHint int) (*Room, bool) {
	code = NormalizeCode(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[code]; ok {
		return r, false
	}
	r := NewRoom(code, maxPlayersHint)
	r.OnEmpty = s.Delete
	s.rooms[code] = r
	logrus.Infof("lobby store: created room %s (capacity %d)", code, r.MaxPlayers)
	return r, true
}

// Get returns the room for code, if it exists.
func (s *RoomStore) Get(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[NormalizeCode(code)]
	return r, ok
}

// Delete removes a room. Wired as each room's OnEmpty callback.
func (s *RoomStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[NormalizeCode(code)]; ok {
		delete(s.rooms, NormalizeCode(code))
		logrus.Infof("lobby store: deleted room %s", code)
	}
}
