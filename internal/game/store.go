// internal/game/store.go
package game

import (
	"sync"
)

// Store manages active games in memory, keyed by room name.
type Store struct {
	mu    sync.Mutex
	games map[string]*StoryGame
}

// NewStore initializes an empty Store.
func NewStore() *Store {
	return &Store{games: make(map[string]*StoryGame)}
}

// GetOrCreate returns the game for room, creating an unseeded one on first
// contact. The second return reports whether this call created the game.
func (s *Store) GetOrCreate(room string) (*StoryGame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[room]; ok {
		return g, false
	}
	g := NewStoryGame(room)
	g.OnEmpty = s.Delete
	s.games[room] = g
	return g, true
}

// Get returns the game for room, if any.
func (s *Store) Get(room string) (*StoryGame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[room]
	return g, ok
}

// Delete removes a game. Wired as each game's OnEmpty callback.
func (s *Store) Delete(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, room)
}
