// internal/handlers/server.go
package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/database"
	"github.com/aralila/storychain/internal/game"
	"github.com/aralila/storychain/internal/lobby"
)

// StoryServer bundles the room and game stores behind the websocket
// handlers and owns the lobby-to-game handoff.
type StoryServer struct {
	Rooms  *lobby.RoomStore
	Games  *game.Store
	Logger *logrus.Logger
}

// NewStoryServer builds a server with empty stores.
func NewStoryServer(logger *logrus.Logger) *StoryServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StoryServer{
		Rooms:  lobby.NewRoomStore(),
		Games:  game.NewStore(),
		Logger: logger,
	}
}

// roomForJoin resolves the lobby room, honoring the capacity hint only
// when this join creates the room. A created room gets its start handoff
// wired: filling the lobby seeds a story game with the committed turn
// order before game_start goes out, so the game endpoint is ready the
// moment clients switch channels.
func (s *StoryServer) roomForJoin(code string, maxPlayersHint int) (*lobby.Room, bool) {
	room, created := s.Rooms.GetOrCreate(code, maxPlayersHint)
	if created {
		room.OnStart = func(r *lobby.Room, turnOrder []string) {
			g := s.gameForRoom(r.Code)
			g.SeedTurnOrder(turnOrder)
			s.Logger.Infof("room %s: seeded game %s with turn order %v", r.Code, g.ID, turnOrder)
		}
	}
	return room, created
}

// gameForRoom resolves the story game for a room, wiring persistence on
// first contact.
func (s *StoryServer) gameForRoom(room string) *game.StoryGame {
	g, created := s.Games.GetOrCreate(room)
	if created {
		g.OnGameEnd = s.handleGameEnd
	}
	return g
}

// handleGameEnd persists the finished session when a database is
// configured, then drops the game from the store. Runs on its own
// goroutine, after game_complete has been broadcast. The store removal
// matters for games every subscriber abandoned: those finish on turn
// timeouts with nobody left to Detach, so nothing else reclaims them.
func (s *StoryServer) handleGameEnd(room string, scores map[string]int) {
	g, ok := s.Games.Get(room)
	if !ok {
		s.Logger.Warnf("game end for unknown room %s, skipping cleanup", room)
		return
	}

	if database.DB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := database.RecordGameResults(ctx, g.ID, room, g.Transcript(), scores); err != nil {
			s.Logger.Errorf("failed to persist results for room %s: %v", room, err)
		}
	}

	s.Games.Delete(room)
}
