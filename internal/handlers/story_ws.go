// internal/handlers/story_ws.go
package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/game"
	"github.com/aralila/storychain/internal/lobby"
	"github.com/aralila/storychain/internal/middleware"
	"github.com/aralila/storychain/internal/protocol"
)

// StoryWSHandler serves /ws/story/{room}/?player={name}. The game for a
// room normally already exists, seeded by the lobby handoff; a direct
// connect to a fresh room creates an unseeded game that fixes its turn
// order from join arrival.
func StoryWSHandler(logger *logrus.Logger, srv *StoryServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomName := lobby.NormalizeCode(roomFromPath(r.URL.Path, "/ws/story/"))
		if roomName == "" {
			http.Error(w, "missing room name", http.StatusBadRequest)
			return
		}
		playerName := r.URL.Query().Get("player")
		if playerName == "" {
			http.Error(w, "missing player name", http.StatusBadRequest)
			return
		}

		if err := EnsurePlayerToken(w, r, playerName); err != nil {
			logger.Warnf("game %s: token issue failed for %s: %v", roomName, playerName, err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production.
		})
		if err != nil {
			logger.Warnf("game %s: websocket accept error: %v", roomName, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, roomName, playerName)

		g := srv.gameForRoom(roomName)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sub := &game.Subscriber{
			Name:   playerName,
			Cancel: cancel,
			Out:    make(chan protocol.Message, 32),
		}
		g.Attach(playerName, sub)

		go writePump(ctx, c, sub.Out, logger, "game:"+playerName)

		readGameMessages(ctx, c, g, sub, logger)

		g.Detach(playerName, sub)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, roomName, playerName, nil)
	}
}

// readGameMessages routes inbound game frames. The player identity is the
// connection's, not the frame's: a frame claiming another player's name is
// rejected rather than trusted.
func readGameMessages(ctx context.Context, c *websocket.Conn, g *game.StoryGame, sub *game.Subscriber, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			logReadExit(logger, "game:"+sub.Name, err)
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("game %s: non-text frame from %s, ignoring", g.Room, sub.Name)
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warnf("game %s: invalid frame from %s: %v", g.Room, sub.Name, err)
			sub.WriteError("invalid JSON format")
			continue
		}
		if msg.Player != "" && msg.Player != sub.Name {
			logger.Warnf("game %s: %s sent a frame claiming to be %s", g.Room, sub.Name, msg.Player)
			sub.WriteError("player name does not match connection")
			continue
		}

		switch msg.Type {
		case protocol.TypePlayerJoin:
			g.HandlePlayerJoin(sub.Name)
		case protocol.TypeSubmitSentence:
			g.HandleSubmitSentence(sub.Name, msg.Text)
		default:
			logger.Debugf("game %s: unknown %q frame from %s", g.Room, msg.Type, sub.Name)
			sub.WriteError("unknown message type: " + msg.Type)
		}
	}
}
