// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/lobby"
	"github.com/aralila/storychain/internal/middleware"
	"github.com/aralila/storychain/internal/protocol"
)

// LobbyWSHandler serves /ws/lobby/{room}/?player={name}[&maxPlayers={n}].
// Joining is implicit in the connect; the maxPlayers hint is honored only
// when this connection creates the room, so joiners always defer to the
// server's stored capacity.
func LobbyWSHandler(logger *logrus.Logger, srv *StoryServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCode := lobby.NormalizeCode(roomFromPath(r.URL.Path, "/ws/lobby/"))
		if roomCode == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}
		playerName := r.URL.Query().Get("player")
		if playerName == "" {
			http.Error(w, "missing player name", http.StatusBadRequest)
			return
		}
		maxPlayersHint, _ := strconv.Atoi(r.URL.Query().Get("maxPlayers"))

		// Token must be issued before the upgrade writes the 101.
		if err := EnsurePlayerToken(w, r, playerName); err != nil {
			logger.Warnf("lobby %s: token issue failed for %s: %v", roomCode, playerName, err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production.
		})
		if err != nil {
			logger.Warnf("lobby %s: websocket accept error: %v", roomCode, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, roomCode, playerName)

		room, created := srv.roomForJoin(roomCode, maxPlayersHint)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := &lobby.PlayerConn{
			Name:    playerName,
			IsHost:  created,
			Cancel:  cancel,
			OutChan: make(chan protocol.Message, 16),
		}

		if err := room.AddPlayer(conn); err != nil {
			logger.Warnf("lobby %s: rejecting %s: %v", roomCode, playerName, err)
			switch err {
			case lobby.ErrDuplicateName:
				c.Close(DuplicateNameError, err.Error())
			default:
				c.Close(RoomUnavailableError, err.Error())
			}
			return
		}

		go writePump(ctx, c, conn.OutChan, logger, "lobby:"+playerName)

		readLobbyMessages(ctx, c, room, conn, logger)

		room.RemovePlayer(playerName)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, roomCode, playerName, nil)
	}
}

// readLobbyMessages blocks draining the lobby socket. The lobby channel
// requires no client frames beyond the join-via-URL; anything readable but
// unknown gets an error frame, and unreadable input is dropped.
func readLobbyMessages(ctx context.Context, c *websocket.Conn, room *lobby.Room, conn *lobby.PlayerConn, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			logReadExit(logger, "lobby:"+conn.Name, err)
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("lobby %s: non-text frame from %s, ignoring", room.Code, conn.Name)
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warnf("lobby %s: invalid frame from %s: %v", room.Code, conn.Name, err)
			conn.WriteError("invalid JSON format")
			continue
		}
		logger.Debugf("lobby %s: unexpected %q frame from %s", room.Code, msg.Type, conn.Name)
		conn.WriteError("unknown message type: " + msg.Type)
	}
}
