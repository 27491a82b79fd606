// internal/lobby/room.go
package lobby

import (
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/protocol"
)

// DefaultMaxPlayers applies when a room is created without a capacity hint.
const DefaultMaxPlayers = 3

// Join failures reported to the websocket handler before the player is
// admitted.
var (
	ErrRoomFull      = errors.New("lobby: room is full")
	ErrRoomStarted   = errors.New("lobby: game already starting")
	ErrDuplicateName = errors.New("lobby: player name already taken")
)

// PlayerConn is a single player's live presence in a room. OutChan is
// drained by the connection's write pump; Cancel stops the connection's
// goroutines.
type PlayerConn struct {
	Name    string
	IsHost  bool
	Cancel  func()
	OutChan chan protocol.Message
}

// Write pushes a frame onto the player's out-channel without blocking.
// Frames to a closed or saturated channel are dropped and logged.
func (c *PlayerConn) Write(msg protocol.Message) {
	select {
	case c.OutChan <- msg:
	default:
		logrus.Warnf("lobby: out-channel for %s closed or full, dropped %q frame", c.Name, msg.Type)
	}
}

// WriteError sends a protocol error frame to this player only.
func (c *PlayerConn) WriteError(text string) {
	c.Write(protocol.Message{Type: protocol.TypeError, ErrorMessage: text})
}

// Room is an ephemeral pre-game grouping of players addressed by a short
// code. Membership is kept in join order; that order becomes the turn
// order when the room fills and the game starts.
type Room struct {
	Code       string
	MaxPlayers int

	// players holds display names in join order. Names are unique within a
	// room; the protocol has no other player identity.
	players []string
	conns   map[string]*PlayerConn

	Started bool

	// OnStart is invoked, outside the lock, when the room reaches capacity
	// and commits to a game. Typically wired to seed the story game.
	OnStart func(room *Room, turnOrder []string)

	// OnEmpty is invoked when the last player leaves, typically wired to
	// delete the room from its store.
	OnEmpty func(code string)

	Mu sync.Mutex
}

// NewRoom creates a room. A non-positive capacity falls back to the
// default; the creator's hint is fixed at creation and later joiners
// cannot change it.
func NewRoom(code string, maxPlayers int) *Room {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	return &Room{
		Code:       code,
		MaxPlayers: maxPlayers,
		conns:      make(map[string]*PlayerConn),
	}
}

// NormalizeCode canonicalizes a room code. Codes are case-insensitive on
// the wire.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AddPlayer admits a player. The joiner privately receives the current
// player_list first, then everyone (joiner included) gets player_joined
// with the refreshed roster. Filling the room triggers game start.
func (r *Room) AddPlayer(conn *PlayerConn) error {
	r.Mu.Lock()
	if r.Started {
		r.Mu.Unlock()
		return ErrRoomStarted
	}
	if _, taken := r.conns[conn.Name]; taken {
		r.Mu.Unlock()
		return ErrDuplicateName
	}
	if len(r.players) >= r.MaxPlayers {
		r.Mu.Unlock()
		return ErrRoomFull
	}

	r.players = append(r.players, conn.Name)
	r.conns[conn.Name] = conn

	roster := r.rosterUnsafe()
	listMsg := protocol.Message{
		Type:       protocol.TypePlayerList,
		Players:    roster,
		MaxPlayers: r.MaxPlayers,
	}
	joinedMsg := protocol.Message{
		Type:       protocol.TypePlayerJoined,
		Player:     conn.Name,
		Players:    roster,
		MaxPlayers: r.MaxPlayers,
	}

	full := len(r.players) == r.MaxPlayers
	var turnOrder []string
	var onStart func(*Room, []string)
	if full {
		r.Started = true
		turnOrder = roster
		onStart = r.OnStart
	}
	r.Mu.Unlock()

	logrus.Infof("lobby %s: %s joined (%d/%d)", r.Code, conn.Name, len(roster), r.MaxPlayers)
	conn.Write(listMsg)
	r.Broadcast(joinedMsg)

	if full {
		logrus.Infof("lobby %s: full, starting game with turn order %v", r.Code, turnOrder)
		if onStart != nil {
			onStart(r, turnOrder)
		}
		r.Broadcast(protocol.Message{Type: protocol.TypeGameStart, TurnOrder: turnOrder})
	}
	return nil
}

// RemovePlayer drops a player, notifies the remainder and fires OnEmpty if
// the room drained. Safe to call for names that already left.
func (r *Room) RemovePlayer(name string) {
	r.Mu.Lock()
	conn, ok := r.conns[name]
	if !ok {
		r.Mu.Unlock()
		return
	}
	delete(r.conns, name)
	for i, p := range r.players {
		if p == name {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}

	leftMsg := protocol.Message{
		Type:       protocol.TypePlayerLeft,
		Player:     name,
		Players:    r.rosterUnsafe(),
		MaxPlayers: r.MaxPlayers,
	}
	empty := len(r.conns) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()

	logrus.Infof("lobby %s: %s left", r.Code, name)
	if conn.Cancel != nil {
		conn.Cancel()
	}

	r.Broadcast(leftMsg)
	if empty && onEmpty != nil {
		logrus.Infof("lobby %s: now empty", r.Code)
		onEmpty(r.Code)
	}
}

// Broadcast sends msg to every connected player.
func (r *Room) Broadcast(msg protocol.Message) {
	r.Mu.Lock()
	conns := make([]*PlayerConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.Mu.Unlock()

	for _, c := range conns {
		c.Write(msg)
	}
}

// Players returns the roster in join order.
func (r *Room) Players() []string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.rosterUnsafe()
}

func (r *Room) rosterUnsafe() []string {
	return append([]string(nil), r.players...)
}
