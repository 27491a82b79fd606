// internal/client/lobby.go
package client

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/protocol"
)

// DefaultMaxPlayers is assumed until the server asserts the real capacity.
const DefaultMaxPlayers = 3

// Lobby configuration errors, surfaced before any connection is attempted.
var (
	ErrMissingRoomCode   = errors.New("client: lobby requires a room code")
	ErrMissingPlayerName = errors.New("client: lobby requires a player name")
)

// LobbyConfig configures a LobbyCoordinator.
type LobbyConfig struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8080".
	BaseURL    string
	RoomCode   string
	PlayerName string

	// MaxPlayers is included in the join URL only when positive. Only the
	// room creator supplies it; joiners leave it zero so the server's
	// stored capacity governs.
	MaxPlayers int

	// OnGameStart fires once, when the server commits to starting the game,
	// with the authoritative turn order.
	OnGameStart func(turnOrder []string)

	// OnPlayersChange fires when the membership view actually changes.
	// Frames repeating the current membership are suppressed.
	OnPlayersChange func(players []string)

	// OnCapacityChange fires when the server asserts a capacity that
	// differs from the current view, even when membership is unchanged.
	OnCapacityChange func(maxPlayers int)

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Logger               *logrus.Logger
}

// LobbyCoordinator holds a live, deduplicated view of room membership and
// detects the server committing to a game start. It owns its Conn
// exclusively; Close releases it.
type LobbyCoordinator struct {
	cfg    LobbyConfig
	logger *logrus.Logger

	mu         sync.Mutex
	conn       *Conn
	players    []string
	maxPlayers int
	starting   bool
	turnOrder  []string
	connected  bool
	connErr    error
}

// NewLobbyCoordinator validates the room parameters and builds a
// coordinator. It does not connect; call Connect.
func NewLobbyCoordinator(cfg LobbyConfig) (*LobbyCoordinator, error) {
	if cfg.RoomCode == "" {
		return nil, ErrMissingRoomCode
	}
	if cfg.PlayerName == "" {
		return nil, ErrMissingPlayerName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	maxPlayers := cfg.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	return &LobbyCoordinator{
		cfg:        cfg,
		logger:     logger,
		maxPlayers: maxPlayers,
	}, nil
}

// URL is the lobby endpoint this coordinator joins. The capacity parameter
// appears only when this client created the room.
func (l *LobbyCoordinator) URL() string {
	u := fmt.Sprintf("%s/ws/lobby/%s/?player=%s",
		l.cfg.BaseURL, url.PathEscape(l.cfg.RoomCode), url.QueryEscape(l.cfg.PlayerName))
	if l.cfg.MaxPlayers > 0 {
		u += fmt.Sprintf("&maxPlayers=%d", l.cfg.MaxPlayers)
	}
	return u
}

// Connect dials the lobby endpoint. Any previously opened connection is
// closed first so a re-dial never leaks a socket.
func (l *LobbyCoordinator) Connect() {
	l.mu.Lock()
	prev := l.conn
	l.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	conn := Dial(Config{
		URL: l.URL(),
		Handlers: Handlers{
			OnOpen: func(*Conn) {
				l.mu.Lock()
				l.connected = true
				l.mu.Unlock()
				l.logger.Infof("lobby %s: connected as %s", l.cfg.RoomCode, l.cfg.PlayerName)
			},
			OnMessage: l.handleMessage,
			OnClose: func() {
				l.mu.Lock()
				l.connected = false
				l.mu.Unlock()
				l.logger.Infof("lobby %s: disconnected", l.cfg.RoomCode)
			},
			OnError: func(err error) {
				l.mu.Lock()
				l.connErr = err
				l.mu.Unlock()
			},
		},
		ReconnectDelay:       l.cfg.ReconnectDelay,
		MaxReconnectAttempts: l.cfg.MaxReconnectAttempts,
		Logger:               l.logger,
	})

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

// Close leaves the lobby and releases the connection and its timers.
func (l *LobbyCoordinator) Close() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// handleMessage applies one inbound lobby frame. The Conn delivers frames
// one at a time, so updates are never interleaved.
func (l *LobbyCoordinator) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePlayerList, protocol.TypePlayerJoined, protocol.TypePlayerLeft:
		l.applyMembership(msg)

	case protocol.TypeGameStart:
		l.mu.Lock()
		alreadyStarting := l.starting
		l.starting = true
		if !alreadyStarting {
			l.turnOrder = append([]string(nil), msg.TurnOrder...)
		}
		l.mu.Unlock()

		if !alreadyStarting {
			l.logger.Infof("lobby %s: game starting, turn order %v", l.cfg.RoomCode, msg.TurnOrder)
			if l.cfg.OnGameStart != nil && len(msg.TurnOrder) > 0 {
				l.cfg.OnGameStart(append([]string(nil), msg.TurnOrder...))
			}
		}

	case protocol.TypeError:
		l.logger.Warnf("lobby %s: server error: %s", l.cfg.RoomCode, msg.ErrorMessage)

	default:
		l.logger.Debugf("lobby %s: ignoring unknown frame type %q", l.cfg.RoomCode, msg.Type)
	}
}

// applyMembership refreshes the roster view. The server sends the full list
// on every change, so shorter or longer lists simply replace the view.
// Frames with identical membership are suppressed to avoid notify churn.
func (l *LobbyCoordinator) applyMembership(msg protocol.Message) {
	l.mu.Lock()
	changed := !samePlayerSet(l.players, msg.Players)
	if changed {
		l.players = append([]string(nil), msg.Players...)
	}
	// The server's capacity always overrides the client-supplied hint.
	capChanged := msg.MaxPlayers > 0 && msg.MaxPlayers != l.maxPlayers
	if capChanged {
		l.maxPlayers = msg.MaxPlayers
	}
	players := append([]string(nil), l.players...)
	l.mu.Unlock()

	if changed {
		l.logger.Debugf("lobby %s: players now %v", l.cfg.RoomCode, players)
		if l.cfg.OnPlayersChange != nil {
			l.cfg.OnPlayersChange(players)
		}
	}
	if capChanged && l.cfg.OnCapacityChange != nil {
		l.cfg.OnCapacityChange(msg.MaxPlayers)
	}
}

// Players returns the current membership view.
func (l *LobbyCoordinator) Players() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.players...)
}

// MaxPlayers is the latest capacity asserted by the server, or the local
// hint until the server speaks.
func (l *LobbyCoordinator) MaxPlayers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPlayers
}

// Starting reports whether game_start has been observed. It latches true
// and is never cleared.
func (l *LobbyCoordinator) Starting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starting
}

// TurnOrder is the rotation announced by game_start, nil before then.
func (l *LobbyCoordinator) TurnOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.turnOrder...)
}

// Connected reports whether the underlying socket is currently open.
func (l *LobbyCoordinator) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// ConnectionErr returns the terminal connection error, if reconnection has
// permanently failed.
func (l *LobbyCoordinator) ConnectionErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connErr
}

// SendMessage is a passthrough for lobby-scoped outbound frames.
func (l *LobbyCoordinator) SendMessage(msg protocol.Message) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.Send(msg)
	}
}

// samePlayerSet reports value equality of two rosters, ignoring order.
func samePlayerSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, name := range a {
		counts[name]++
	}
	for _, name := range b {
		counts[name]--
		if counts[name] < 0 {
			return false
		}
	}
	return true
}
