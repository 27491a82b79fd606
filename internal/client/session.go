// internal/client/session.go
package client

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/protocol"
)

// Defaults the server falls back to when a frame omits the value.
const (
	DefaultTurnSeconds = 20
	DefaultTotalImages = 5
)

// Authors for system-generated story annotations.
const (
	SystemAuthor = "SYSTEM"
	AIAuthor     = "AI"
)

// StoryEntry is one contribution in the append-only transcript: either a
// player sentence or a system/AI annotation.
type StoryEntry struct {
	Player string
	Text   string
}

// GameState is the aggregate session snapshot the UI renders. It is mutated
// exclusively by inbound protocol messages; reads always get a copy.
type GameState struct {
	Players          []string
	Story            []StoryEntry
	CurrentTurn      string
	Scores           map[string]int
	ImageIndex       int
	TotalImages      int
	ImageURL         string
	ImageDescription string
	TimeLeft         int
	GameOver         bool
}

func (g GameState) clone() GameState {
	out := g
	out.Players = append([]string(nil), g.Players...)
	out.Story = append([]StoryEntry(nil), g.Story...)
	out.Scores = make(map[string]int, len(g.Scores))
	for k, v := range g.Scores {
		out.Scores[k] = v
	}
	return out
}

// SessionConfig configures a SessionCoordinator.
type SessionConfig struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8080".
	BaseURL    string
	RoomName   string
	PlayerName string

	// TurnOrder is the rotation announced by the lobby's game_start.
	TurnOrder []string

	// OnStateChange, when set, fires with a fresh snapshot after every
	// state mutation.
	OnStateChange func(GameState)

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Logger               *logrus.Logger
}

// SessionCoordinator runs the client half of the turn-based story session.
// Turn order, scores and timing are owned by the server; this coordinator
// is a projection of server-pushed events plus a free-running countdown
// that the server resets on every authoritative turn boundary.
type SessionCoordinator struct {
	cfg    SessionConfig
	logger *logrus.Logger

	mu            sync.Mutex
	conn          *Conn
	state         GameState
	joined        bool
	connected     bool
	connErr       error
	countdownGen  int
	countdownStop chan struct{}
}

// NewSessionCoordinator builds a coordinator seeded from the turn order.
// It does not connect; call Connect.
func NewSessionCoordinator(cfg SessionConfig) (*SessionCoordinator, error) {
	if cfg.RoomName == "" {
		return nil, ErrMissingRoomCode
	}
	if cfg.PlayerName == "" {
		return nil, ErrMissingPlayerName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	currentTurn := ""
	if len(cfg.TurnOrder) > 0 {
		currentTurn = cfg.TurnOrder[0]
	}
	return &SessionCoordinator{
		cfg:    cfg,
		logger: logger,
		state: GameState{
			Players:     append([]string(nil), cfg.TurnOrder...),
			CurrentTurn: currentTurn,
			Scores:      map[string]int{},
			TotalImages: DefaultTotalImages,
			TimeLeft:    DefaultTurnSeconds,
		},
	}, nil
}

// URL is the game endpoint this coordinator speaks to.
func (s *SessionCoordinator) URL() string {
	return fmt.Sprintf("%s/ws/story/%s/?player=%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.RoomName), url.QueryEscape(s.cfg.PlayerName))
}

// Connect dials the game endpoint, closing any previous connection first.
// On open the coordinator announces itself with a single player_join; the
// join is never resent for the lifetime of this coordinator.
func (s *SessionCoordinator) Connect() {
	s.mu.Lock()
	prev := s.conn
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	conn := Dial(Config{
		URL: s.URL(),
		Handlers: Handlers{
			OnOpen:    s.handleOpen,
			OnMessage: s.handleMessage,
			OnClose: func() {
				s.mu.Lock()
				s.connected = false
				s.mu.Unlock()
			},
			OnError: func(err error) {
				s.mu.Lock()
				s.connErr = err
				s.mu.Unlock()
			},
		},
		ReconnectDelay:       s.cfg.ReconnectDelay,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
		Logger:               s.logger,
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Close tears the session down: the countdown stops and the connection is
// released with no reconnection. No state mutates after Close returns.
func (s *SessionCoordinator) Close() {
	s.mu.Lock()
	s.stopCountdownLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// handleOpen announces the player on the first open. It sends through
// the connection the open event delivered, never the stored field, so
// an open that races Connect's assignment still joins.
func (s *SessionCoordinator) handleOpen(conn *Conn) {
	s.mu.Lock()
	s.connected = true
	alreadyJoined := s.joined
	s.joined = true
	s.mu.Unlock()

	if !alreadyJoined {
		s.logger.Infof("session %s: joining as %s", s.cfg.RoomName, s.cfg.PlayerName)
		conn.Send(protocol.Message{Type: protocol.TypePlayerJoin, Player: s.cfg.PlayerName})
	}
}

// handleMessage applies one inbound game frame. Frames arrive serialized
// from the Conn's read loop; after game_complete the state is frozen and
// everything further is dropped.
func (s *SessionCoordinator) handleMessage(msg protocol.Message) {
	s.mu.Lock()
	if s.state.GameOver {
		s.mu.Unlock()
		s.logger.Debugf("session %s: game over, dropping %q frame", s.cfg.RoomName, msg.Type)
		return
	}

	switch msg.Type {
	case protocol.TypePlayersUpdate:
		if msg.Players != nil {
			s.state.Players = append([]string(nil), msg.Players...)
		}

	case protocol.TypeStoryUpdate:
		// Append in arrival order; identical contributions are kept.
		if msg.Player != "" && msg.Text != "" {
			s.state.Story = append(s.state.Story, StoryEntry{Player: msg.Player, Text: msg.Text})
		}

	case protocol.TypeTurnUpdate:
		limit := msg.TimeLimit
		if limit <= 0 {
			limit = DefaultTurnSeconds
		}
		s.state.CurrentTurn = msg.NextPlayer
		s.stopCountdownLocked()
		if s.state.CurrentTurn != "" {
			s.startCountdownLocked(limit)
		} else {
			s.state.TimeLeft = limit
		}

	case protocol.TypeTimeoutEvent:
		// Informational; the matching turn_update follows separately.
		if msg.Player != "" {
			s.state.Story = append(s.state.Story, StoryEntry{
				Player: SystemAuthor,
				Text:   fmt.Sprintf("%s timed out (-%d pts)", msg.Player, msg.Penalty),
			})
		}

	case protocol.TypeSentenceEvaluation:
		if msg.Sentence != "" && msg.Score != nil {
			s.state.Story = append(s.state.Story, StoryEntry{
				Player: AIAuthor,
				Text:   fmt.Sprintf("Complete sentence: %q | Score: %d/20", msg.Sentence, *msg.Score),
			})
		}

	case protocol.TypeNewImage:
		if msg.ImageIndex != nil {
			s.state.ImageIndex = *msg.ImageIndex
		}
		if msg.TotalImages > 0 {
			s.state.TotalImages = msg.TotalImages
		}
		s.state.ImageURL = msg.ImageURL
		s.state.ImageDescription = msg.ImageDescription
		s.stopCountdownLocked()
		if s.state.CurrentTurn != "" {
			s.startCountdownLocked(DefaultTurnSeconds)
		} else {
			s.state.TimeLeft = DefaultTurnSeconds
		}

	case protocol.TypeGameComplete:
		s.stopCountdownLocked()
		s.state.GameOver = true
		if msg.Scores != nil {
			s.state.Scores = msg.Scores
		}
		s.logger.Infof("session %s: game complete, scores %v", s.cfg.RoomName, s.state.Scores)

	case protocol.TypeError:
		s.mu.Unlock()
		s.logger.Warnf("session %s: server error: %s", s.cfg.RoomName, msg.ErrorMessage)
		return

	default:
		s.mu.Unlock()
		s.logger.Debugf("session %s: ignoring unknown frame type %q", s.cfg.RoomName, msg.Type)
		return
	}

	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// SubmitSentence transmits the local player's contribution. It is a silent
// no-op unless the trimmed text is non-empty and it is this player's turn.
// The guard saves a round trip; the server independently rejects
// out-of-turn submissions.
func (s *SessionCoordinator) SubmitSentence(text string) {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	myTurn := s.state.CurrentTurn == s.cfg.PlayerName && !s.state.GameOver
	conn := s.conn
	s.mu.Unlock()

	if trimmed == "" || !myTurn || conn == nil {
		return
	}
	conn.Send(protocol.Message{
		Type:   protocol.TypeSubmitSentence,
		Player: s.cfg.PlayerName,
		Text:   trimmed,
	})
}

// IsMyTurn reports whether the recorded turn holder is the local player.
// Identity is by display name, so two players sharing a name would both
// see true; the server remains the authority on acceptance.
func (s *SessionCoordinator) IsMyTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentTurn == s.cfg.PlayerName
}

// Snapshot returns a copy of the current game state.
func (s *SessionCoordinator) Snapshot() GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Connected reports whether the underlying socket is currently open.
func (s *SessionCoordinator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ConnectionErr returns the terminal connection error, if any.
func (s *SessionCoordinator) ConnectionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

// startCountdownLocked starts a fresh one-second ticker counting TimeLeft
// down from seconds. Any previous ticker must already be stopped. Expiry is
// observational only: the ticker stops at zero and waits for the server's
// timeout handling. Caller holds s.mu.
func (s *SessionCoordinator) startCountdownLocked(seconds int) {
	s.state.TimeLeft = seconds
	stop := make(chan struct{})
	s.countdownStop = stop
	s.countdownGen++
	gen := s.countdownGen
	go s.runCountdown(gen, stop)
}

// stopCountdownLocked cancels the running ticker, if any, and bumps the
// generation so a tick racing the cancel can never mutate state.
// Caller holds s.mu.
func (s *SessionCoordinator) stopCountdownLocked() {
	if s.countdownStop != nil {
		close(s.countdownStop)
		s.countdownStop = nil
	}
	s.countdownGen++
}

func (s *SessionCoordinator) runCountdown(gen int, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.countdownGen != gen || s.state.GameOver || s.state.CurrentTurn == "" {
				s.mu.Unlock()
				return
			}
			if s.state.TimeLeft > 0 {
				s.state.TimeLeft--
			}
			expired := s.state.TimeLeft == 0
			snap := s.state.clone()
			s.mu.Unlock()

			s.notify(snap)
			if expired {
				// The server's own timeout detection is authoritative.
				s.logger.Debugf("session %s: countdown expired for %s", s.cfg.RoomName, snap.CurrentTurn)
				return
			}
		}
	}
}

func (s *SessionCoordinator) notify(snap GameState) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(snap)
	}
}
