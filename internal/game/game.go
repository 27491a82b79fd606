// internal/game/game.go
package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/cache"
	"github.com/aralila/storychain/internal/protocol"
)

// Gameplay defaults. TurnSeconds is the per-turn time limit announced in
// every turn_update; TimeoutPenalty is deducted when a turn expires.
const (
	DefaultTurnSeconds    = 20
	DefaultTimeoutPenalty = 5
	DefaultMinPlayers     = 2
)

// OnGameEndFunc handles a finished game: persisting results, cleaning up
// the store, and so on.
type OnGameEndFunc func(room string, scores map[string]int)

// StoryEntry is one accepted contribution in the transcript.
type StoryEntry struct {
	Player string `json:"player"`
	Text   string `json:"text"`
}

// Subscriber is one player's live delivery channel. Out is drained by the
// connection's write pump; Cancel stops the connection's goroutines.
type Subscriber struct {
	Name   string
	Cancel func()
	Out    chan protocol.Message
}

// Write pushes a frame without blocking; frames to a saturated channel are
// dropped and logged.
func (s *Subscriber) Write(msg protocol.Message) {
	select {
	case s.Out <- msg:
	default:
		logrus.Warnf("game: out-channel for %s closed or full, dropped %q frame", s.Name, msg.Type)
	}
}

// WriteError sends an error frame to this player only.
func (s *Subscriber) WriteError(text string) {
	s.Write(protocol.Message{Type: protocol.TypeError, ErrorMessage: text})
}

// StoryGame holds the authoritative state of one Story Chain session. The
// server alone decides turn order, scoring and timing; clients mirror what
// it broadcasts. All exported Handle* methods acquire Mu themselves.
type StoryGame struct {
	ID   uuid.UUID
	Room string

	// TurnOrder is fixed once the game begins and never changes. When the
	// game is seeded from a lobby start it is the lobby's join order;
	// otherwise it is fixed from player_join arrival order.
	TurnOrder []string
	seeded    bool

	// Expected is how many distinct players must join before play begins.
	Expected int

	joined []string
	subs   map[string]*Subscriber

	Story  []StoryEntry
	Scores map[string]int

	Images         []PromptImage
	ImageIndex     int
	turnsThisImage int

	CurrentIndex   int
	TurnID         int // increments each turn; stale timers compare against it
	TurnSeconds    int
	TimeoutPenalty int
	turnTimer      *time.Timer
	actionIndex    int

	Started  bool
	GameOver bool

	// OnGameEnd is invoked, outside the lock, after game_complete has been
	// broadcast.
	OnGameEnd OnGameEndFunc

	// OnEmpty is invoked when the last subscriber detaches, typically to
	// drop the game from its store.
	OnEmpty func(room string)

	Mu sync.Mutex
}

// NewStoryGame builds an idle game for a room with the default prompt
// catalog and timing.
func NewStoryGame(room string) *StoryGame {
	id, _ := uuid.NewRandom()
	return &StoryGame{
		ID:             id,
		Room:           room,
		Expected:       DefaultMinPlayers,
		subs:           make(map[string]*Subscriber),
		Scores:         make(map[string]int),
		Images:         DefaultPromptImages(),
		TurnSeconds:    DefaultTurnSeconds,
		TimeoutPenalty: DefaultTimeoutPenalty,
	}
}

// SeedTurnOrder fixes the rotation ahead of any join, as announced by the
// lobby's game_start. Play begins once every named player has joined.
func (g *StoryGame) SeedTurnOrder(order []string) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Started {
		return
	}
	g.TurnOrder = append([]string(nil), order...)
	g.Expected = len(order)
	g.seeded = true
}

// Attach registers a player's delivery channel, replacing any previous one
// for the same name (reconnect). If the game is already running the new
// connection privately receives the state it missed: roster, current
// prompt, then current turn, in that order.
func (g *StoryGame) Attach(name string, sub *Subscriber) {
	g.Mu.Lock()
	if old, ok := g.subs[name]; ok && old != sub {
		if old.Cancel != nil {
			old.Cancel()
		}
	}
	g.subs[name] = sub

	if g.Started && !g.GameOver {
		sub.Write(protocol.Message{Type: protocol.TypePlayersUpdate, Players: g.rosterUnsafe()})
		sub.Write(g.imageMessageUnsafe())
		sub.Write(protocol.Message{
			Type:       protocol.TypeTurnUpdate,
			NextPlayer: g.TurnOrder[g.CurrentIndex],
			TimeLimit:  g.TurnSeconds,
		})
	}
	g.Mu.Unlock()
}

// Detach removes a player's delivery channel. Seats persist: a joined
// player stays in the rotation and their turns simply time out until they
// reconnect. An idle or finished game with no subscribers left is
// discarded via OnEmpty.
func (g *StoryGame) Detach(name string, sub *Subscriber) {
	g.Mu.Lock()
	if cur, ok := g.subs[name]; ok && cur == sub {
		delete(g.subs, name)
	}
	empty := len(g.subs) == 0
	discard := empty && (!g.Started || g.GameOver)
	if discard && g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}
	onEmpty := g.OnEmpty
	g.Mu.Unlock()

	if discard && onEmpty != nil {
		onEmpty(g.Room)
	}
}

// HandlePlayerJoin records a player_join. Everyone gets the refreshed
// roster; once the expected count has joined, the game begins.
func (g *StoryGame) HandlePlayerJoin(name string) {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	if g.GameOver {
		return
	}
	for _, p := range g.joined {
		if p == name {
			// Rejoin after reconnect; Attach already resynced them.
			return
		}
	}
	g.joined = append(g.joined, name)
	g.Scores[name] = 0
	g.logActionUnsafe(name, "player_join", nil)

	g.broadcastUnsafe(protocol.Message{Type: protocol.TypePlayersUpdate, Players: g.rosterUnsafe()})

	if !g.Started && len(g.joined) >= g.Expected {
		g.beginUnsafe()
	}
}

// beginUnsafe starts play: fixes the turn order, announces the first
// prompt, then the first turn. Lock is held.
func (g *StoryGame) beginUnsafe() {
	g.Started = true
	if !g.seeded {
		g.TurnOrder = append([]string(nil), g.joined...)
	}
	g.CurrentIndex = 0
	g.TurnID = 1
	g.ImageIndex = 0
	g.turnsThisImage = 0
	g.logActionUnsafe("", "game_begin", map[string]interface{}{"turn_order": g.TurnOrder})
	log.Printf("Game %s (room %s): beginning with turn order %v", g.ID, g.Room, g.TurnOrder)

	g.broadcastUnsafe(g.imageMessageUnsafe())
	g.broadcastTurnUnsafe()
	g.scheduleTurnTimerUnsafe()
}

// HandleSubmitSentence processes a submit_sentence frame. The sentence is
// accepted only from the current turn holder and only while the game runs;
// rejected submissions get an error frame back and change nothing.
//
// Accepted flow, in broadcast order: story_update, sentence_evaluation,
// then (possibly) new_image, then turn_update. Clients append before they
// advance, so this ordering is a protocol invariant.
func (g *StoryGame) HandleSubmitSentence(name, text string) {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	sub := g.subs[name]
	reject := func(reason string) {
		if sub != nil {
			sub.WriteError(reason)
		}
	}

	if !g.Started || g.GameOver {
		reject("game is not running")
		return
	}
	if g.TurnOrder[g.CurrentIndex] != name {
		reject("not your turn")
		return
	}
	sentence := normalizeSentence(text)
	if sentence == "" {
		reject("sentence is empty")
		return
	}

	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}

	score := EvaluateSentence(sentence)
	g.Scores[name] += score
	g.Story = append(g.Story, StoryEntry{Player: name, Text: sentence})
	g.logActionUnsafe(name, "submit_sentence", map[string]interface{}{"text": sentence, "score": score})

	g.broadcastUnsafe(protocol.Message{Type: protocol.TypeStoryUpdate, Player: name, Text: sentence})
	g.broadcastUnsafe(protocol.Message{
		Type:     protocol.TypeSentenceEvaluation,
		Sentence: sentence,
		Score:    protocol.IntPtr(score),
	})

	g.advanceRoundUnsafe()
}

// handleTimeoutUnsafe applies the penalty for an expired turn and moves
// on. timeout_event is broadcast before the turn_update that supersedes
// it. Lock is held.
func (g *StoryGame) handleTimeoutUnsafe(name string) {
	g.Scores[name] -= g.TimeoutPenalty
	if g.Scores[name] < 0 {
		g.Scores[name] = 0
	}
	g.logActionUnsafe(name, "turn_timeout", map[string]interface{}{"penalty": g.TimeoutPenalty})
	log.Printf("Game %s (room %s): %s timed out", g.ID, g.Room, name)

	g.broadcastUnsafe(protocol.Message{
		Type:    protocol.TypeTimeoutEvent,
		Player:  name,
		Penalty: g.TimeoutPenalty,
	})
	g.advanceRoundUnsafe()
}

// advanceRoundUnsafe moves the rotation forward one turn, rotating the
// prompt image after every full cycle and ending the game after the last
// image's cycle. Lock is held.
func (g *StoryGame) advanceRoundUnsafe() {
	g.turnsThisImage++
	if g.turnsThisImage >= len(g.TurnOrder) {
		g.turnsThisImage = 0
		g.ImageIndex++
		if g.ImageIndex >= len(g.Images) {
			g.endGameUnsafe()
			return
		}
		g.broadcastUnsafe(g.imageMessageUnsafe())
	}

	g.CurrentIndex = (g.CurrentIndex + 1) % len(g.TurnOrder)
	g.TurnID++
	g.broadcastTurnUnsafe()
	g.scheduleTurnTimerUnsafe()
}

// scheduleTurnTimerUnsafe arms the turn timer for the current player. The
// callback re-checks the turn id so a stale timer that lost a race with a
// submission can never fire a timeout for a finished turn. Lock is held.
func (g *StoryGame) scheduleTurnTimerUnsafe() {
	if g.TurnSeconds <= 0 {
		return
	}
	if g.turnTimer != nil {
		g.turnTimer.Stop()
	}
	name := g.TurnOrder[g.CurrentIndex]
	turnID := g.TurnID
	g.turnTimer = time.AfterFunc(time.Duration(g.TurnSeconds)*time.Second, func() {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		if g.GameOver || !g.Started || g.TurnID != turnID {
			return
		}
		g.handleTimeoutUnsafe(name)
	})
}

// endGameUnsafe freezes state, broadcasts final scores and hands off to
// OnGameEnd. Lock is held.
func (g *StoryGame) endGameUnsafe() {
	if g.GameOver {
		return
	}
	g.GameOver = true
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}

	finalScores := make(map[string]int, len(g.Scores))
	for k, v := range g.Scores {
		finalScores[k] = v
	}
	g.logActionUnsafe("", "game_complete", map[string]interface{}{"scores": finalScores})
	log.Printf("Game %s (room %s): complete, scores %v", g.ID, g.Room, finalScores)

	g.broadcastUnsafe(protocol.Message{Type: protocol.TypeGameComplete, Scores: finalScores})

	if g.OnGameEnd != nil {
		go g.OnGameEnd(g.Room, finalScores)
	}
}

// broadcastTurnUnsafe announces whose turn it is now. Lock is held.
func (g *StoryGame) broadcastTurnUnsafe() {
	g.broadcastUnsafe(protocol.Message{
		Type:       protocol.TypeTurnUpdate,
		NextPlayer: g.TurnOrder[g.CurrentIndex],
		TimeLimit:  g.TurnSeconds,
	})
}

// imageMessageUnsafe builds the new_image frame for the current prompt.
// Lock is held.
func (g *StoryGame) imageMessageUnsafe() protocol.Message {
	img := g.Images[g.ImageIndex]
	return protocol.Message{
		Type:             protocol.TypeNewImage,
		ImageIndex:       protocol.IntPtr(g.ImageIndex),
		TotalImages:      len(g.Images),
		ImageURL:         img.URL,
		ImageDescription: img.Description,
	}
}

// broadcastUnsafe fans msg out to every subscriber. Writes are
// non-blocking channel sends, so holding the lock is safe. Lock is held.
func (g *StoryGame) broadcastUnsafe(msg protocol.Message) {
	for _, sub := range g.subs {
		sub.Write(msg)
	}
}

func (g *StoryGame) rosterUnsafe() []string {
	if g.Started {
		return append([]string(nil), g.TurnOrder...)
	}
	return append([]string(nil), g.joined...)
}

// Transcript returns a copy of the story so far.
func (g *StoryGame) Transcript() []StoryEntry {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return append([]StoryEntry(nil), g.Story...)
}

// CurrentPlayer returns the turn holder, or "" before start / after end.
func (g *StoryGame) CurrentPlayer() string {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if !g.Started || g.GameOver {
		return ""
	}
	return g.TurnOrder[g.CurrentIndex]
}

// logActionUnsafe queues an action record for the external evaluation and
// analytics pipeline. Publishing happens asynchronously; a missing Redis
// connection simply disables the feed. Lock is held.
func (g *StoryGame) logActionUnsafe(actor, actionType string, payload map[string]interface{}) {
	g.actionIndex++
	if payload == nil {
		payload = map[string]interface{}{}
	}
	record := cache.StoryActionRecord{
		GameID:      g.ID,
		Room:        g.Room,
		ActionIndex: g.actionIndex,
		Actor:       actor,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	go func(rec cache.StoryActionRecord) {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishStoryAction(ctx, rec); err != nil {
			log.Printf("Error publishing action %d for game %s: %v", rec.ActionIndex, g.ID, err)
		}
	}(record)
}
