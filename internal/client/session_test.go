// internal/client/session_test.go
package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aralila/storychain/internal/protocol"
)

// stateLog records every snapshot delivered to OnStateChange.
type stateLog struct {
	mu    sync.Mutex
	snaps []GameState
}

func (sl *stateLog) record(snap GameState) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.snaps = append(sl.snaps, snap)
}

func (sl *stateLog) count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.snaps)
}

func (sl *stateLog) last() GameState {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.snaps[len(sl.snaps)-1]
}

func newTestSession(t *testing.T, player string, turnOrder []string, log *stateLog) *SessionCoordinator {
	t.Helper()
	cfg := SessionConfig{
		RoomName:   "SALA",
		PlayerName: player,
		TurnOrder:  turnOrder,
	}
	if log != nil {
		cfg.OnStateChange = log.record
	}
	s, err := NewSessionCoordinator(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSessionSeedsFromTurnOrder(t *testing.T) {
	s := newTestSession(t, "Ana", []string{"Ben", "Ana"}, nil)

	snap := s.Snapshot()
	assert.Equal(t, []string{"Ben", "Ana"}, snap.Players)
	assert.Equal(t, "Ben", snap.CurrentTurn)
	assert.Equal(t, DefaultTotalImages, snap.TotalImages)
	assert.Equal(t, DefaultTurnSeconds, snap.TimeLeft)
	assert.False(t, s.IsMyTurn())
}

func TestStoryAppendsInArrivalOrder(t *testing.T) {
	s := newTestSession(t, "Ana", []string{"Ana", "Ben"}, nil)

	s.handleMessage(protocol.Message{Type: protocol.TypeStoryUpdate, Player: "Ana", Text: "Umaga na sa palengke."})
	s.handleMessage(protocol.Message{
		Type:     protocol.TypeSentenceEvaluation,
		Sentence: "Umaga na sa palengke.",
		Score:    protocol.IntPtr(16),
	})
	s.handleMessage(protocol.Message{Type: protocol.TypeTimeoutEvent, Player: "Ben", Penalty: 5})

	story := s.Snapshot().Story
	require.Len(t, story, 3)
	assert.Equal(t, StoryEntry{Player: "Ana", Text: "Umaga na sa palengke."}, story[0])
	assert.Equal(t, AIAuthor, story[1].Player)
	assert.Equal(t, `Complete sentence: "Umaga na sa palengke." | Score: 16/20`, story[1].Text)
	assert.Equal(t, SystemAuthor, story[2].Player)
	assert.Equal(t, "Ben timed out (-5 pts)", story[2].Text)
}

func TestTurnUpdateSwitchesHolderAndResetsClock(t *testing.T) {
	log := &stateLog{}
	s := newTestSession(t, "Ana", []string{"Ben", "Ana"}, log)

	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ana", TimeLimit: 15})

	snap := s.Snapshot()
	assert.Equal(t, "Ana", snap.CurrentTurn)
	assert.Equal(t, 15, snap.TimeLeft)
	assert.True(t, s.IsMyTurn())
	assert.GreaterOrEqual(t, log.count(), 1)

	// An omitted limit falls back to the default.
	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ben"})
	assert.Equal(t, DefaultTurnSeconds, s.Snapshot().TimeLeft)
	assert.False(t, s.IsMyTurn())
}

func TestCountdownTicksDown(t *testing.T) {
	log := &stateLog{}
	s := newTestSession(t, "Ana", []string{"Ana"}, log)

	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ana", TimeLimit: 2})

	require.Eventually(t, func() bool {
		return s.Snapshot().TimeLeft == 0
	}, 4*time.Second, 50*time.Millisecond)

	// The countdown stops at zero and waits for the server's timeout.
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 0, s.Snapshot().TimeLeft)
	assert.Equal(t, "Ana", s.Snapshot().CurrentTurn)
}

func TestNewImageResetsCountdown(t *testing.T) {
	s := newTestSession(t, "Ana", []string{"Ana", "Ben"}, nil)
	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ben", TimeLimit: 7})
	require.Equal(t, 7, s.Snapshot().TimeLeft)

	s.handleMessage(protocol.Message{
		Type:             protocol.TypeNewImage,
		ImageIndex:       protocol.IntPtr(2),
		TotalImages:      5,
		ImageURL:         "/media/prompts/pista.png",
		ImageDescription: "Pista sa bayan na may mga parol",
	})

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.ImageIndex)
	assert.Equal(t, "/media/prompts/pista.png", snap.ImageURL)
	assert.Equal(t, "Pista sa bayan na may mga parol", snap.ImageDescription)
	assert.Equal(t, DefaultTurnSeconds, snap.TimeLeft, "a fresh prompt restarts the clock")
	assert.Equal(t, "Ben", snap.CurrentTurn, "the turn holder survives the prompt rotation")
}

func TestGameCompleteFreezesState(t *testing.T) {
	log := &stateLog{}
	s := newTestSession(t, "Ana", []string{"Ana", "Ben"}, log)

	s.handleMessage(protocol.Message{Type: protocol.TypeStoryUpdate, Player: "Ana", Text: "Simula."})
	s.handleMessage(protocol.Message{
		Type:   protocol.TypeGameComplete,
		Scores: map[string]int{"Ana": 31, "Ben": 24},
	})

	snap := s.Snapshot()
	require.True(t, snap.GameOver)
	assert.Equal(t, map[string]int{"Ana": 31, "Ben": 24}, snap.Scores)

	before := log.count()
	s.handleMessage(protocol.Message{Type: protocol.TypeStoryUpdate, Player: "Ben", Text: "Huli na."})
	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ben"})
	assert.Equal(t, before, log.count(), "frames after game_complete are dropped")
	assert.Len(t, s.Snapshot().Story, 1)
}

func TestSubmitSentenceGuards(t *testing.T) {
	s := newTestSession(t, "Ana", []string{"Ben", "Ana"}, nil)

	// Not connected and not Ana's turn; none of these may panic or mutate.
	s.SubmitSentence("Hindi pa ako.")
	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ana"})
	s.SubmitSentence("   ")
	s.SubmitSentence("")

	assert.Empty(t, s.Snapshot().Story)
}

func TestCloseStopsCountdown(t *testing.T) {
	log := &stateLog{}
	s := newTestSession(t, "Ana", []string{"Ana"}, log)
	s.handleMessage(protocol.Message{Type: protocol.TypeTurnUpdate, NextPlayer: "Ana", TimeLimit: 30})

	s.Close()
	settled := log.count()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, settled, log.count(), "no ticks arrive after Close")
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestSession(t, "Ana", []string{"Ana", "Ben"}, nil)
	s.handleMessage(protocol.Message{Type: protocol.TypeStoryUpdate, Player: "Ana", Text: "Simula."})

	snap := s.Snapshot()
	snap.Story[0].Text = "binago"
	snap.Players[0] = "iba"
	snap.Scores["Ana"] = 99

	fresh := s.Snapshot()
	assert.Equal(t, "Simula.", fresh.Story[0].Text)
	assert.Equal(t, "Ana", fresh.Players[0])
	assert.Zero(t, fresh.Scores["Ana"])
}

// TestJoinSentWhenOpenBeatsConnect pins the join announcement to the open
// event's own connection. Dial starts the loop before the caller stores
// the returned handle, so an open that wins that race must still send
// player_join rather than latch the join guard with nothing on the wire.
func TestJoinSentWhenOpenBeatsConnect(t *testing.T) {
	received := make(chan protocol.Message, 1)
	_, wsURL := newWSServer(t, func(ctx context.Context, c *websocket.Conn) {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if msg, err := protocol.Decode(data); err == nil {
			received <- msg
		}
		<-ctx.Done()
	})

	s := newTestSession(t, "Ana", []string{"Ana", "Ben"}, nil)

	// Dial without ever assigning the returned handle to the session,
	// the worst case of the startup race.
	conn := Dial(Config{
		URL: wsURL,
		Handlers: Handlers{
			OnOpen:    s.handleOpen,
			OnMessage: s.handleMessage,
		},
	})
	defer conn.Close()

	select {
	case msg := <-received:
		assert.Equal(t, protocol.TypePlayerJoin, msg.Type)
		assert.Equal(t, "Ana", msg.Player)
	case <-time.After(2 * time.Second):
		t.Fatal("player_join never reached the server")
	}
}
