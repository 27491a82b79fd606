// internal/lobby/room_test.go
package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aralila/storychain/internal/protocol"
)

func newTestConn(name string) *PlayerConn {
	return &PlayerConn{
		Name:    name,
		OutChan: make(chan protocol.Message, 32),
	}
}

// framesOf drains a player's out-channel.
func framesOf(c *PlayerConn) []protocol.Message {
	var out []protocol.Message
	for {
		select {
		case msg := <-c.OutChan:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SALA", NormalizeCode("  sala "))
	assert.Equal(t, "SALA", NormalizeCode("Sala"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestAddPlayerSendsListThenBroadcastsJoin(t *testing.T) {
	r := NewRoom("SALA", 3)

	ana := newTestConn("Ana")
	require.NoError(t, r.AddPlayer(ana))

	frames := framesOf(ana)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.TypePlayerList, frames[0].Type, "the joiner privately gets the list first")
	assert.Equal(t, []string{"Ana"}, frames[0].Players)
	assert.Equal(t, 3, frames[0].MaxPlayers)
	assert.Equal(t, protocol.TypePlayerJoined, frames[1].Type)
	assert.Equal(t, "Ana", frames[1].Player)

	ben := newTestConn("Ben")
	require.NoError(t, r.AddPlayer(ben))

	anaFrames := framesOf(ana)
	require.Len(t, anaFrames, 1, "existing members see only the join broadcast")
	assert.Equal(t, protocol.TypePlayerJoined, anaFrames[0].Type)
	assert.Equal(t, "Ben", anaFrames[0].Player)
	assert.Equal(t, []string{"Ana", "Ben"}, anaFrames[0].Players)

	benFrames := framesOf(ben)
	require.Len(t, benFrames, 2)
	assert.Equal(t, []string{"Ana", "Ben"}, benFrames[0].Players, "the private list reflects everyone already in")
}

func TestAddPlayerRejectsDuplicateName(t *testing.T) {
	r := NewRoom("SALA", 3)
	require.NoError(t, r.AddPlayer(newTestConn("Ana")))

	err := r.AddPlayer(newTestConn("Ana"))
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, []string{"Ana"}, r.Players())
}

func TestRoomFillTriggersStart(t *testing.T) {
	r := NewRoom("SALA", 2)

	var startedOrder []string
	r.OnStart = func(room *Room, turnOrder []string) {
		startedOrder = append([]string(nil), turnOrder...)
	}

	ana := newTestConn("Ana")
	ben := newTestConn("Ben")
	require.NoError(t, r.AddPlayer(ana))
	require.NoError(t, r.AddPlayer(ben))

	assert.True(t, r.Started)
	assert.Equal(t, []string{"Ana", "Ben"}, startedOrder, "join order becomes the turn order")

	frames := framesOf(ana)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, protocol.TypeGameStart, last.Type)
	assert.Equal(t, []string{"Ana", "Ben"}, last.TurnOrder)

	err := r.AddPlayer(newTestConn("Cora"))
	assert.ErrorIs(t, err, ErrRoomStarted)
}

func TestAddPlayerRejectsWhenFullWithoutStart(t *testing.T) {
	// Filling a room normally flips Started, so the full check is a
	// separate guard; exercise it against a hand-built state.
	r := NewRoom("SALA", 1)
	r.players = []string{"Ana"}
	r.conns["Ana"] = newTestConn("Ana")

	err := r.AddPlayer(newTestConn("Ben"))
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestRemovePlayerBroadcastsAndFiresOnEmpty(t *testing.T) {
	r := NewRoom("SALA", 3)
	var emptied []string
	r.OnEmpty = func(code string) { emptied = append(emptied, code) }

	ana := newTestConn("Ana")
	ben := newTestConn("Ben")
	require.NoError(t, r.AddPlayer(ana))
	require.NoError(t, r.AddPlayer(ben))
	framesOf(ana)
	framesOf(ben)

	cancelled := false
	ana.Cancel = func() { cancelled = true }
	r.RemovePlayer("Ana")

	assert.True(t, cancelled)
	frames := framesOf(ben)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypePlayerLeft, frames[0].Type)
	assert.Equal(t, "Ana", frames[0].Player)
	assert.Equal(t, []string{"Ben"}, frames[0].Players)
	assert.Empty(t, emptied)

	r.RemovePlayer("Ben")
	assert.Equal(t, []string{"SALA"}, emptied)

	r.RemovePlayer("Ben") // already gone, must be a no-op
	assert.Len(t, emptied, 1)
}

func TestNewRoomDefaultsCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxPlayers, NewRoom("SALA", 0).MaxPlayers)
	assert.Equal(t, DefaultMaxPlayers, NewRoom("SALA", -2).MaxPlayers)
	assert.Equal(t, 5, NewRoom("SALA", 5).MaxPlayers)
}

func TestRoomStoreHintOnlyAtCreation(t *testing.T) {
	s := NewRoomStore()

	r1, created := s.GetOrCreate("sala", 4)
	assert.True(t, created)
	assert.Equal(t, "SALA", r1.Code)
	assert.Equal(t, 4, r1.MaxPlayers)

	r2, created := s.GetOrCreate("SALA", 9)
	assert.False(t, created)
	assert.Same(t, r1, r2, "codes are case-insensitive")
	assert.Equal(t, 4, r2.MaxPlayers, "later hints never change a stored capacity")
}

func TestRoomStoreDeleteOnEmpty(t *testing.T) {
	s := NewRoomStore()
	r, _ := s.GetOrCreate("SALA", 2)

	ana := newTestConn("Ana")
	require.NoError(t, r.AddPlayer(ana))
	r.RemovePlayer("Ana")

	_, ok := s.Get("SALA")
	assert.False(t, ok, "a drained room leaves the store")
}
