// internal/handlers/server_test.go
package handlers

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/aralila/storychain/internal/game"
	"github.com/aralila/storychain/internal/protocol"
)

// TestFinishedGameLeavesStore plays a one-prompt game to completion and
// checks the server reclaims it. Abandoned games finish on timeouts with
// no subscriber left to trigger the empty hook, so the end hook has to
// drop the game itself.
func TestFinishedGameLeavesStore(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	srv := NewStoryServer(logger)

	g := srv.gameForRoom("SALA")
	g.Mu.Lock()
	g.TurnSeconds = 0
	g.Images = g.Images[:1]
	g.Mu.Unlock()

	ana := &game.Subscriber{Name: "Ana", Out: make(chan protocol.Message, 64)}
	ben := &game.Subscriber{Name: "Ben", Out: make(chan protocol.Message, 64)}
	g.Attach("Ana", ana)
	g.Attach("Ben", ben)
	g.HandlePlayerJoin("Ana")
	g.HandlePlayerJoin("Ben")

	g.HandleSubmitSentence(g.CurrentPlayer(), "Umakyat si Ana sa bundok.")
	g.HandleSubmitSentence(g.CurrentPlayer(), "Sumunod si Ben sa kanya.")

	require.Eventually(t, func() bool {
		_, ok := srv.Games.Get("SALA")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "finished game should be dropped from the store")
}
