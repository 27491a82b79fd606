// internal/protocol/protocol_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequiresType(t *testing.T) {
	_, err := Decode([]byte(`{"player":"Ana"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`[1,2,3]`))
	assert.Error(t, err, "a frame must be a JSON object")
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"turn_update","next_player":"Ben","time_limit":20,"future_field":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypeTurnUpdate, msg.Type)
	assert.Equal(t, "Ben", msg.NextPlayer)
	assert.Equal(t, 20, msg.TimeLimit)
}

func TestEncodeOmitsUnusedFields(t *testing.T) {
	data, err := Encode(Message{Type: TypePlayerJoin, Player: "Ana"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_join","player":"Ana"}`, string(data))
}

func TestZeroScoreSurvivesEncoding(t *testing.T) {
	data, err := Encode(Message{
		Type:     TypeSentenceEvaluation,
		Sentence: "aso",
		Score:    IntPtr(0),
	})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Score, "a zero score is data, not absence")
	assert.Equal(t, 0, *msg.Score)
}

func TestErrorFrameUsesMessageKey(t *testing.T) {
	data, err := Encode(Message{Type: TypeError, ErrorMessage: "not your turn"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"not your turn"}`, string(data))
}
