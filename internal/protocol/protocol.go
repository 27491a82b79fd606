// internal/protocol/protocol.go
package protocol

import "encoding/json"

// Message kinds delivered on the lobby channel.
const (
	TypePlayerList   = "player_list"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypeGameStart    = "game_start"
)

// Message kinds delivered on the game channel.
const (
	TypePlayersUpdate      = "players_update"
	TypeStoryUpdate        = "story_update"
	TypeTurnUpdate         = "turn_update"
	TypeTimeoutEvent       = "timeout_event"
	TypeSentenceEvaluation = "sentence_evaluation"
	TypeNewImage           = "new_image"
	TypeGameComplete       = "game_complete"
	TypeError              = "error"
)

// Message kinds sent by the client on the game channel.
const (
	TypePlayerJoin     = "player_join"
	TypeSubmitSentence = "submit_sentence"
)

// Message is the single frame shape exchanged on both channels. Every frame
// carries a Type discriminator; the remaining fields are populated per kind
// as enumerated above and omitted otherwise.
type Message struct {
	Type string `json:"type"`

	// Lobby membership frames (player_list, player_joined, player_left) and
	// players_update. Players is the full membership in join order; the
	// server resends the complete list on every change.
	Player     string   `json:"player,omitempty"`
	Players    []string `json:"players,omitempty"`
	MaxPlayers int      `json:"max_players,omitempty"`

	// game_start carries the turn rotation, fixed for the session.
	TurnOrder []string `json:"turn_order,omitempty"`

	// story_update and submit_sentence.
	Text string `json:"text,omitempty"`

	// turn_update.
	NextPlayer string `json:"next_player,omitempty"`
	TimeLimit  int    `json:"time_limit,omitempty"`

	// timeout_event.
	Penalty int `json:"penalty,omitempty"`

	// sentence_evaluation. Score uses a pointer so a legitimate zero
	// survives the round trip.
	Sentence string `json:"sentence,omitempty"`
	Score    *int   `json:"score,omitempty"`

	// new_image.
	ImageIndex       *int   `json:"image_index,omitempty"`
	TotalImages      int    `json:"total_images,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
	ImageDescription string `json:"image_description,omitempty"`

	// game_complete.
	Scores map[string]int `json:"scores,omitempty"`

	// error.
	ErrorMessage string `json:"message,omitempty"`
}

// Encode marshals m to its wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame. A frame that is not a JSON object, or that lacks a
// type discriminator, is rejected so callers can drop it.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// IntPtr is a convenience for the pointer-typed optional fields.
func IntPtr(v int) *int { return &v }
