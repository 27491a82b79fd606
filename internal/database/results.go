// internal/database/results.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aralila/storychain/internal/game"
)

// RecordGameResults persists a finished session: one row per game with the
// full transcript, one row per player with their final score. Both upsert
// so a replayed end event cannot duplicate rows.
func RecordGameResults(ctx context.Context, gameID uuid.UUID, room string, story []game.StoryEntry, scores map[string]int) error {
	transcript, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertGame := `
			INSERT INTO story_games (id, room, status, transcript)
			VALUES ($1, $2, 'completed', $3)
			ON CONFLICT (id) DO UPDATE SET status = 'completed', transcript = $3
		`
		if _, e := tx.Exec(ctx, upsertGame, gameID, room, transcript); e != nil {
			return e
		}

		for player, score := range scores {
			q := `
				INSERT INTO story_game_results (game_id, player_name, score)
				VALUES ($1, $2, $3)
				ON CONFLICT (game_id, player_name)
				DO UPDATE SET score = $3
			`
			if _, e := tx.Exec(ctx, q, gameID, player, score); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx upsert game results: %w", err)
	}
	return nil
}
