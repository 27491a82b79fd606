// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup;
// a nil Rdb disables the action feed entirely.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) the story action feed pushes
// to. The external evaluation/analytics service consumes it.
var DefaultQueueName = "storychain_actions"

// StoryActionRecord is one entry of the action feed: joins, submitted
// sentences with their live score, timeouts and game completion.
type StoryActionRecord struct {
	GameID      uuid.UUID              `json:"game_id"`
	Room        string                 `json:"room"`
	ActionIndex int                    `json:"action_index"`
	Actor       string                 `json:"actor"`
	ActionType  string                 `json:"action_type"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment
// variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishStoryAction serializes the record and pushes it to the queue. The
// push is a quick network send; callers wanting full detachment wrap it in
// a goroutine.
func PublishStoryAction(ctx context.Context, record StoryActionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal StoryActionRecord: %w", err)
	}

	queueName := getEnv("STORY_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
