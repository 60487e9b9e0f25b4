package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey   = "game_queue"
	staleAfter = 120 * time.Second
)

// Queue is the Redis-backed implementation of app.Matchmaker. Entries live
// as JSON in a single list so the queue can outlive one process; game state
// never leaves the process, only the queue scales out this way.
//
// Redis failures degrade to empty results: matchmaking is retried by clients
// every couple of seconds, so a missed pass is invisible.
type Queue struct {
	client *redis.Client
	clock  func() time.Time
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client, clock: time.Now}
}

// NewQueueWithClock is test-only for deterministic timestamps.
func NewQueueWithClock(client *redis.Client, now func() time.Time) *Queue {
	return &Queue{client: client, clock: now}
}

func (q *Queue) Enqueue(ctx context.Context, user domain.UserRef, socketID string) {
	q.Withdraw(ctx, socketID)
	entry := domain.QueueEntry{User: user, SocketID: socketID, LastSeen: q.clock()}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Printf("queue: marshal entry: %v", err)
		return
	}
	if err := q.client.RPush(ctx, queueKey, raw).Err(); err != nil {
		log.Printf("queue: rpush: %v", err)
	}
}

func (q *Queue) FindMatch(ctx context.Context, grade int, subjectID *int, excludeSocketID, excludeUserID string) (domain.QueueEntry, bool) {
	list, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		log.Printf("queue: lrange: %v", err)
		return domain.QueueEntry{}, false
	}
	for _, raw := range list {
		var entry domain.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Malformed entries are skipped here and dropped by Sweep.
			continue
		}
		if app.Compatible(entry, grade, subjectID, excludeSocketID, excludeUserID) {
			if err := q.client.LRem(ctx, queueKey, 1, raw).Err(); err != nil {
				log.Printf("queue: lrem: %v", err)
				return domain.QueueEntry{}, false
			}
			return entry, true
		}
	}
	return domain.QueueEntry{}, false
}

func (q *Queue) Withdraw(ctx context.Context, socketID string) {
	list, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		log.Printf("queue: lrange: %v", err)
		return
	}
	for _, raw := range list {
		var entry domain.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.SocketID == socketID {
			if err := q.client.LRem(ctx, queueKey, 0, raw).Err(); err != nil {
				log.Printf("queue: lrem: %v", err)
			}
		}
	}
}

func (q *Queue) Touch(ctx context.Context, socketID string) {
	list, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		log.Printf("queue: lrange: %v", err)
		return
	}
	for i, raw := range list {
		var entry domain.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.SocketID == socketID {
			entry.LastSeen = q.clock()
			updated, err := json.Marshal(entry)
			if err != nil {
				return
			}
			if err := q.client.LSet(ctx, queueKey, int64(i), updated).Err(); err != nil {
				log.Printf("queue: lset: %v", err)
			}
			return
		}
	}
}

func (q *Queue) Sweep(ctx context.Context, now time.Time) {
	list, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		log.Printf("queue: lrange: %v", err)
		return
	}
	for _, raw := range list {
		var entry domain.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Corrupt data gets removed outright.
			_ = q.client.LRem(ctx, queueKey, 0, raw).Err()
			continue
		}
		if now.Sub(entry.LastSeen) > staleAfter {
			if err := q.client.LRem(ctx, queueKey, 0, raw).Err(); err != nil {
				log.Printf("queue: lrem: %v", err)
			}
		}
	}
}
