package memory

import (
	"context"
	"sync"
	"time"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
)

const staleAfter = 120 * time.Second

// Queue is the in-memory implementation of app.Matchmaker: a FIFO slice
// guarded by a mutex, suitable for the single-process deployment.
type Queue struct {
	clock func() time.Time

	mu      sync.Mutex
	entries []domain.QueueEntry
}

func NewQueue() *Queue {
	return &Queue{clock: time.Now}
}

// NewQueueWithClock is test-only for deterministic timestamps.
func NewQueueWithClock(now func() time.Time) *Queue {
	return &Queue{clock: now}
}

func (q *Queue) Enqueue(_ context.Context, user domain.UserRef, socketID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeSocketLocked(socketID)
	q.entries = append(q.entries, domain.QueueEntry{
		User:     user,
		SocketID: socketID,
		LastSeen: q.clock(),
	})
}

func (q *Queue) FindMatch(_ context.Context, grade int, subjectID *int, excludeSocketID, excludeUserID string) (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, entry := range q.entries {
		if app.Compatible(entry, grade, subjectID, excludeSocketID, excludeUserID) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry, true
		}
	}
	return domain.QueueEntry{}, false
}

func (q *Queue) Withdraw(_ context.Context, socketID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeSocketLocked(socketID)
}

func (q *Queue) Touch(_ context.Context, socketID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].SocketID == socketID {
			q.entries[i].LastSeen = q.clock()
		}
	}
}

func (q *Queue) Sweep(_ context.Context, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if now.Sub(entry.LastSeen) <= staleAfter {
			kept = append(kept, entry)
		}
	}
	q.entries = kept
}

// Len reports the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) removeSocketLocked(socketID string) {
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if entry.SocketID != socketID {
			kept = append(kept, entry)
		}
	}
	q.entries = kept
}
