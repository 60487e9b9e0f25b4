package memory

import (
	"context"
	"testing"
	"time"

	"duel-quiz-service/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestFindMatchIsFIFOWithSubjectCompatibility(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5, SubjectID: intPtr(1)}, "s1") // math
	q.Enqueue(ctx, domain.UserRef{ID: "u2", Grade: 5}, "s2")                       // wildcard
	q.Enqueue(ctx, domain.UserRef{ID: "u3", Grade: 5, SubjectID: intPtr(2)}, "s3") // physics

	// A math searcher gets the earlier math entry, not the wildcard.
	entry, ok := q.FindMatch(ctx, 5, intPtr(1), "s9", "u9")
	if !ok || entry.User.ID != "u1" {
		t.Fatalf("expected u1 first, got %+v ok=%v", entry, ok)
	}

	// A wildcard searcher takes the earliest remaining entry regardless of
	// its subject.
	entry, ok = q.FindMatch(ctx, 5, nil, "s9", "u9")
	if !ok || entry.User.ID != "u2" {
		t.Fatalf("expected u2 next, got %+v ok=%v", entry, ok)
	}
	entry, ok = q.FindMatch(ctx, 5, nil, "s9", "u9")
	if !ok || entry.User.ID != "u3" {
		t.Fatalf("expected u3 last, got %+v ok=%v", entry, ok)
	}

	if _, ok := q.FindMatch(ctx, 5, nil, "s9", "u9"); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestFindMatchExcludesSelfAndGrade(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5}, "s1")

	if _, ok := q.FindMatch(ctx, 5, nil, "s1", "other"); ok {
		t.Fatalf("must not match own socket")
	}
	if _, ok := q.FindMatch(ctx, 5, nil, "other", "u1"); ok {
		t.Fatalf("must not match own user id across sockets")
	}
	if _, ok := q.FindMatch(ctx, 6, nil, "s9", "u9"); ok {
		t.Fatalf("must not match a different grade")
	}
}

func TestEnqueueReplacesExistingSocketEntry(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5}, "s1")
	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 6}, "s1")

	if q.Len() != 1 {
		t.Fatalf("expected single entry after re-enqueue, got %d", q.Len())
	}
	if _, ok := q.FindMatch(ctx, 5, nil, "s9", "u9"); ok {
		t.Fatalf("stale grade-5 entry should be gone")
	}
	if _, ok := q.FindMatch(ctx, 6, nil, "s9", "u9"); !ok {
		t.Fatalf("fresh grade-6 entry should match")
	}
}

func TestWithdrawIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5}, "s1")

	q.Withdraw(ctx, "s1")
	q.Withdraw(ctx, "s1")
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueueWithClock(func() time.Time { return current })

	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5}, "s1")
	current = current.Add(60 * time.Second)
	q.Enqueue(ctx, domain.UserRef{ID: "u2", Grade: 5}, "s2")

	// u1 is 121s old, u2 only 61s.
	q.Sweep(ctx, current.Add(61*time.Second))
	if q.Len() != 1 {
		t.Fatalf("expected one survivor, got %d", q.Len())
	}
	if _, ok := q.FindMatch(ctx, 5, nil, "s9", "u9"); !ok {
		t.Fatalf("expected u2 still queued")
	}
}

func TestTouchKeepsEntryAlive(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueueWithClock(func() time.Time { return current })

	q.Enqueue(ctx, domain.UserRef{ID: "u1", Grade: 5}, "s1")
	current = current.Add(100 * time.Second)
	q.Touch(ctx, "s1")

	q.Sweep(ctx, current.Add(100*time.Second))
	if q.Len() != 1 {
		t.Fatalf("expected touched entry to survive")
	}
}
