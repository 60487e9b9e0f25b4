package app_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
)

type staticBank struct {
	calls int
	pool  []domain.Question
	err   error
}

func (b *staticBank) LoadPool(context.Context, int, int, int) ([]domain.Question, error) {
	b.calls++
	return b.pool, b.err
}

func TestGeneratedQuestionsScaleWithGrade(t *testing.T) {
	drawer := app.NewQuestionDrawer(nil, 0)
	ctx := context.Background()

	grade1 := drawer.Draw(ctx, 20, 1, nil)
	if len(grade1) != 20 {
		t.Fatalf("expected 20 questions, got %d", len(grade1))
	}
	for _, q := range grade1 {
		if strings.ContainsAny(q.Prompt, "×÷") {
			t.Fatalf("grade 1 must only add/subtract, got %q", q.Prompt)
		}
		if !q.Generated {
			t.Fatalf("expected generated flag")
		}
		answer, err := strconv.Atoi(q.Answer.Literal)
		if err != nil {
			t.Fatalf("expected numeric answer, got %q", q.Answer.Literal)
		}
		if answer < 0 || answer > 40 {
			t.Fatalf("grade 1 answer out of range: %d from %q", answer, q.Prompt)
		}
	}

	grade5 := drawer.Draw(ctx, 50, 5, nil)
	if len(grade5) != 50 {
		t.Fatalf("expected 50 questions, got %d", len(grade5))
	}
}

func TestGeneratedAnswersAreSelfConsistent(t *testing.T) {
	drawer := app.NewQuestionDrawer(nil, 0)
	for _, q := range drawer.Draw(context.Background(), 30, 3, nil) {
		if !q.Answer.Matches(q.Answer.Literal, nil) {
			t.Fatalf("answer key does not match itself: %+v", q)
		}
	}
}

func TestSubjectDrawSamplesWithoutReplacement(t *testing.T) {
	pool := make([]domain.Question, 0, 6)
	for i := 0; i < 6; i++ {
		pool = append(pool, domain.Question{
			ID:         strconv.Itoa(i),
			Prompt:     "q" + strconv.Itoa(i),
			Answer:     domain.LiteralAnswer("1"),
			Difficulty: 5,
		})
	}
	drawer := app.NewQuestionDrawer(&staticBank{pool: pool}, time.Minute)

	picked := drawer.Draw(context.Background(), 4, 5, intPtr(7))
	if len(picked) != 4 {
		t.Fatalf("expected 4 questions, got %d", len(picked))
	}
	seen := map[string]bool{}
	for _, q := range picked {
		if seen[q.ID] {
			t.Fatalf("question %s drawn twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSubjectDrawFiltersByGrade(t *testing.T) {
	pool := []domain.Question{
		{ID: "a", Answer: domain.LiteralAnswer("1"), Difficulty: 5},
		{ID: "b", Answer: domain.LiteralAnswer("1"), Difficulty: 4, AllowedGrades: []int{5}},
		{ID: "c", Answer: domain.LiteralAnswer("1"), Difficulty: 3},
	}
	drawer := app.NewQuestionDrawer(&staticBank{pool: pool}, time.Minute)

	picked := drawer.Draw(context.Background(), 10, 5, intPtr(7))
	if len(picked) != 2 {
		t.Fatalf("expected 2 eligible questions, got %d", len(picked))
	}
	for _, q := range picked {
		if q.ID == "c" {
			t.Fatalf("grade-3 question must be filtered out")
		}
	}
}

func TestSubjectDrawFailsClosed(t *testing.T) {
	// No bank configured at all.
	drawer := app.NewQuestionDrawer(nil, time.Minute)
	if got := drawer.Draw(context.Background(), 10, 5, intPtr(7)); len(got) != 0 {
		t.Fatalf("expected empty draw without a bank, got %d", len(got))
	}

	// Bank unreachable: empty, never generated substitutes.
	drawer = app.NewQuestionDrawer(&staticBank{err: context.DeadlineExceeded}, time.Minute)
	if got := drawer.Draw(context.Background(), 10, 5, intPtr(7)); len(got) != 0 {
		t.Fatalf("expected empty draw on bank failure, got %d", len(got))
	}
}

func TestSubjectDrawWithTTLReturnsBankQuestion(t *testing.T) {
	bank := &staticBank{pool: []domain.Question{{ID: "a", Answer: domain.LiteralAnswer("1"), Difficulty: 5}}}
	drawer := app.NewQuestionDrawer(bank, time.Minute)

	picked := drawer.Draw(context.Background(), 1, 5, intPtr(7))
	if len(picked) != 1 || picked[0].ID != "a" {
		t.Fatalf("expected the bank question back, got %+v", picked)
	}

	// The generated path shares the drawer state and must stay responsive
	// after a bank load populated the cache.
	if generated := drawer.Draw(context.Background(), 3, 5, nil); len(generated) != 3 {
		t.Fatalf("expected 3 generated questions, got %d", len(generated))
	}
}

func TestBankPoolCached(t *testing.T) {
	bank := &staticBank{pool: []domain.Question{{ID: "a", Answer: domain.LiteralAnswer("1"), Difficulty: 5}}}
	drawer := app.NewQuestionDrawer(bank, time.Minute)
	ctx := context.Background()

	drawer.Draw(ctx, 1, 5, intPtr(7))
	drawer.Draw(ctx, 1, 5, intPtr(7))
	if bank.calls != 1 {
		t.Fatalf("expected single bank load, got %d", bank.calls)
	}

	// A different subject is a different pool.
	drawer.Draw(ctx, 1, 5, intPtr(8))
	if bank.calls != 2 {
		t.Fatalf("expected second load for new subject, got %d", bank.calls)
	}
}
