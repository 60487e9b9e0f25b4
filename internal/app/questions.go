package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"duel-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// BankLoader fetches a candidate question pool from a backing store (profile
// service over HTTP, Postgres, etc).
type BankLoader interface {
	LoadPool(ctx context.Context, grade, subjectID, count int) ([]domain.Question, error)
}

// QuestionDrawer implements QuestionSource. Subject-scoped requests go to the
// bank and fail closed when it is empty or unreachable; arbitrary generated
// arithmetic cannot substitute for a specific requested subject. Requests
// without a subject fall back to grade-scaled generated arithmetic.
type QuestionDrawer struct {
	bank  BankLoader
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.Mutex
	rnd   *rand.Rand
	cache map[string]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

// NewQuestionDrawer builds a drawer; bank may be nil, in which case every
// subject-scoped draw returns empty.
func NewQuestionDrawer(bank BankLoader, ttl time.Duration) *QuestionDrawer {
	return &QuestionDrawer{
		bank:  bank,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedPool),
	}
}

func (d *QuestionDrawer) Draw(ctx context.Context, count, grade int, subjectID *int) []domain.Question {
	if subjectID == nil {
		return d.generate(count, grade)
	}

	pool := d.pool(ctx, grade, *subjectID, count)
	eligible := make([]domain.Question, 0, len(pool))
	for _, q := range pool {
		if allowedForGrade(q, grade) {
			eligible = append(eligible, q)
		}
	}
	return d.sample(eligible, count)
}

func allowedForGrade(q domain.Question, grade int) bool {
	if q.Difficulty == grade {
		return true
	}
	for _, g := range q.AllowedGrades {
		if g == grade {
			return true
		}
	}
	return false
}

// pool loads the bank pool with a TTL cache and singleflight so concurrent
// matchmaking for the same grade/subject hits the bank once.
func (d *QuestionDrawer) pool(ctx context.Context, grade, subjectID, count int) []domain.Question {
	if d.bank == nil {
		return nil
	}

	key := fmt.Sprintf("%d:%d", grade, subjectID)
	now := d.clock()

	d.mu.Lock()
	if entry, ok := d.cache[key]; ok && entry.expiresAt.After(now) {
		questions := entry.questions
		d.mu.Unlock()
		return questions
	}
	d.mu.Unlock()

	result, err, _ := d.sf.Do(key, func() (interface{}, error) {
		now := d.clock()
		d.mu.Lock()
		if entry, ok := d.cache[key]; ok && entry.expiresAt.After(now) {
			questions := entry.questions
			d.mu.Unlock()
			return questions, nil
		}
		d.mu.Unlock()

		questions, err := d.bank.LoadPool(ctx, grade, subjectID, count)
		if err != nil {
			return nil, err
		}

		// Compute the expiry before taking the lock; ttlWithJitter locks d.mu
		// for the rnd draw itself.
		expiresAt := now.Add(d.ttlWithJitter())
		d.mu.Lock()
		d.cache[key] = cachedPool{
			questions: questions,
			expiresAt: expiresAt,
		}
		d.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		log.Printf("question bank unavailable for grade=%d subject=%d: %v", grade, subjectID, err)
		return nil
	}
	return result.([]domain.Question)
}

func (d *QuestionDrawer) ttlWithJitter() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(d.ttl) / 10
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}

// sample picks up to count questions without replacement.
func (d *QuestionDrawer) sample(pool []domain.Question, count int) []domain.Question {
	if len(pool) == 0 {
		return nil
	}
	d.mu.Lock()
	perm := d.rnd.Perm(len(pool))
	d.mu.Unlock()

	if count > len(pool) {
		count = len(pool)
	}
	picked := make([]domain.Question, 0, count)
	for _, idx := range perm[:count] {
		picked = append(picked, pool[idx])
	}
	return picked
}

// generate produces arithmetic questions whose operand ranges scale with
// grade: addition/subtraction within 20 for grade 1, within 100 for grade 2,
// and the full four-operation mix with bounded factors from grade 3 up.
func (d *QuestionDrawer) generate(count, grade int) []domain.Question {
	d.mu.Lock()
	defer d.mu.Unlock()

	questions := make([]domain.Question, 0, count)
	for i := 0; i < count; i++ {
		var prompt string
		var answer int

		switch {
		case grade <= 1:
			prompt, answer = d.addSubLocked(20)
		case grade == 2:
			prompt, answer = d.addSubLocked(100)
		default:
			switch d.rnd.Intn(4) {
			case 0, 1:
				prompt, answer = d.addSubLocked(100)
			case 2:
				a := d.rnd.Intn(12) + 1
				b := d.rnd.Intn(12) + 1
				prompt = fmt.Sprintf("%d × %d = ?", a, b)
				answer = a * b
			default:
				quotient := d.rnd.Intn(12) + 1
				divisor := d.rnd.Intn(10) + 1
				prompt = fmt.Sprintf("%d ÷ %d = ?", quotient*divisor, divisor)
				answer = quotient
			}
		}

		questions = append(questions, domain.Question{
			Prompt:     prompt,
			Answer:     domain.LiteralAnswer(strconv.Itoa(answer)),
			Difficulty: grade,
			Generated:  true,
		})
	}
	return questions
}

func (d *QuestionDrawer) addSubLocked(limit int) (string, int) {
	a := d.rnd.Intn(limit) + 1
	b := d.rnd.Intn(limit) + 1
	if d.rnd.Intn(2) == 0 {
		return fmt.Sprintf("%d + %d = ?", a, b), a + b
	}
	if b > a {
		a, b = b, a
	}
	return fmt.Sprintf("%d - %d = ?", a, b), a - b
}
