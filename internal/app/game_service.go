package app

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"duel-quiz-service/internal/domain"
)

const (
	pointsCorrect   = 10
	pointsIncorrect = -5
	momentumStep    = 5
	momentumStart   = 50

	// multiLoginWindow is how recently a player's registered socket must have
	// been seen for a different socket to be rejected as a second login.
	multiLoginWindow = 30 * time.Second

	// finishedRetention keeps finished games around so late reconnect queries
	// can still read the outcome before the sweep drops them.
	finishedRetention = 10 * time.Minute
)

// ResultsReporter pushes a final match outcome to the profile/rating service.
type ResultsReporter interface {
	ReportResults(ctx context.Context, report domain.MatchReport) error
}

// GameService owns all live games and is the only code path that mutates
// them. Every operation runs to completion under one lock, so per-game
// submissions are strictly ordered and never interleave partially.
type GameService struct {
	reporter ResultsReporter
	now      func() time.Time

	mu    sync.RWMutex
	games map[string]*domain.Game
	rnd   *rand.Rand
}

func NewGameService(reporter ResultsReporter) *GameService {
	return &GameService{
		reporter: reporter,
		now:      time.Now,
		games:    make(map[string]*domain.Game),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewGameServiceWithClock is test-only for deterministic timestamps.
func NewGameServiceWithClock(reporter ResultsReporter, now func() time.Time) *GameService {
	s := NewGameService(reporter)
	s.now = now
	return s
}

// PlayerSeed is the data needed to place a user into a fresh game.
type PlayerSeed struct {
	User     domain.UserRef
	SocketID string
}

// CreateGame pairs two players over a freshly drawn question sequence.
func (s *GameService) CreateGame(p1, p2 PlayerSeed, questions []domain.Question) (string, *domain.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newGameIDLocked()
	now := s.now()
	game := &domain.Game{
		ID: id,
		Players: [2]*domain.Player{
			newPlayer(p1, now),
			newPlayer(p2, now),
		},
		Status:    domain.StatusPlaying,
		Questions: append([]domain.Question(nil), questions...),
		Momentum:  momentumStart,
		StartedAt: now,
	}
	s.games[id] = game
	return id, game.Clone()
}

func newPlayer(seed PlayerSeed, now time.Time) *domain.Player {
	return &domain.Player{
		UserID:   seed.User.ID,
		Name:     seed.User.Name,
		Grade:    seed.User.Grade,
		SocketID: seed.SocketID,
		LastSeen: now,
	}
}

// newGameIDLocked generates a short base-36 token and retries on the unlikely
// collision with a live game.
func (s *GameService) newGameIDLocked() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	for {
		buf := make([]byte, 7)
		for i := range buf {
			buf[i] = alphabet[s.rnd.Intn(len(alphabet))]
		}
		id := string(buf)
		if _, exists := s.games[id]; !exists {
			return id
		}
	}
}

// Get returns a snapshot of a game by id.
func (s *GameService) Get(gameID string) (*domain.Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[gameID]
	if !ok {
		return nil, false
	}
	return game.Clone(), true
}

// SubmitAnswer scores one answer for one participant. Correctness is always
// recomputed from the stored question; the client's claimedCorrect hint is
// for UI latency hiding only and never trusted.
//
// The index-ordering contract makes the operation safe against duplicate
// delivery: only questionIndex == answeredCount is scored, a lower index is a
// duplicate of an already-scored question, and a higher index is a skip
// attempt. Rejected submissions return the current state unchanged so the
// client can resynchronize from the response.
func (s *GameService) SubmitAnswer(gameID, userID string, claimedCorrect bool, questionIndex int, rawValue string, elapsedSeconds float64, socketID string) (*domain.Game, bool) {
	s.mu.Lock()
	game, ok := s.games[gameID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if game.Status != domain.StatusPlaying {
		snapshot := game.Clone()
		s.mu.Unlock()
		return snapshot, true
	}

	role, isParticipant := game.RoleOf(userID)
	if !isParticipant {
		snapshot := game.Clone()
		s.mu.Unlock()
		return snapshot, true
	}

	player := game.Players[role.Index()]
	if socketID != "" && player.SocketID != "" && player.SocketID != socketID {
		log.Printf("socket mismatch on submit: user=%s expected=%s got=%s", userID, player.SocketID, socketID)
	}

	effects := s.scoreLocked(game, role, questionIndex, rawValue, elapsedSeconds, claimedCorrect)
	snapshot := game.Clone()
	s.mu.Unlock()

	s.dispatch(effects)
	return snapshot, true
}

func (s *GameService) scoreLocked(game *domain.Game, role domain.Role, questionIndex int, rawValue string, elapsedSeconds float64, claimedCorrect bool) []domain.Effect {
	player := game.Players[role.Index()]

	expected := player.AnsweredCount
	if questionIndex != expected {
		// Higher index: skip attempt. Lower index: duplicate or late retry of
		// an already-scored question. Neither mutates anything.
		return nil
	}
	if questionIndex >= len(game.Questions) {
		return nil
	}

	question := game.Questions[questionIndex]
	correct := question.Answer.Matches(rawValue, question.Options)
	if correct != claimedCorrect {
		log.Printf("client correctness hint ignored: game=%s user=%s q=%d claimed=%v server=%v",
			game.ID, player.UserID, questionIndex, claimedCorrect, correct)
	}

	if correct {
		player.Score += pointsCorrect
		player.CorrectCount++
	} else {
		player.Score += pointsIncorrect
	}
	player.AnsweredCount++
	player.LastSeen = s.now()

	// Correct answers pull the rope toward the answerer, incorrect ones give
	// ground to the opponent. Player1's side is the high end.
	delta := momentumStep
	if role == domain.RolePlayer2 {
		delta = -delta
	}
	if !correct {
		delta = -delta
	}
	game.Momentum = clampMomentum(game.Momentum + delta)

	game.AnswerLog[role.Index()] = append(game.AnswerLog[role.Index()], domain.AnswerRecord{
		Correct:        correct,
		RawValue:       rawValue,
		ElapsedSeconds: elapsedSeconds,
	})

	total := len(game.Questions)
	for _, p := range game.Players {
		if p.AnsweredCount >= total && p.FinishedAt == nil {
			t := s.now()
			p.FinishedAt = &t
		}
	}

	if game.Players[0].AnsweredCount >= total && game.Players[1].AnsweredCount >= total {
		return s.finishLocked(game)
	}
	return nil
}

// finishLocked settles the winner and emits the report effect. The status
// check in every caller guarantees it runs at most once per game.
func (s *GameService) finishLocked(game *domain.Game) []domain.Effect {
	game.Status = domain.StatusFinished
	game.EndedAt = s.now()

	p1, p2 := game.Players[0], game.Players[1]
	switch {
	case p1.Score > p2.Score:
		game.Winner = p1.UserID
	case p2.Score > p1.Score:
		game.Winner = p2.UserID
	default:
		game.Winner = domain.WinnerDraw
	}
	return []domain.Effect{{Report: buildReport(game)}}
}

func buildReport(game *domain.Game) *domain.MatchReport {
	p1, p2 := game.Players[0], game.Players[1]
	report := &domain.MatchReport{
		Player1ID: p1.UserID,
		Player2ID: p2.UserID,
		WinnerID:  game.Winner,
		IsDraw:    game.Winner == domain.WinnerDraw,
		P1Score:   p1.Score,
		P2Score:   p2.Score,
	}
	if !report.IsDraw {
		if game.Winner == p1.UserID {
			report.LoserID = p2.UserID
		} else {
			report.LoserID = p1.UserID
		}
	}
	return report
}

// Forfeit terminates a playing game in favor of the participant who did not
// drop. No-op once finished.
func (s *GameService) Forfeit(gameID, droppedSocketID string) (*domain.Game, bool) {
	s.mu.Lock()
	game, ok := s.games[gameID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	effects := s.forfeitLocked(game, droppedSocketID)
	snapshot := game.Clone()
	s.mu.Unlock()

	s.dispatch(effects)
	return snapshot, true
}

// ForfeitBySocket forfeits whichever playing game the socket participates in.
// This is the transport-disconnect path: a drop is a normal state transition,
// not an error.
func (s *GameService) ForfeitBySocket(socketID string) (*domain.Game, bool) {
	s.mu.Lock()
	var target *domain.Game
	for _, game := range s.games {
		if game.Status != domain.StatusPlaying {
			continue
		}
		if game.Players[0].SocketID == socketID || game.Players[1].SocketID == socketID {
			target = game
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return nil, false
	}
	effects := s.forfeitLocked(target, socketID)
	snapshot := target.Clone()
	s.mu.Unlock()

	s.dispatch(effects)
	return snapshot, true
}

func (s *GameService) forfeitLocked(game *domain.Game, droppedSocketID string) []domain.Effect {
	if game.Status != domain.StatusPlaying {
		return nil
	}
	game.Status = domain.StatusFinished
	game.EndedAt = s.now()
	if game.Players[0].SocketID == droppedSocketID {
		game.Winner = game.Players[1].UserID
	} else {
		game.Winner = game.Players[0].UserID
	}
	return []domain.Effect{{Report: buildReport(game)}}
}

// Reconnect rebinds a participant's socket after a page reload so they resume
// receiving broadcasts. Score and state are untouched.
func (s *GameService) Reconnect(gameID, userID, socketID string) (*domain.Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return nil, false
	}
	role, isParticipant := game.RoleOf(userID)
	if !isParticipant {
		return game.Clone(), true
	}
	player := game.Players[role.Index()]
	player.SocketID = socketID
	player.LastSeen = s.now()
	return game.Clone(), true
}

// Resume finds the playing game a user already belongs to, guarding against a
// second device taking over a socket that was seen recently.
func (s *GameService) Resume(userID, socketID string) (string, *domain.Game, domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, game := range s.games {
		if game.Status == domain.StatusFinished {
			continue
		}
		role, ok := game.RoleOf(userID)
		if !ok {
			continue
		}
		player := game.Players[role.Index()]
		if player.SocketID != "" && player.SocketID != socketID && s.now().Sub(player.LastSeen) < multiLoginWindow {
			return "", nil, "", domain.ErrAccountInUse
		}
		player.SocketID = socketID
		player.LastSeen = s.now()
		return id, game.Clone(), role, nil
	}
	return "", nil, "", domain.ErrGameNotFound
}

// TouchHeartbeat refreshes LastSeen on whichever playing game owns the socket.
func (s *GameService) TouchHeartbeat(socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, game := range s.games {
		if game.Status != domain.StatusPlaying {
			continue
		}
		for _, player := range game.Players {
			if player.SocketID == socketID {
				player.LastSeen = now
			}
		}
	}
}

// Sweep drops finished games past the retention window. Playing games are
// never idle-reaped here; termination of a live game only happens through an
// explicit forfeit or both players finishing.
func (s *GameService) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, game := range s.games {
		if game.Status == domain.StatusFinished && now.Sub(game.EndedAt) > finishedRetention {
			delete(s.games, id)
		}
	}
}

// dispatch runs pending effects outside the lock, fire-and-forget. Reporting
// failure never rolls back the already-settled in-memory outcome.
func (s *GameService) dispatch(effects []domain.Effect) {
	for _, effect := range effects {
		if effect.Report == nil {
			continue
		}
		report := *effect.Report
		go func() {
			if s.reporter == nil {
				log.Printf("no results reporter configured, dropping report for %s vs %s", report.Player1ID, report.Player2ID)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.reporter.ReportResults(ctx, report); err != nil {
				log.Printf("failed to report results: %v", err)
			}
		}()
	}
}

func clampMomentum(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
