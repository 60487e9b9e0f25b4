package app

import (
	"context"
	"time"

	"duel-quiz-service/internal/domain"
)

// Matchmaker abstracts the waiting-player queue (in-memory, Redis, etc).
// Matchmaking is best-effort and continuously retried by clients, so every
// operation fails into an empty result instead of an error.
type Matchmaker interface {
	// Enqueue removes any prior entry for the socket, then appends a fresh one.
	Enqueue(ctx context.Context, user domain.UserRef, socketID string)
	// FindMatch removes and returns the first compatible entry in FIFO order.
	FindMatch(ctx context.Context, grade int, subjectID *int, excludeSocketID, excludeUserID string) (domain.QueueEntry, bool)
	// Withdraw removes all entries bound to the socket.
	Withdraw(ctx context.Context, socketID string)
	// Touch refreshes the heartbeat timestamp of the socket's entry.
	Touch(ctx context.Context, socketID string)
	// Sweep evicts entries whose heartbeat went stale.
	Sweep(ctx context.Context, now time.Time)
}

// QuestionSource supplies the question sequence for a new game.
type QuestionSource interface {
	Draw(ctx context.Context, count, grade int, subjectID *int) []domain.Question
}

// Compatible implements the queue matching rule shared by all Matchmaker
// implementations: same grade, not the searcher themselves, and subjects
// compatible (an unset subject on either side is a wildcard).
func Compatible(entry domain.QueueEntry, grade int, subjectID *int, excludeSocketID, excludeUserID string) bool {
	if entry.User.Grade != grade {
		return false
	}
	if entry.SocketID == excludeSocketID || entry.User.ID == excludeUserID {
		return false
	}
	if subjectID == nil || entry.User.SubjectID == nil {
		return true
	}
	return *entry.User.SubjectID == *subjectID
}

// MatchService orchestrates matchmaking, challenges and maintenance around
// the game state machine.
type MatchService struct {
	queue         Matchmaker
	questions     QuestionSource
	games         *GameService
	presence      *Presence
	questionCount int
}

func NewMatchService(queue Matchmaker, questions QuestionSource, games *GameService, presence *Presence, questionCount int) *MatchService {
	if questionCount <= 0 {
		questionCount = 10
	}
	return &MatchService{
		queue:         queue,
		questions:     questions,
		games:         games,
		presence:      presence,
		questionCount: questionCount,
	}
}

// MatchOutcome is the result of one matchmaking attempt.
type MatchOutcome struct {
	Status           string       `json:"status"` // "matched" or "waiting"
	GameID           string       `json:"gameId,omitempty"`
	Game             *domain.Game `json:"game,omitempty"`
	Role             domain.Role  `json:"yourRole,omitempty"`
	OpponentSocketID string       `json:"-"`
}

// FindMatch pairs the searcher with the earliest compatible waiting player,
// resumes their existing game if someone else already matched them, or
// enqueues them to wait. Returns domain.ErrAccountInUse when the account is
// live on another socket, and domain.ErrNoQuestions when a subject-scoped
// request has no available questions.
func (m *MatchService) FindMatch(ctx context.Context, user domain.UserRef, socketID string) (MatchOutcome, error) {
	entry, found := m.queue.FindMatch(ctx, user.Grade, user.SubjectID, socketID, user.ID)
	if found {
		questions := m.questions.Draw(ctx, m.questionCount, user.Grade, user.SubjectID)
		if len(questions) == 0 {
			// Fail closed for subject-scoped requests: put the opponent back
			// rather than starting an unplayable game.
			m.queue.Enqueue(ctx, entry.User, entry.SocketID)
			return MatchOutcome{}, domain.ErrNoQuestions
		}
		id, game := m.games.CreateGame(
			PlayerSeed{User: user, SocketID: socketID},
			PlayerSeed{User: entry.User, SocketID: entry.SocketID},
			questions,
		)
		return MatchOutcome{
			Status:           "matched",
			GameID:           id,
			Game:             game,
			Role:             domain.RolePlayer1,
			OpponentSocketID: entry.SocketID,
		}, nil
	}

	// The searcher may already be in a game, matched by someone else while
	// they were polling.
	if id, game, role, err := m.games.Resume(user.ID, socketID); err == nil {
		opponent := game.Players[role.Opponent().Index()]
		return MatchOutcome{
			Status:           "matched",
			GameID:           id,
			Game:             game,
			Role:             role,
			OpponentSocketID: opponent.SocketID,
		}, nil
	} else if err == domain.ErrAccountInUse {
		return MatchOutcome{}, err
	}

	m.queue.Enqueue(ctx, user, socketID)
	return MatchOutcome{Status: "waiting"}, nil
}

// Leave withdraws the socket from the queue and, when a game id is given,
// forfeits that game.
func (m *MatchService) Leave(ctx context.Context, socketID, gameID string) (*domain.Game, bool) {
	m.queue.Withdraw(ctx, socketID)
	if gameID == "" {
		return nil, false
	}
	return m.games.Forfeit(gameID, socketID)
}

// Disconnect handles a transport-level drop: queue withdrawal plus implicit
// forfeit of whatever game the socket was playing.
func (m *MatchService) Disconnect(ctx context.Context, socketID string) (*domain.Game, bool) {
	m.queue.Withdraw(ctx, socketID)
	return m.games.ForfeitBySocket(socketID)
}

// Heartbeat refreshes the socket across queue, live games and presence.
func (m *MatchService) Heartbeat(ctx context.Context, socketID string, user *domain.UserRef) {
	m.queue.Touch(ctx, socketID)
	m.games.TouchHeartbeat(socketID)
	m.presence.Heartbeat(socketID, user)
}

// Challenge resolves a direct-challenge target to their socket.
func (m *MatchService) Challenge(toUserID string) (string, error) {
	target, ok := m.presence.ByUser(toUserID)
	if !ok {
		return "", domain.ErrPlayerOffline
	}
	return target.SocketID, nil
}

// ChallengeOutcome describes what the gateway should do after a challenge
// response.
type ChallengeOutcome struct {
	Action   string // "notify_reject", "start_game" or "none"
	Target   string // socket to notify on reject
	GameID   string
	Game     *domain.Game
	P1Socket string
	P2Socket string
}

// RespondChallenge handles accept/reject. Accepting starts a game with the
// challenger as player1; challenges always use the random question pool at
// the challenger's grade.
func (m *MatchService) RespondChallenge(ctx context.Context, fromUserID, toUserID, response, acceptorSocketID string) (ChallengeOutcome, error) {
	if response == "reject" {
		sender, ok := m.presence.ByUser(fromUserID)
		if !ok {
			return ChallengeOutcome{Action: "none"}, nil
		}
		return ChallengeOutcome{Action: "notify_reject", Target: sender.SocketID}, nil
	}

	sender, senderOK := m.presence.ByUser(fromUserID)
	acceptor, acceptorOK := m.presence.ByUser(toUserID)
	if !senderOK || !acceptorOK {
		return ChallengeOutcome{}, domain.ErrPlayerOffline
	}
	if acceptorSocketID == "" {
		acceptorSocketID = acceptor.SocketID
	}

	questions := m.questions.Draw(ctx, m.questionCount, sender.Grade, nil)
	if len(questions) == 0 {
		return ChallengeOutcome{}, domain.ErrNoQuestions
	}
	id, game := m.games.CreateGame(
		PlayerSeed{User: domain.UserRef{ID: sender.ID, Name: sender.Name, Grade: sender.Grade}, SocketID: sender.SocketID},
		PlayerSeed{User: domain.UserRef{ID: acceptor.ID, Name: acceptor.Name, Grade: acceptor.Grade}, SocketID: acceptorSocketID},
		questions,
	)
	return ChallengeOutcome{
		Action:   "start_game",
		GameID:   id,
		Game:     game,
		P1Socket: sender.SocketID,
		P2Socket: acceptorSocketID,
	}, nil
}

// Sweep runs the periodic eviction pass across all registries.
func (m *MatchService) Sweep(ctx context.Context, now time.Time) {
	m.queue.Sweep(ctx, now)
	m.presence.Sweep(now)
	m.games.Sweep(now)
}
