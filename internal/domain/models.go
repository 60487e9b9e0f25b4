package domain

import (
	"strconv"
	"strings"
	"time"
)

// AnswerKind discriminates how a question's correct answer is represented.
type AnswerKind int

const (
	// AnswerIndexed means correctness is index membership in the option list.
	AnswerIndexed AnswerKind = iota
	// AnswerLiteral means correctness is exact string equality after trimming.
	AnswerLiteral
)

// AnswerKey is the resolved correct answer for a question. It is built once
// when a question is ingested; submissions never re-parse question structure.
type AnswerKey struct {
	Kind    AnswerKind `json:"kind"`
	Indices []int      `json:"indices,omitempty"`
	Literal string     `json:"literal,omitempty"`
}

// IndexedAnswer builds a key for a multiple-choice question.
func IndexedAnswer(indices ...int) AnswerKey {
	return AnswerKey{Kind: AnswerIndexed, Indices: indices}
}

// LiteralAnswer builds a key for an open/numeric question.
func LiteralAnswer(value string) AnswerKey {
	return AnswerKey{Kind: AnswerLiteral, Literal: value}
}

// Matches reports whether a raw submitted value is correct. For indexed keys
// the value may be the option index or the option text itself.
func (k AnswerKey) Matches(raw string, options []string) bool {
	value := strings.TrimSpace(raw)
	switch k.Kind {
	case AnswerIndexed:
		if n, err := strconv.Atoi(value); err == nil {
			for _, idx := range k.Indices {
				if idx == n {
					return true
				}
			}
			return false
		}
		for _, idx := range k.Indices {
			if idx >= 0 && idx < len(options) && options[idx] == value {
				return true
			}
		}
		return false
	case AnswerLiteral:
		return value == strings.TrimSpace(k.Literal)
	}
	return false
}

// Question is immutable once issued to a game: the game holds its own copy,
// so bank edits never affect matches in flight. The answer key carries no
// JSON tag value clients can use; correctness is always recomputed here.
type Question struct {
	ID            string    `json:"id,omitempty"`
	Prompt        string    `json:"q"`
	Options       []string  `json:"options,omitempty"`
	Answer        AnswerKey `json:"-"`
	Difficulty    int       `json:"-"`
	AllowedGrades []int     `json:"-"`
	Generated     bool      `json:"generated,omitempty"`
}

// QuestionDoc is the storage/wire form of a bank question. The bank stores
// the primary answer index in "a", optionally a full index set in "answers",
// and open questions carry a correctValue with no options at all.
type QuestionDoc struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"q"`
	Options       []string `json:"options"`
	Answer        int      `json:"a"`
	Answers       []int    `json:"answers"`
	Value         string   `json:"correctValue"`
	Difficulty    int      `json:"difficulty"`
	AllowedGrades []int    `json:"allowedGrades"`
}

// Question resolves the document into a domain question with a tagged answer
// key. Ingestion is the only place the raw answer shape is interpreted.
func (d QuestionDoc) Question() Question {
	q := Question{
		ID:            d.ID,
		Prompt:        d.Prompt,
		Options:       d.Options,
		Difficulty:    d.Difficulty,
		AllowedGrades: d.AllowedGrades,
	}
	switch {
	case len(d.Options) > 0 && len(d.Answers) > 0:
		q.Answer = IndexedAnswer(d.Answers...)
	case len(d.Options) > 0:
		q.Answer = IndexedAnswer(d.Answer)
	case d.Value != "":
		q.Answer = LiteralAnswer(d.Value)
	default:
		q.Answer = LiteralAnswer(strconv.Itoa(d.Answer))
	}
	return q
}

// Role identifies a player's slot within a game.
type Role string

const (
	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"
)

// Index maps a role to its slot in Game.Players.
func (r Role) Index() int {
	if r == RolePlayer2 {
		return 1
	}
	return 0
}

// Opponent returns the other slot's role.
func (r Role) Opponent() Role {
	if r == RolePlayer1 {
		return RolePlayer2
	}
	return RolePlayer1
}

// GameStatus is monotonic: playing -> finished, never back.
type GameStatus string

const (
	StatusPlaying  GameStatus = "playing"
	StatusFinished GameStatus = "finished"
)

// WinnerDraw is the winner value for a tied game.
const WinnerDraw = "draw"

// UserRef identifies a player as supplied by the client.
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Grade     int    `json:"grade"`
	SubjectID *int   `json:"subjectId,omitempty"`
}

// Player is a participant in a game plus their accumulated stats. Mutated
// only by the game service in response to validated submissions.
type Player struct {
	UserID        string     `json:"userId"`
	Name          string     `json:"name"`
	Grade         int        `json:"grade"`
	SocketID      string     `json:"socketId"`
	Score         int        `json:"score"`
	AnsweredCount int        `json:"answeredCount"`
	CorrectCount  int        `json:"correctCount"`
	LastSeen      time.Time  `json:"lastSeen"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// AnswerRecord is one scored submission in a player's answer log.
type AnswerRecord struct {
	Correct        bool    `json:"correct"`
	RawValue       string  `json:"value"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// Game is the authoritative unit for one 1v1 match. Momentum is a tug-of-war
// indicator in [0,100]; 50 is center and player1's side is the high end.
type Game struct {
	ID        string            `json:"id"`
	Players   [2]*Player        `json:"players"`
	Status    GameStatus        `json:"status"`
	Questions []Question        `json:"questions"`
	Momentum  int               `json:"momentum"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"-"`
	Winner    string            `json:"winner,omitempty"`
	AnswerLog [2][]AnswerRecord `json:"answerLog"`
}

// RoleOf resolves a user id to their role, or ok=false for non-participants.
func (g *Game) RoleOf(userID string) (Role, bool) {
	switch userID {
	case g.Players[0].UserID:
		return RolePlayer1, true
	case g.Players[1].UserID:
		return RolePlayer2, true
	}
	return "", false
}

// Clone returns a deep copy safe to hand to callers while the original keeps
// being mutated under the service lock.
func (g *Game) Clone() *Game {
	clone := *g
	for i, p := range g.Players {
		cp := *p
		if p.FinishedAt != nil {
			t := *p.FinishedAt
			cp.FinishedAt = &t
		}
		clone.Players[i] = &cp
	}
	clone.Questions = append([]Question(nil), g.Questions...)
	for i := range g.AnswerLog {
		clone.AnswerLog[i] = append([]AnswerRecord(nil), g.AnswerLog[i]...)
	}
	return &clone
}

// QueueEntry is a waiting matchmaking request.
type QueueEntry struct {
	User     UserRef   `json:"user"`
	SocketID string    `json:"socketId"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineUser is a presence record, refreshed by heartbeats. It is used only
// for challenge targeting and roster queries, never for session membership.
type OnlineUser struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Grade    int       `json:"grade"`
	SocketID string    `json:"socketId"`
	LastSeen time.Time `json:"lastSeen"`
}

// RosterEntry is the public view of an online user.
type RosterEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grade int    `json:"grade"`
}

// MatchReport is the fire-and-forget result payload sent to the profile
// service once a game finishes.
type MatchReport struct {
	Player1ID string `json:"player1Id"`
	Player2ID string `json:"player2Id"`
	WinnerID  string `json:"winnerId"`
	LoserID   string `json:"loserId,omitempty"`
	IsDraw    bool   `json:"isDraw"`
	P1Score   int    `json:"p1Score"`
	P2Score   int    `json:"p2Score"`
}

// Effect is a pending side effect produced by a state transition. The state
// machine returns effects instead of performing outbound calls so it stays
// unit-testable without network mocking.
type Effect struct {
	Report *MatchReport
}
