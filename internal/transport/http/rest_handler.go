package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
)

// Notifier lets the polling endpoints push realtime events to participants
// who are connected over the channel. A nil notifier is valid; polling
// clients then learn about changes on their next poll.
type Notifier interface {
	SendTo(socketID, event string, payload any) bool
	BroadcastGame(game *domain.Game)
}

// RESTHandler is the polling equivalent of the realtime channel, for clients
// that cannot hold a websocket open. Socket bindings here are client-chosen
// tokens playing the same role the server-assigned ids do on the channel.
type RESTHandler struct {
	match    *app.MatchService
	games    *app.GameService
	presence *app.Presence
	notifier Notifier
}

func NewRESTHandler(match *app.MatchService, games *app.GameService, presence *app.Presence, notifier Notifier) *RESTHandler {
	return &RESTHandler{match: match, games: games, presence: presence, notifier: notifier}
}

// Register mounts all polling routes on the mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/game/find_match", h.handleFindMatch)
	mux.HandleFunc("/game/submit", h.handleSubmit)
	mux.HandleFunc("/game/leave", h.handleLeave)
	mux.HandleFunc("/game/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("/game/online-users", h.handleOnlineUsers)
	mux.HandleFunc("/game/challenge", h.handleChallenge)
	mux.HandleFunc("/game/challenge/respond", h.handleChallengeRespond)
	mux.HandleFunc("/game/reconnect", h.handleReconnect)
}

type findMatchRequest struct {
	User     domain.UserRef `json:"user"`
	SocketID string         `json:"socketId"`
}

func (h *RESTHandler) handleFindMatch(w http.ResponseWriter, r *http.Request) {
	var req findMatchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.User.ID == "" || req.User.Grade == 0 || req.SocketID == "" {
		writeError(w, http.StatusBadRequest, "missing user or socketId")
		return
	}

	outcome, err := h.match.FindMatch(r.Context(), req.User, req.SocketID)
	switch err {
	case nil:
	case domain.ErrAccountInUse:
		writeError(w, http.StatusForbidden, err.Error())
		return
	case domain.ErrNoQuestions:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, "matchmaking failed")
		return
	}

	if outcome.Status == "matched" && h.notifier != nil && outcome.OpponentSocketID != req.SocketID {
		// The waiting player may be on the realtime channel.
		h.notifier.SendTo(outcome.OpponentSocketID, "match_found", matchFoundPayload{
			GameID: outcome.GameID,
			Game:   outcome.Game,
			Role:   outcome.Role.Opponent(),
		})
	}
	writeJSON(w, http.StatusOK, outcome)
}

type submitRequest struct {
	GameID         string     `json:"gameId"`
	UserID         string     `json:"userId"`
	IsCorrect      bool       `json:"isCorrect"`
	QuestionIndex  int        `json:"questionIndex"`
	AnswerValue    flexString `json:"answerValue"`
	ElapsedSeconds float64    `json:"elapsedSeconds"`
	SocketID       string     `json:"socketId"`
}

type submitResponse struct {
	Success  bool         `json:"success"`
	Game     *domain.Game `json:"game"`
	GameOver bool         `json:"gameOver"`
	Winner   string       `json:"winner,omitempty"`
	Momentum int          `json:"momentum"`
}

func (h *RESTHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}

	game, ok := h.games.SubmitAnswer(req.GameID, req.UserID, req.IsCorrect,
		req.QuestionIndex, string(req.AnswerValue), req.ElapsedSeconds, req.SocketID)
	if !ok {
		writeError(w, http.StatusNotFound, "game not found or finished")
		return
	}
	if h.notifier != nil {
		h.notifier.BroadcastGame(game)
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success:  true,
		Game:     game,
		GameOver: game.Status == domain.StatusFinished,
		Winner:   game.Winner,
		Momentum: game.Momentum,
	})
}

type leaveRequest struct {
	SocketID string `json:"socketId"`
	GameID   string `json:"gameId"`
}

func (h *RESTHandler) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if !decode(w, r, &req) {
		return
	}
	game, forfeited := h.match.Leave(r.Context(), req.SocketID, req.GameID)
	if forfeited && h.notifier != nil {
		h.notifier.BroadcastGame(game)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type heartbeatRequest struct {
	SocketID string          `json:"socketId"`
	User     *domain.UserRef `json:"user"`
}

func (h *RESTHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SocketID != "" {
		h.match.Heartbeat(r.Context(), req.SocketID, req.User)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *RESTHandler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	grade := atoiDefault(r.URL.Query().Get("grade"), 0)
	userID := r.URL.Query().Get("userId")
	users := h.presence.ListOnline(grade, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

type challengeRequest struct {
	FromUser domain.UserRef `json:"fromUser"`
	ToUserID string         `json:"toUserId"`
}

func (h *RESTHandler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decode(w, r, &req) {
		return
	}
	targetSocket, err := h.match.Challenge(req.ToUserID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if h.notifier != nil {
		h.notifier.SendTo(targetSocket, "challenge_received", map[string]any{"fromUser": req.FromUser})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "targetSocketId": targetSocket})
}

type challengeRespondRequest struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Response   string `json:"response"`
	SocketID   string `json:"socketId"`
}

func (h *RESTHandler) handleChallengeRespond(w http.ResponseWriter, r *http.Request) {
	var req challengeRespondRequest
	if !decode(w, r, &req) {
		return
	}
	outcome, err := h.match.RespondChallenge(r.Context(), req.FromUserID, req.ToUserID, req.Response, req.SocketID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.notifier != nil {
		switch outcome.Action {
		case "notify_reject":
			h.notifier.SendTo(outcome.Target, "challenge_rejected", errorPayload{Message: "challenge rejected"})
		case "start_game":
			h.notifier.SendTo(outcome.P1Socket, "match_found", matchFoundPayload{GameID: outcome.GameID, Game: outcome.Game, Role: domain.RolePlayer1})
			h.notifier.SendTo(outcome.P2Socket, "match_found", matchFoundPayload{GameID: outcome.GameID, Game: outcome.Game, Role: domain.RolePlayer2})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  outcome.Action,
		"gameId":  outcome.GameID,
		"game":    outcome.Game,
	})
}

type reconnectRequest struct {
	GameID   string `json:"gameId"`
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

func (h *RESTHandler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req reconnectRequest
	if !decode(w, r, &req) {
		return
	}
	game, ok := h.games.Reconnect(req.GameID, req.UserID, req.SocketID)
	if !ok {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "game": game})
}

// decode reads a JSON body for the mutating routes; only POST carries one.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func atoiDefault(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
