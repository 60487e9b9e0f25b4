package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler terminates the realtime channel. It translates inbound events
// into match/game service calls and fans resulting state changes out to both
// participants' sockets.
type WSHandler struct {
	match    *app.MatchService
	games    *app.GameService
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]chan outboundMessage
}

func NewWSHandler(match *app.MatchService, games *app.GameService) *WSHandler {
	return &WSHandler{
		match: match,
		games: games,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]chan outboundMessage),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// flexString accepts JSON strings and numbers; clients send answer values in
// whichever shape their input widget produced.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("value must be a string or number")
}

type findMatchPayload struct {
	User domain.UserRef `json:"user"`
}

type submitPayload struct {
	GameID         string     `json:"gameId"`
	UserID         string     `json:"userId"`
	IsCorrect      bool       `json:"isCorrect"`
	QuestionIndex  int        `json:"questionIndex"`
	AnswerValue    flexString `json:"answerValue"`
	ElapsedSeconds float64    `json:"elapsedSeconds"`
}

type heartbeatPayload struct {
	User *domain.UserRef `json:"user"`
}

type challengePayload struct {
	FromUser domain.UserRef `json:"fromUser"`
	ToUserID string         `json:"toUserId"`
}

type challengeResponsePayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Response   string `json:"response"`
}

type reconnectPayload struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}

type matchFoundPayload struct {
	GameID string       `json:"gameId"`
	Game   *domain.Game `json:"game"`
	Role   domain.Role  `json:"yourRole"`
}

// ServeWS upgrades the request, assigns the connection its socket id and runs
// the event loop until the client drops.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	socketID := newSocketID()
	send := make(chan outboundMessage, 16)
	h.register(socketID, send)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	h.sendTo(socketID, "connected", map[string]string{"socketId": socketID})

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleEvent(ctx, socketID, inbound)
	}

	// A transport drop is an implicit forfeit signal for whatever game the
	// socket was playing, and removes it from the queue.
	if game, ok := h.match.Disconnect(context.Background(), socketID); ok {
		h.BroadcastGame(game)
	}

	// Unregister closes the send channel, which is what lets the writer exit.
	h.unregister(socketID)
	<-writerDone
}

func (h *WSHandler) handleEvent(ctx context.Context, socketID string, inbound inboundMessage) {
	switch inbound.Type {
	case "find_match":
		var payload findMatchPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: "invalid find_match payload"})
			return
		}
		h.handleFindMatch(ctx, socketID, payload.User)

	case "submit_answer":
		var payload submitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: "invalid submit payload"})
			return
		}
		game, ok := h.games.SubmitAnswer(payload.GameID, payload.UserID, payload.IsCorrect,
			payload.QuestionIndex, string(payload.AnswerValue), payload.ElapsedSeconds, socketID)
		if !ok {
			h.sendTo(socketID, "error", errorPayload{Message: "game not found"})
			return
		}
		h.BroadcastGame(game)

	case "heartbeat":
		var payload heartbeatPayload
		_ = json.Unmarshal(inbound.Payload, &payload)
		h.match.Heartbeat(ctx, socketID, payload.User)

	case "send_challenge":
		var payload challengePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: "invalid challenge payload"})
			return
		}
		targetSocket, err := h.match.Challenge(payload.ToUserID)
		if err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: err.Error()})
			return
		}
		h.sendTo(targetSocket, "challenge_received", map[string]any{"fromUser": payload.FromUser})

	case "respond_challenge":
		var payload challengeResponsePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: "invalid challenge response"})
			return
		}
		outcome, err := h.match.RespondChallenge(ctx, payload.FromUserID, payload.ToUserID, payload.Response, socketID)
		if err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: err.Error()})
			return
		}
		switch outcome.Action {
		case "notify_reject":
			h.sendTo(outcome.Target, "challenge_rejected", errorPayload{Message: "challenge rejected"})
		case "start_game":
			h.sendTo(outcome.P1Socket, "match_found", matchFoundPayload{GameID: outcome.GameID, Game: outcome.Game, Role: domain.RolePlayer1})
			h.sendTo(outcome.P2Socket, "match_found", matchFoundPayload{GameID: outcome.GameID, Game: outcome.Game, Role: domain.RolePlayer2})
		}

	case "reconnect_socket":
		var payload reconnectPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			h.sendTo(socketID, "error", errorPayload{Message: "invalid reconnect payload"})
			return
		}
		if game, ok := h.games.Reconnect(payload.GameID, payload.UserID, socketID); ok {
			// Catch the returning client up on authoritative state.
			h.sendTo(socketID, "game_update", game)
		}

	default:
		h.sendTo(socketID, "error", errorPayload{Message: "unsupported message type"})
	}
}

func (h *WSHandler) handleFindMatch(ctx context.Context, socketID string, user domain.UserRef) {
	outcome, err := h.match.FindMatch(ctx, user, socketID)
	switch err {
	case nil:
	case domain.ErrAccountInUse:
		h.sendTo(socketID, "error", errorPayload{Message: err.Error()})
		return
	case domain.ErrNoQuestions:
		h.sendTo(socketID, "error", errorPayload{Message: err.Error()})
		return
	default:
		h.sendTo(socketID, "error", errorPayload{Message: "matchmaking failed"})
		return
	}

	if outcome.Status != "matched" {
		h.sendTo(socketID, "match_waiting", errorPayload{Message: "searching for an opponent"})
		return
	}

	h.sendTo(socketID, "match_found", matchFoundPayload{GameID: outcome.GameID, Game: outcome.Game, Role: outcome.Role})
	if outcome.OpponentSocketID != socketID {
		if !h.sendTo(outcome.OpponentSocketID, "match_found", matchFoundPayload{
			GameID: outcome.GameID,
			Game:   outcome.Game,
			Role:   outcome.Role.Opponent(),
		}) {
			// Opponent may be a polling client with no live socket; they will
			// pick the game up on their next find_match poll.
			log.Printf("opponent socket %s not connected for game %s", outcome.OpponentSocketID, outcome.GameID)
		}
	}
}

// BroadcastGame pushes the authoritative snapshot to both participants:
// the full state, the momentum for the rope animation, and the terminal
// winner event when the game just finished.
func (h *WSHandler) BroadcastGame(game *domain.Game) {
	if game == nil {
		return
	}
	for _, player := range game.Players {
		h.sendTo(player.SocketID, "game_update", game)
		h.sendTo(player.SocketID, "momentum_update", map[string]int{"momentum": game.Momentum})
		if game.Status == domain.StatusFinished {
			h.sendTo(player.SocketID, "game_over", map[string]string{"winner": game.Winner})
		}
	}
}

// SendTo delivers a single event to one socket; reports whether the socket
// has a live connection.
func (h *WSHandler) SendTo(socketID, event string, payload any) bool {
	return h.sendTo(socketID, event, payload)
}

func (h *WSHandler) sendTo(socketID, event string, payload any) bool {
	h.mu.RLock()
	send, ok := h.conns[socketID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case send <- outboundMessage{Type: event, Payload: payload}:
	default:
		// Slow client: drop the oldest queued message to keep latest state flowing.
		select {
		case <-send:
		default:
		}
		select {
		case send <- outboundMessage{Type: event, Payload: payload}:
		default:
		}
	}
	return true
}

func (h *WSHandler) register(socketID string, send chan outboundMessage) {
	h.mu.Lock()
	h.conns[socketID] = send
	h.mu.Unlock()
}

func (h *WSHandler) unregister(socketID string) {
	h.mu.Lock()
	send, ok := h.conns[socketID]
	if ok {
		delete(h.conns, socketID)
		close(send)
	}
	h.mu.Unlock()
}

func newSocketID() string {
	return fmt.Sprintf("ws-%08x%08x", rand.Uint32(), rand.Uint32())
}
