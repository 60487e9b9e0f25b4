package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func newTestStack() (*WSHandler, *app.MatchService, *app.GameService, *app.Presence) {
	games := app.NewGameService(nil)
	presence := app.NewPresence()
	drawer := app.NewQuestionDrawer(nil, time.Minute)
	match := app.NewMatchService(memory.NewQueue(), drawer, games, presence, 10)
	return NewWSHandler(match, games), match, games, presence
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func TestWebSocketMatchAndAnswerFlow(t *testing.T) {
	wsHandler, _, _, _ := newTestStack()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	alice := dialWS(t, server)
	bob := dialWS(t, server)

	_, connected := readNext(alice, t, "connected")
	if connected["socketId"] == "" {
		t.Fatalf("expected socket id in connected payload")
	}
	readNext(bob, t, "connected")

	findMatch := func(conn *websocket.Conn, id, name string) {
		msg := map[string]any{
			"type": "find_match",
			"payload": map[string]any{
				"user": map[string]any{"id": id, "name": name, "grade": 3},
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write find_match: %v", err)
		}
	}

	findMatch(alice, "u1", "Alice")
	readNext(alice, t, "match_waiting")

	findMatch(bob, "u2", "Bob")
	_, found := readNext(bob, t, "match_found")
	gameID, _ := found["gameId"].(string)
	if gameID == "" {
		t.Fatalf("expected game id, got %+v", found)
	}
	if found["yourRole"] != "player1" {
		t.Fatalf("searcher should be player1, got %v", found["yourRole"])
	}

	// The waiting player is notified on their socket too.
	_, found = readNext(alice, t, "match_found")
	if found["yourRole"] != "player2" {
		t.Fatalf("waiter should be player2, got %v", found["yourRole"])
	}

	game, ok := found["game"].(map[string]any)
	if !ok {
		t.Fatalf("expected game snapshot in payload")
	}
	questions, _ := game["questions"].([]any)
	if len(questions) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(questions))
	}
	first, _ := questions[0].(map[string]any)
	prompt, _ := first["q"].(string)

	submit := map[string]any{
		"type": "submit_answer",
		"payload": map[string]any{
			"gameId":         gameID,
			"userId":         "u2",
			"isCorrect":      true,
			"questionIndex":  0,
			"answerValue":    solveArithmetic(t, prompt),
			"elapsedSeconds": 1.5,
		},
	}
	if err := bob.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	// Both players see the update; the submitter is player1 so momentum moves
	// to their side of the rope.
	sawMomentum := false
	for i := 0; i < 2; i++ {
		typ, payload := readNext(bob, t, "")
		if typ == "momentum_update" {
			sawMomentum = true
			if payload["momentum"].(float64) != 55 {
				t.Fatalf("expected momentum 55, got %v", payload["momentum"])
			}
		}
	}
	if !sawMomentum {
		t.Fatalf("expected momentum_update after submit")
	}
	readNext(alice, t, "game_update")
}

func TestWebSocketDisconnectForfeitsGame(t *testing.T) {
	wsHandler, _, games, _ := newTestStack()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	alice := dialWS(t, server)
	bob := dialWS(t, server)
	readNext(alice, t, "connected")
	readNext(bob, t, "connected")

	find := func(conn *websocket.Conn, id string) {
		conn.WriteJSON(map[string]any{
			"type":    "find_match",
			"payload": map[string]any{"user": map[string]any{"id": id, "name": id, "grade": 3}},
		})
	}
	find(alice, "u1")
	readNext(alice, t, "match_waiting")
	find(bob, "u2")
	_, found := readNext(bob, t, "match_found")
	gameID := found["gameId"].(string)
	readNext(alice, t, "match_found")

	bob.Close()

	// Alice gets told the game ended in her favor.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("never saw game_over")
		}
		typ, payload := readNext(alice, t, "")
		if typ == "game_over" {
			if payload["winner"] != "u1" {
				t.Fatalf("expected u1 to win by forfeit, got %v", payload["winner"])
			}
			break
		}
	}

	game, _ := games.Get(gameID)
	if game == nil || game.Winner != "u1" {
		t.Fatalf("expected forfeit recorded, got %+v", game)
	}
}

func TestWebSocketChallengeFlow(t *testing.T) {
	wsHandler, _, _, _ := newTestStack()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	alice := dialWS(t, server)
	bob := dialWS(t, server)
	readNext(alice, t, "connected")
	readNext(bob, t, "connected")

	heartbeat := func(conn *websocket.Conn, id, name string) {
		conn.WriteJSON(map[string]any{
			"type":    "heartbeat",
			"payload": map[string]any{"user": map[string]any{"id": id, "name": name, "grade": 3}},
		})
	}
	heartbeat(alice, "u1", "Alice")
	heartbeat(bob, "u2", "Bob")

	// Heartbeats have no reply; give them a moment to land before challenging.
	time.Sleep(100 * time.Millisecond)

	alice.WriteJSON(map[string]any{
		"type": "send_challenge",
		"payload": map[string]any{
			"fromUser": map[string]any{"id": "u1", "name": "Alice", "grade": 3},
			"toUserId": "u2",
		},
	})
	_, received := readNext(bob, t, "challenge_received")
	from, _ := received["fromUser"].(map[string]any)
	if from["id"] != "u1" {
		t.Fatalf("expected challenge from u1, got %+v", received)
	}

	bob.WriteJSON(map[string]any{
		"type": "respond_challenge",
		"payload": map[string]any{
			"fromUserId": "u1",
			"toUserId":   "u2",
			"response":   "accept",
		},
	})
	_, found := readNext(bob, t, "match_found")
	if found["yourRole"] != "player2" {
		t.Fatalf("accepter should be player2, got %v", found["yourRole"])
	}
	_, found = readNext(alice, t, "match_found")
	if found["yourRole"] != "player1" {
		t.Fatalf("challenger should be player1, got %v", found["yourRole"])
	}
}

// solveArithmetic evaluates a generated prompt like "7 × 8 = ?" so the test
// can submit a genuinely correct answer.
func solveArithmetic(t *testing.T, prompt string) string {
	t.Helper()
	var a, b int
	var op string
	if _, err := fmt.Sscanf(prompt, "%d %s %d = ?", &a, &op, &b); err != nil {
		t.Fatalf("unparseable prompt %q: %v", prompt, err)
	}
	var result int
	switch op {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "×":
		result = a * b
	case "÷":
		result = a / b
	default:
		t.Fatalf("unknown operator in %q", prompt)
	}
	return strconv.Itoa(result)
}

func TestWebSocketRejectsUnknownEvent(t *testing.T) {
	wsHandler, _, _, _ := newTestStack()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialWS(t, server)
	readNext(conn, t, "connected")

	conn.WriteJSON(map[string]any{"type": "no_such_event"})
	_, payload := readNext(conn, t, "error")
	if payload["message"] == "" {
		t.Fatalf("expected error message")
	}
}
