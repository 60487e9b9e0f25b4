package domain

import "errors"

var (
	// ErrGameNotFound is returned when no live game matches the given id.
	ErrGameNotFound = errors.New("game not found")
	// ErrNoQuestions indicates the question bank had nothing for the request.
	ErrNoQuestions = errors.New("no questions available")
	// ErrPlayerOffline indicates a challenge target has no presence entry.
	ErrPlayerOffline = errors.New("player is offline")
	// ErrAccountInUse indicates the same account is active on another socket.
	ErrAccountInUse = errors.New("account active on another device")
)
