package domain

import "errors"

// Authority-level failures. The RPC boundary carries them as dueldto.Error
// codes and both sides map them back to these values.
var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchFinished  = errors.New("match already finished")
	ErrMatchFull      = errors.New("match already has two participants")
	ErrSelfJoin       = errors.New("cannot join own match")
	ErrNotParticipant = errors.New("player is not a participant")
	ErrInvalidState   = errors.New("match is not in a valid state for this operation")
	ErrInvalidMove    = errors.New("invalid move")
	ErrOpponentAlive  = errors.New("opponent is still connected")
	ErrInvalidArgs    = errors.New("invalid arguments")
)
