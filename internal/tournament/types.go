// Package tournament runs single-elimination brackets of paired duels.
package tournament

import (
	"errors"
	"time"
)

// Pairing is one bracket slot. An empty Player2 is a bye and Player1
// advances without playing.
type Pairing struct {
	Round   int    `json:"round"`
	Slot    int    `json:"slot"`
	Player1 string `json:"player1,omitempty"`
	Player2 string `json:"player2,omitempty"`
	MatchID string `json:"match_id,omitempty"`
	Winner  string `json:"winner,omitempty"`
}

func (p *Pairing) Bye() bool { return p.Player2 == "" }

// Bracket is stored as JSON in redis under duel:tournament:<id>.
type Bracket struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	Rounds       int       `json:"rounds"`
	Round        int       `json:"round"`
	Pairings     []Pairing `json:"pairings"`
	Champion     string    `json:"champion,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	ErrNotFound        = errors.New("tournament not found")
	ErrTooFewPlayers   = errors.New("tournament needs at least two players")
	ErrDuplicatePlayer = errors.New("player listed twice")
	ErrUnknownMatch    = errors.New("match is not part of the current round")
	ErrNotInPairing    = errors.New("winner did not play in this pairing")
)
