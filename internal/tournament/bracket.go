package tournament

import (
	"fmt"
	"strings"
	"time"
)

// NewBracket seeds participants in the given order. The field is padded to a
// power of two; the top seeds receive the byes.
func NewBracket(id, name string, participants []string, now time.Time) (*Bracket, error) {
	seen := make(map[string]struct{}, len(participants))
	seeds := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%s: %w", p, ErrDuplicatePlayer)
		}
		seen[p] = struct{}{}
		seeds = append(seeds, p)
	}
	if len(seeds) < 2 {
		return nil, ErrTooFewPlayers
	}

	size, rounds := 1, 0
	for size < len(seeds) {
		size <<= 1
		rounds++
	}
	b := &Bracket{
		ID:           id,
		Name:         strings.TrimSpace(name),
		Participants: seeds,
		Rounds:       rounds,
		Round:        1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// seed i meets seed size-1-i
	for slot := 0; slot < size/2; slot++ {
		p := Pairing{Round: 1, Slot: slot, Player1: seeds[slot]}
		if j := size - 1 - slot; j < len(seeds) {
			p.Player2 = seeds[j]
		} else {
			p.Winner = p.Player1
		}
		b.Pairings = append(b.Pairings, p)
	}
	b.advance(now)
	return b, nil
}

// Current returns the pairings of the round in play.
func (b *Bracket) Current() []*Pairing {
	return b.roundPairings(b.Round)
}

func (b *Bracket) roundPairings(round int) []*Pairing {
	var out []*Pairing
	for i := range b.Pairings {
		if b.Pairings[i].Round == round {
			out = append(out, &b.Pairings[i])
		}
	}
	return out
}

// Pending lists current pairings that still need a duel.
func (b *Bracket) Pending() []*Pairing {
	var out []*Pairing
	for _, p := range b.Current() {
		if p.Winner == "" && p.MatchID == "" {
			out = append(out, p)
		}
	}
	return out
}

func (b *Bracket) Finished() bool { return b.Champion != "" }

// Assign links a duel to a pairing of the current round.
func (b *Bracket) Assign(slot int, matchID string) bool {
	for _, p := range b.Current() {
		if p.Slot == slot && p.MatchID == "" && p.Winner == "" {
			p.MatchID = matchID
			return true
		}
	}
	return false
}

// Record stores the result of a duel. A drawn duel (empty winnerID) goes to
// the higher seed, Player1. Recording an already decided pairing is a no-op
// and reports false. Completing a round pairs its winners for the next one.
func (b *Bracket) Record(matchID, winnerID string, now time.Time) (bool, error) {
	var target *Pairing
	for _, p := range b.Current() {
		if p.MatchID != "" && p.MatchID == matchID {
			target = p
			break
		}
	}
	if target == nil {
		return false, ErrUnknownMatch
	}
	if target.Winner != "" {
		return false, nil
	}
	switch winnerID {
	case "":
		winnerID = target.Player1
	case target.Player1, target.Player2:
	default:
		return false, ErrNotInPairing
	}
	target.Winner = winnerID
	b.advance(now)
	return true, nil
}

// advance closes every fully decided round, building the next one or naming
// the champion.
func (b *Bracket) advance(now time.Time) {
	b.UpdatedAt = now
	for b.Champion == "" {
		cur := b.Current()
		for _, p := range cur {
			if p.Winner == "" {
				return
			}
		}
		if len(cur) == 1 {
			b.Champion = cur[0].Winner
			return
		}
		next := b.Round + 1
		for slot := 0; slot < len(cur)/2; slot++ {
			b.Pairings = append(b.Pairings, Pairing{
				Round:   next,
				Slot:    slot,
				Player1: cur[2*slot].Winner,
				Player2: cur[2*slot+1].Winner,
			})
		}
		b.Round = next
	}
}
