// Package bot simulates an opponent when no human joins a duel in time.
package bot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Tier bounds the pace and accuracy of a simulated opponent.
type Tier struct {
	Name      string
	MaxRating int // exclusive upper bound of player ratings served; 0 = unbounded
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Accuracy  float64

	// ApproxRating is what the authority rates the bot as.
	ApproxRating int
}

var tiers = []Tier{
	{Name: "novice", MaxRating: 900, MinDelay: 9 * time.Second, MaxDelay: 16 * time.Second, Accuracy: 0.45, ApproxRating: 800},
	{Name: "apprentice", MaxRating: 1200, MinDelay: 7 * time.Second, MaxDelay: 13 * time.Second, Accuracy: 0.6, ApproxRating: 1050},
	{Name: "adept", MaxRating: 1500, MinDelay: 5 * time.Second, MaxDelay: 10 * time.Second, Accuracy: 0.75, ApproxRating: 1350},
	{Name: "master", MinDelay: 3 * time.Second, MaxDelay: 7 * time.Second, Accuracy: 0.9, ApproxRating: 1650},
}

// TierFor picks the tier for a player rating: lower ratings face slower,
// less accurate bots.
func TierFor(rating int) Tier {
	for _, t := range tiers {
		if t.MaxRating == 0 || rating < t.MaxRating {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

func TierByName(name string) (Tier, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

func Tiers() []Tier { return append([]Tier(nil), tiers...) }

func ValidateTier(t Tier) error {
	if t.MinDelay <= 0 || t.MaxDelay < t.MinDelay {
		return fmt.Errorf("tier %s: invalid delay bounds %s..%s", t.Name, t.MinDelay, t.MaxDelay)
	}
	if t.Accuracy < 0 || t.Accuracy > 1 {
		return fmt.Errorf("tier %s: accuracy %.2f out of range", t.Name, t.Accuracy)
	}
	return nil
}

// Seed derives a stable random seed from the duel id.
func Seed(duelID string) int64 {
	sum := sha256.Sum256([]byte(duelID))
	return int64(binary.BigEndian.Uint64(sum[:8]) & 0x7fffffffffffffff)
}

// PlayerID is the participant id the authority records for the bot of a duel.
func PlayerID(duelID string) string { return "bot:" + strings.TrimSpace(duelID) }

func IsBotID(playerID string) bool { return strings.HasPrefix(playerID, "bot:") }

var names = []string{
	"Archimedes", "Hypatia", "Euler", "Noether", "Gauss",
	"Lovelace", "Ramanujan", "Fibonacci", "Descartes", "Pascal",
	"Kovalevskaya", "Turing", "Riemann", "Germain", "Cantor",
	"Fermat",
}

// Name maps a duel id to a display name with a 31-multiplier string hash, so
// reconnecting to the same duel shows the same opponent.
func Name(duelID string) string {
	var h int32
	for _, r := range duelID {
		h = h*31 + int32(r)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return names[n%int64(len(names))]
}
