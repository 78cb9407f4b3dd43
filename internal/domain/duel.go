package domain

import "time"

// MatchStatus is the authority-side lifecycle of a duel row.
type MatchStatus string

const (
	MatchWaiting   MatchStatus = "waiting"
	MatchActive    MatchStatus = "active"
	MatchFinished  MatchStatus = "finished"
	MatchCancelled MatchStatus = "cancelled"
)

type MatchMode string

const (
	ModePvP        MatchMode = "pvp"
	ModeBot        MatchMode = "bot"
	ModeTournament MatchMode = "tournament"
)

// Match is one duel as the remote authority stores it. Every committed change
// bumps Version; clients use it to drop stale change notifications.
type Match struct {
	ID           string
	Mode         MatchMode
	Status       MatchStatus
	ProblemIDs   []string
	TournamentID string

	Player1ID       string
	Player1Name     string
	Player1Rating   int
	Player1Score    int
	Player1Progress int
	Player1LastSeen time.Time

	Player2ID       string
	Player2Name     string
	Player2Rating   int
	Player2Score    int
	Player2Progress int
	Player2LastSeen time.Time

	WinnerID     string
	EndReason    string
	Player1Delta int
	Player2Delta int

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Side returns the per-player view of m for playerID; ok is false when the
// player is not a participant.
func (m *Match) Side(playerID string) (self, opponent PlayerSide, ok bool) {
	p1 := PlayerSide{ID: m.Player1ID, Name: m.Player1Name, Rating: m.Player1Rating, Score: m.Player1Score, Progress: m.Player1Progress, LastSeen: m.Player1LastSeen, Delta: m.Player1Delta}
	p2 := PlayerSide{ID: m.Player2ID, Name: m.Player2Name, Rating: m.Player2Rating, Score: m.Player2Score, Progress: m.Player2Progress, LastSeen: m.Player2LastSeen, Delta: m.Player2Delta}
	switch playerID {
	case "":
		return PlayerSide{}, PlayerSide{}, false
	case m.Player1ID:
		return p1, p2, true
	case m.Player2ID:
		return p2, p1, true
	}
	return PlayerSide{}, PlayerSide{}, false
}

// OpponentOf returns the other participant's id, or "" for non-participants.
func (m *Match) OpponentOf(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

type PlayerSide struct {
	ID       string
	Name     string
	Rating   int
	Score    int
	Progress int
	LastSeen time.Time
	Delta    int
}

// Problem is a catalog entry; Answer is the canonical answer string.
type Problem struct {
	ID         string
	Topic      string
	Difficulty int
	Prompt     string
	Answer     string
}

// MoveAck is the authority's confirmation of one submitted move.
type MoveAck struct {
	MatchID   string
	PlayerID  string
	Score     int
	Progress  int
	Status    MatchStatus
	Duplicate bool
	Version   int64
}

// Profile is a player's rating record.
type Profile struct {
	PlayerID      string
	Name          string
	Rating        int
	MatchesPlayed int
	Wins          int
	Losses        int
	Draws         int
	UpdatedAt     time.Time
}

// Calibrated reports whether the provisional calibration series is over.
func (p *Profile) Calibrated(series int) bool { return p.MatchesPlayed >= series }

type LeaderboardEntry struct {
	Rank     int
	PlayerID string
	Name     string
	Rating   int
}

// Player identifies a participant when entering matchmaking.
type Player struct {
	ID     string
	Name   string
	Rating int
}

// Done reports whether both participants answered every problem.
func (m *Match) Done() bool {
	n := len(m.ProblemIDs)
	return n > 0 && m.Player1Progress >= n && m.Player2Progress >= n
}
